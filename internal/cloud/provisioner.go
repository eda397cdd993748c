package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"golang.org/x/time/rate"
)

const (
	// S3ReadOnlyPolicyARN lets the cluster read COPY sources.
	S3ReadOnlyPolicyARN = "arn:aws:iam::aws:policy/AmazonS3ReadOnlyAccess"

	StatusAvailable = "available"
	StatusDeleted   = "deleted"

	singleNode = "single-node"
	multiNode  = "multi-node"
	anyIPv4    = "0.0.0.0/0"
)

// Params describes the cluster to provision.
type Params struct {
	Identifier  string
	ClusterType string
	NodeType    string
	NumNodes    int
	DBName      string
	DBUser      string
	DBPassword  string
	Port        int
	RoleName    string
}

// ParamsFromConfig reads [Params] from the cluster and iam_role sections.
func ParamsFromConfig(cfg *shared.Config) Params {
	return Params{
		Identifier:  cfg.Cluster.Identifier,
		ClusterType: cfg.Cluster.ClusterType,
		NodeType:    cfg.Cluster.NodeType,
		NumNodes:    cfg.Cluster.NumNodes,
		DBName:      cfg.Cluster.DBName,
		DBUser:      cfg.Cluster.DBUser,
		DBPassword:  cfg.Cluster.DBPassword,
		Port:        cfg.Cluster.Port,
		RoleName:    cfg.IAMRole.Name,
	}
}

// SingleNode reports whether the cluster should be created as single-node.
func (p Params) SingleNode() bool {
	return p.NumNodes <= 1 || p.ClusterType == singleNode
}

// ClusterInfo is what callers need to connect to a cluster.
type ClusterInfo struct {
	Identifier    string `json:"identifier"`
	Status        string `json:"status"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	RoleARN       string `json:"role_arn"`
	SecurityGroup string `json:"security_group"`
	VPCID         string `json:"vpc_id"`
	NodeType      string `json:"node_type"`
	NumNodes      int    `json:"num_nodes"`
	DBName        string `json:"db_name"`
	DBUser        string `json:"db_user"`
}

// Available reports whether the cluster accepts connections.
func (c ClusterInfo) Available() bool {
	return c.Status == StatusAvailable && c.Host != ""
}

// ProvisionerOpts configures a [Provisioner].
type ProvisionerOpts struct {
	PollInterval time.Duration
	WaitTimeout  time.Duration
	Logger       *log.Logger
}

// Provisioner creates and deletes the cluster with its role and ingress rule.
//
// Every step is idempotent: entities that already exist are reused.
type Provisioner struct {
	iam          IAMAPI
	redshift     RedshiftAPI
	ec2          EC2API
	pollInterval time.Duration
	waitTimeout  time.Duration
	logger       *log.Logger
}

// NewProvisioner creates a [Provisioner] over the given clients.
func NewProvisioner(iamClient IAMAPI, redshiftClient RedshiftAPI, ec2Client EC2API, opts ProvisionerOpts) *Provisioner {
	p := &Provisioner{
		iam:          iamClient,
		redshift:     redshiftClient,
		ec2:          ec2Client,
		pollInterval: opts.PollInterval,
		waitTimeout:  opts.WaitTimeout,
		logger:       opts.Logger,
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 15 * time.Second
	}
	if p.waitTimeout <= 0 {
		p.waitTimeout = 30 * time.Minute
	}
	if p.logger == nil {
		p.logger = shared.NewLogger(io.Discard)
	}
	return p
}

// NewProvisionerFromConfig builds SDK clients from awsCfg.
func NewProvisionerFromConfig(awsCfg aws.Config, opts ProvisionerOpts) *Provisioner {
	return NewProvisioner(iam.NewFromConfig(awsCfg), redshift.NewFromConfig(awsCfg), ec2.NewFromConfig(awsCfg), opts)
}

type trustPolicy struct {
	Version   string           `json:"Version"`
	Statement []trustStatement `json:"Statement"`
}

type trustStatement struct {
	Effect    string            `json:"Effect"`
	Action    string            `json:"Action"`
	Principal map[string]string `json:"Principal"`
}

// TrustPolicy returns the assume-role policy letting Redshift use the role.
func TrustPolicy() string {
	doc, _ := json.Marshal(trustPolicy{
		Version: "2012-10-17",
		Statement: []trustStatement{{
			Effect:    "Allow",
			Action:    "sts:AssumeRole",
			Principal: map[string]string{"Service": "redshift.amazonaws.com"},
		}},
	})
	return string(doc)
}

// EnsureRole creates the role (or reuses an existing one), attaches S3 read access, and returns the role ARN.
func (p *Provisioner) EnsureRole(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: iam_role.name", shared.ErrMissingConfig)
	}

	_, err := p.iam.CreateRole(ctx, &iam.CreateRoleInput{
		Path:                     aws.String("/"),
		RoleName:                 aws.String(name),
		Description:              aws.String("Allows Redshift clusters to call AWS services on your behalf."),
		AssumeRolePolicyDocument: aws.String(TrustPolicy()),
	})
	switch {
	case hasCode(err, codeEntityExists):
		p.logger.Info("reusing IAM role", "role", name)
	case err != nil:
		return "", fmt.Errorf("failed to create role %s: %w", name, err)
	default:
		p.logger.Info("created IAM role", "role", name)
	}

	if _, err := p.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(S3ReadOnlyPolicyARN),
	}); err != nil {
		return "", fmt.Errorf("failed to attach policy to %s: %w", name, err)
	}

	out, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if hasCode(err, codeNoSuchEntity) {
		return "", fmt.Errorf("%w: %s", shared.ErrRoleNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get role %s: %w", name, err)
	}
	if out.Role == nil || aws.ToString(out.Role.Arn) == "" {
		return "", fmt.Errorf("%w: %s has no ARN", shared.ErrRoleNotFound, name)
	}

	arn := aws.ToString(out.Role.Arn)
	p.logger.Debug("resolved role", "role", name, "arn", arn)
	return arn, nil
}

// CreateCluster requests the cluster, treating an existing cluster with the same identifier as success.
func (p *Provisioner) CreateCluster(ctx context.Context, params Params, roleARN string) error {
	input := &redshift.CreateClusterInput{
		ClusterIdentifier:  aws.String(params.Identifier),
		NodeType:           aws.String(params.NodeType),
		DBName:             aws.String(params.DBName),
		MasterUsername:     aws.String(params.DBUser),
		MasterUserPassword: aws.String(params.DBPassword),
	}
	if params.Port > 0 {
		input.Port = aws.Int32(int32(params.Port))
	}
	if roleARN != "" {
		input.IamRoles = []string{roleARN}
	}
	if params.SingleNode() {
		input.ClusterType = aws.String(singleNode)
	} else {
		input.ClusterType = aws.String(multiNode)
		input.NumberOfNodes = aws.Int32(int32(params.NumNodes))
	}

	_, err := p.redshift.CreateCluster(ctx, input)
	switch {
	case hasCode(err, codeClusterExists):
		p.logger.Info("reusing cluster", "cluster", params.Identifier)
		return nil
	case err != nil:
		return fmt.Errorf("failed to create cluster %s: %w", params.Identifier, err)
	}
	p.logger.Info("requested cluster", "cluster", params.Identifier, "node_type", params.NodeType, "nodes", params.NumNodes)
	return nil
}

// Describe returns the current state of the cluster.
func (p *Provisioner) Describe(ctx context.Context, identifier string) (ClusterInfo, error) {
	out, err := p.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{
		ClusterIdentifier: aws.String(identifier),
	})
	if hasCode(err, codeClusterNotFound) {
		return ClusterInfo{}, fmt.Errorf("%w: %s", shared.ErrClusterNotFound, identifier)
	}
	if err != nil {
		return ClusterInfo{}, fmt.Errorf("failed to describe cluster %s: %w", identifier, err)
	}
	if len(out.Clusters) == 0 {
		return ClusterInfo{}, fmt.Errorf("%w: %s", shared.ErrClusterNotFound, identifier)
	}
	return clusterInfo(out.Clusters[0]), nil
}

func clusterInfo(c redshifttypes.Cluster) ClusterInfo {
	info := ClusterInfo{
		Identifier: aws.ToString(c.ClusterIdentifier),
		Status:     aws.ToString(c.ClusterStatus),
		VPCID:      aws.ToString(c.VpcId),
		NodeType:   aws.ToString(c.NodeType),
		NumNodes:   int(aws.ToInt32(c.NumberOfNodes)),
		DBName:     aws.ToString(c.DBName),
		DBUser:     aws.ToString(c.MasterUsername),
	}
	if c.Endpoint != nil {
		info.Host = aws.ToString(c.Endpoint.Address)
		info.Port = int(aws.ToInt32(c.Endpoint.Port))
	}
	for _, role := range c.IamRoles {
		if arn := aws.ToString(role.IamRoleArn); arn != "" {
			info.RoleARN = arn
			break
		}
	}
	for _, sg := range c.VpcSecurityGroups {
		if id := aws.ToString(sg.VpcSecurityGroupId); id != "" {
			info.SecurityGroup = id
			break
		}
	}
	return info
}

// WaitAvailable polls the cluster until it is available with an endpoint, or the wait timeout passes.
func (p *Provisioner) WaitAvailable(ctx context.Context, identifier string, progress chan<- tasks.ProgressUpdate) (ClusterInfo, error) {
	var info ClusterInfo
	err := p.poll(ctx, identifier, progress, func(ctx context.Context) (bool, error) {
		var err error
		info, err = p.Describe(ctx, identifier)
		if err != nil {
			return false, err
		}
		return info.Available(), nil
	}, func() string { return info.Status })
	return info, err
}

// poll calls check once per poll interval until it reports done, fails, or the wait timeout passes.
//
// check receives the timeout-bound context.
func (p *Provisioner) poll(ctx context.Context, identifier string, progress chan<- tasks.ProgressUpdate, check func(context.Context) (bool, error), status func() string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(p.pollInterval), 1)
	start := time.Now()

	for step := 1; ; step++ {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s", shared.ErrTimeout, identifier, p.waitTimeout)
		}

		done, err := check(waitCtx)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return fmt.Errorf("%w: %s after %s: %w", shared.ErrTimeout, identifier, p.waitTimeout, err)
			}
			return err
		}

		elapsed := time.Since(start)
		tasks.Send(progress, tasks.ClusterStatusUpdate(step, identifier, status(), elapsed))
		p.logger.Debug("polled cluster", "cluster", identifier, "status", status(), "elapsed", elapsed.Truncate(time.Second))
		if done {
			return nil
		}
	}
}

// OpenIngress allows TCP traffic on port to the cluster's first VPC security group from anywhere.
//
// An existing identical rule counts as success.
func (p *Provisioner) OpenIngress(ctx context.Context, info ClusterInfo, port int) error {
	if info.SecurityGroup == "" {
		return fmt.Errorf("%w: %s has no VPC security group", shared.ErrClusterNotReady, info.Identifier)
	}

	_, err := p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:    aws.String(info.SecurityGroup),
		IpProtocol: aws.String("tcp"),
		CidrIp:     aws.String(anyIPv4),
		FromPort:   aws.Int32(int32(port)),
		ToPort:     aws.Int32(int32(port)),
	})
	switch {
	case hasCode(err, codeDuplicateIngress):
		p.logger.Info("ingress rule already present", "group", info.SecurityGroup, "port", port)
		return nil
	case err != nil:
		return fmt.Errorf("failed to authorize ingress on %s: %w", info.SecurityGroup, err)
	}
	p.logger.Info("opened ingress", "group", info.SecurityGroup, "port", port)
	return nil
}

// Provision runs the full sequence: role, cluster, wait, ingress.
func (p *Provisioner) Provision(ctx context.Context, params Params, progress chan<- tasks.ProgressUpdate) (ClusterInfo, error) {
	const total = 4

	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.EnsureRole, Step: 1, Total: total, Message: "ensuring IAM role " + params.RoleName})
	roleARN, err := p.EnsureRole(ctx, params.RoleName)
	if err != nil {
		return ClusterInfo{}, err
	}

	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.CreateCluster, Step: 2, Total: total, Message: "creating cluster " + params.Identifier})
	if err := p.CreateCluster(ctx, params, roleARN); err != nil {
		return ClusterInfo{}, err
	}

	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.WaitCluster, Step: 3, Total: total, Message: "waiting for " + params.Identifier})
	info, err := p.WaitAvailable(ctx, params.Identifier, progress)
	if err != nil {
		return info, err
	}
	if info.RoleARN == "" {
		info.RoleARN = roleARN
	}

	port := info.Port
	if port == 0 {
		port = params.Port
	}
	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.OpenIngress, Step: 4, Total: total, Message: fmt.Sprintf("opening port %d", port)})
	if err := p.OpenIngress(ctx, info, port); err != nil {
		return info, err
	}
	return info, nil
}

// Teardown deletes the cluster without a final snapshot, waits for it to disappear, then removes the role.
//
// Missing entities are skipped, so a partial teardown can be rerun.
func (p *Provisioner) Teardown(ctx context.Context, identifier, roleName string, progress chan<- tasks.ProgressUpdate) error {
	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.DeleteCluster, Step: 1, Total: 2, Message: "deleting cluster " + identifier})
	_, err := p.redshift.DeleteCluster(ctx, &redshift.DeleteClusterInput{
		ClusterIdentifier:        aws.String(identifier),
		SkipFinalClusterSnapshot: aws.Bool(true),
	})
	switch {
	case hasCode(err, codeClusterNotFound):
		p.logger.Info("cluster already gone", "cluster", identifier)
	case err != nil:
		return fmt.Errorf("failed to delete cluster %s: %w", identifier, err)
	default:
		status := "deleting"
		err := p.poll(ctx, identifier, progress, func(ctx context.Context) (bool, error) {
			info, err := p.Describe(ctx, identifier)
			if errors.Is(err, shared.ErrClusterNotFound) {
				status = StatusDeleted
				return true, nil
			}
			if err != nil {
				return false, err
			}
			status = info.Status
			return false, nil
		}, func() string { return status })
		if err != nil {
			return err
		}
		p.logger.Info("deleted cluster", "cluster", identifier)
	}

	if roleName == "" {
		return nil
	}
	tasks.Send(progress, tasks.ProgressUpdate{Phase: tasks.DeleteCluster, Step: 2, Total: 2, Message: "deleting IAM role " + roleName})
	if _, err := p.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(S3ReadOnlyPolicyARN),
	}); err != nil && !hasCode(err, codeNoSuchEntity) {
		return fmt.Errorf("failed to detach policy from %s: %w", roleName, err)
	}
	if _, err := p.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(roleName)}); err != nil && !hasCode(err, codeNoSuchEntity) {
		return fmt.Errorf("failed to delete role %s: %w", roleName, err)
	}
	p.logger.Info("deleted IAM role", "role", roleName)
	return nil
}
