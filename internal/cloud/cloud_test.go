package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/aws/smithy-go"
	"github.com/desertthunder/dwh/internal/shared"
	"github.com/desertthunder/dwh/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

type fakeIAM struct {
	mu        sync.Mutex
	roles     map[string]string
	attached  map[string]bool
	createErr error
	calls     []string
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{roles: map[string]string{}, attached: map[string]bool{}}
}

func (f *fakeIAM) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	f.record("CreateRole")
	if f.createErr != nil {
		return nil, f.createErr
	}
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, apiError(codeEntityExists)
	}
	f.roles[name] = "arn:aws:iam::123456789012:role/" + name
	return &iam.CreateRoleOutput{}, nil
}

func (f *fakeIAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	f.record("GetRole")
	arn, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, apiError(codeNoSuchEntity)
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{Arn: aws.String(arn), RoleName: in.RoleName}}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.record("AttachRolePolicy")
	f.attached[aws.ToString(in.RoleName)+"|"+aws.ToString(in.PolicyArn)] = true
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	f.record("DetachRolePolicy")
	key := aws.ToString(in.RoleName) + "|" + aws.ToString(in.PolicyArn)
	if !f.attached[key] {
		return nil, apiError(codeNoSuchEntity)
	}
	delete(f.attached, key)
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	f.record("DeleteRole")
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; !ok {
		return nil, apiError(codeNoSuchEntity)
	}
	delete(f.roles, name)
	return &iam.DeleteRoleOutput{}, nil
}

// fakeRedshift walks a cluster through the given statuses, one per describe.
type fakeRedshift struct {
	mu       sync.Mutex
	created  *redshift.CreateClusterInput
	statuses []string
	describe int
	exists   bool
	deleted  bool
}

func (f *fakeRedshift) CreateCluster(_ context.Context, in *redshift.CreateClusterInput, _ ...func(*redshift.Options)) (*redshift.CreateClusterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists {
		return nil, apiError(codeClusterExists)
	}
	f.created = in
	f.exists = true
	return &redshift.CreateClusterOutput{}, nil
}

func (f *fakeRedshift) DescribeClusters(_ context.Context, in *redshift.DescribeClustersInput, _ ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted && f.describe >= len(f.statuses) {
		f.exists = false
	}
	if !f.exists {
		return nil, apiError(codeClusterNotFound)
	}
	status := "available"
	if f.describe < len(f.statuses) {
		status = f.statuses[f.describe]
	}
	f.describe++

	cluster := redshifttypes.Cluster{
		ClusterIdentifier: in.ClusterIdentifier,
		ClusterStatus:     aws.String(status),
		NodeType:          aws.String("dc2.large"),
		NumberOfNodes:     aws.Int32(4),
		DBName:            aws.String("dwh"),
		MasterUsername:    aws.String("dwhuser"),
		VpcId:             aws.String("vpc-1"),
		VpcSecurityGroups: []redshifttypes.VpcSecurityGroupMembership{{VpcSecurityGroupId: aws.String("sg-123")}},
		IamRoles:          []redshifttypes.ClusterIamRole{{IamRoleArn: aws.String("arn:aws:iam::123456789012:role/dwhRole")}},
	}
	if status == "available" {
		cluster.Endpoint = &redshifttypes.Endpoint{Address: aws.String("dwh.abc.us-west-2.redshift.amazonaws.com"), Port: aws.Int32(5439)}
	}
	return &redshift.DescribeClustersOutput{Clusters: []redshifttypes.Cluster{cluster}}, nil
}

// stalledRedshift never answers a describe until its context ends.
type stalledRedshift struct {
	*fakeRedshift
}

func (s stalledRedshift) DescribeClusters(ctx context.Context, _ *redshift.DescribeClustersInput, _ ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeRedshift) DeleteCluster(_ context.Context, in *redshift.DeleteClusterInput, _ ...func(*redshift.Options)) (*redshift.DeleteClusterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return nil, apiError(codeClusterNotFound)
	}
	if !aws.ToBool(in.SkipFinalClusterSnapshot) {
		return nil, errors.New("expected skip final snapshot")
	}
	f.deleted = true
	f.statuses = []string{"deleting"}
	f.describe = 0
	return &redshift.DeleteClusterOutput{}, nil
}

type fakeEC2 struct {
	rules []string
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	rule := aws.ToString(in.GroupId) + "|" + aws.ToString(in.CidrIp)
	for _, r := range f.rules {
		if r == rule {
			return nil, apiError(codeDuplicateIngress)
		}
	}
	f.rules = append(f.rules, rule)
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func testParams() Params {
	return ParamsFromConfig(shared.DefaultConfig())
}

func newTestProvisioner(iamClient IAMAPI, rs RedshiftAPI, ec2Client EC2API) *Provisioner {
	return NewProvisioner(iamClient, rs, ec2Client, ProvisionerOpts{PollInterval: time.Millisecond, WaitTimeout: time.Second})
}

func TestTrustPolicy(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(TrustPolicy()), &doc))
	assert.Equal(t, "2012-10-17", doc["Version"])

	stmt := doc["Statement"].([]any)[0].(map[string]any)
	assert.Equal(t, "sts:AssumeRole", stmt["Action"])
	assert.Equal(t, "redshift.amazonaws.com", stmt["Principal"].(map[string]any)["Service"])
}

func TestEnsureRole(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then reuses", func(t *testing.T) {
		fake := newFakeIAM()
		p := newTestProvisioner(fake, &fakeRedshift{}, &fakeEC2{})

		arn, err := p.EnsureRole(ctx, "dwhRole")
		require.NoError(t, err)
		assert.Equal(t, "arn:aws:iam::123456789012:role/dwhRole", arn)
		assert.True(t, fake.attached["dwhRole|"+S3ReadOnlyPolicyARN])

		again, err := p.EnsureRole(ctx, "dwhRole")
		require.NoError(t, err)
		assert.Equal(t, arn, again)
	})

	t.Run("other create errors propagate", func(t *testing.T) {
		fake := newFakeIAM()
		fake.createErr = apiError("AccessDenied")
		p := newTestProvisioner(fake, &fakeRedshift{}, &fakeEC2{})

		_, err := p.EnsureRole(ctx, "dwhRole")
		require.Error(t, err)
		assert.Equal(t, "AccessDenied", errorCode(err))
		assert.Equal(t, []string{"CreateRole"}, fake.calls)
	})

	t.Run("requires a name", func(t *testing.T) {
		p := newTestProvisioner(newFakeIAM(), &fakeRedshift{}, &fakeEC2{})
		_, err := p.EnsureRole(ctx, "")
		assert.ErrorIs(t, err, shared.ErrMissingConfig)
	})
}

func TestCreateCluster(t *testing.T) {
	ctx := context.Background()

	t.Run("multi-node", func(t *testing.T) {
		rs := &fakeRedshift{}
		p := newTestProvisioner(newFakeIAM(), rs, &fakeEC2{})
		require.NoError(t, p.CreateCluster(ctx, testParams(), "arn:role"))

		assert.Equal(t, "multi-node", aws.ToString(rs.created.ClusterType))
		assert.Equal(t, int32(4), aws.ToInt32(rs.created.NumberOfNodes))
		assert.Equal(t, "dwhuser", aws.ToString(rs.created.MasterUsername))
		assert.Equal(t, []string{"arn:role"}, rs.created.IamRoles)
		assert.Equal(t, int32(5439), aws.ToInt32(rs.created.Port))
	})

	t.Run("single node omits node count", func(t *testing.T) {
		rs := &fakeRedshift{}
		p := newTestProvisioner(newFakeIAM(), rs, &fakeEC2{})
		params := testParams()
		params.NumNodes = 1
		require.NoError(t, p.CreateCluster(ctx, params, ""))

		assert.Equal(t, "single-node", aws.ToString(rs.created.ClusterType))
		assert.Nil(t, rs.created.NumberOfNodes)
		assert.Nil(t, rs.created.IamRoles)
	})

	t.Run("existing cluster is reused", func(t *testing.T) {
		rs := &fakeRedshift{exists: true}
		p := newTestProvisioner(newFakeIAM(), rs, &fakeEC2{})
		assert.NoError(t, p.CreateCluster(ctx, testParams(), ""))
	})
}

func TestWaitAvailable(t *testing.T) {
	ctx := context.Background()

	t.Run("polls until available", func(t *testing.T) {
		rs := &fakeRedshift{exists: true, statuses: []string{"creating", "creating", "available"}}
		p := newTestProvisioner(newFakeIAM(), rs, &fakeEC2{})

		progress := make(chan tasks.ProgressUpdate, 10)
		info, err := p.WaitAvailable(ctx, "dwhCluster", progress)
		require.NoError(t, err)
		assert.True(t, info.Available())
		assert.Equal(t, "dwh.abc.us-west-2.redshift.amazonaws.com", info.Host)
		assert.Equal(t, 5439, info.Port)
		assert.Equal(t, "sg-123", info.SecurityGroup)
		assert.Equal(t, 3, rs.describe)

		first := <-progress
		assert.Equal(t, tasks.WaitCluster, first.Phase)
		assert.Equal(t, "creating", first.Data)
	})

	t.Run("times out", func(t *testing.T) {
		statuses := make([]string, 1000)
		for i := range statuses {
			statuses[i] = "creating"
		}
		rs := &fakeRedshift{exists: true, statuses: statuses}
		p := NewProvisioner(newFakeIAM(), rs, &fakeEC2{}, ProvisionerOpts{PollInterval: 5 * time.Millisecond, WaitTimeout: 30 * time.Millisecond})

		_, err := p.WaitAvailable(ctx, "dwhCluster", nil)
		assert.ErrorIs(t, err, shared.ErrTimeout)
	})

	t.Run("stalled describe is bounded by the wait timeout", func(t *testing.T) {
		rs := stalledRedshift{&fakeRedshift{exists: true}}
		p := NewProvisioner(newFakeIAM(), rs, &fakeEC2{}, ProvisionerOpts{PollInterval: time.Millisecond, WaitTimeout: 30 * time.Millisecond})

		start := time.Now()
		_, err := p.WaitAvailable(ctx, "dwhCluster", nil)
		assert.ErrorIs(t, err, shared.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("missing cluster", func(t *testing.T) {
		p := newTestProvisioner(newFakeIAM(), &fakeRedshift{}, &fakeEC2{})
		_, err := p.WaitAvailable(ctx, "dwhCluster", nil)
		assert.ErrorIs(t, err, shared.ErrClusterNotFound)
	})
}

func TestOpenIngress(t *testing.T) {
	ctx := context.Background()
	ec := &fakeEC2{}
	p := newTestProvisioner(newFakeIAM(), &fakeRedshift{}, ec)
	info := ClusterInfo{Identifier: "dwhCluster", SecurityGroup: "sg-123"}

	require.NoError(t, p.OpenIngress(ctx, info, 5439))
	require.NoError(t, p.OpenIngress(ctx, info, 5439), "duplicate rule is success")
	assert.Equal(t, []string{"sg-123|0.0.0.0/0"}, ec.rules)

	err := p.OpenIngress(ctx, ClusterInfo{Identifier: "dwhCluster"}, 5439)
	assert.ErrorIs(t, err, shared.ErrClusterNotReady)
}

func TestProvisionAndTeardown(t *testing.T) {
	ctx := context.Background()
	fakeIam := newFakeIAM()
	rs := &fakeRedshift{statuses: []string{"creating", "available"}}
	ec := &fakeEC2{}
	p := newTestProvisioner(fakeIam, rs, ec)

	progress := make(chan tasks.ProgressUpdate, 32)
	info, err := p.Provision(ctx, testParams(), progress)
	require.NoError(t, err)
	assert.Equal(t, "dwhCluster", info.Identifier)
	assert.Equal(t, "arn:aws:iam::123456789012:role/dwhRole", info.RoleARN)
	assert.Len(t, ec.rules, 1)

	again, err := p.Provision(ctx, testParams(), nil)
	require.NoError(t, err, "provisioning twice reuses everything")
	assert.Equal(t, info.Host, again.Host)

	require.NoError(t, p.Teardown(ctx, "dwhCluster", "dwhRole", progress))
	assert.False(t, rs.exists)
	assert.Empty(t, fakeIam.roles)

	require.NoError(t, p.Teardown(ctx, "dwhCluster", "dwhRole", nil), "teardown is rerunnable")

	_, err = p.Describe(ctx, "dwhCluster")
	assert.ErrorIs(t, err, shared.ErrClusterNotFound)
}
