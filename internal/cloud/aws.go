// package cloud provisions the Redshift cluster, its IAM role, and its network access
package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/smithy-go"
	"github.com/desertthunder/dwh/internal/shared"
)

// IAMAPI is the subset of the IAM client used to manage the cluster role.
type IAMAPI interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// RedshiftAPI is the subset of the Redshift client used for the cluster lifecycle.
type RedshiftAPI interface {
	CreateCluster(ctx context.Context, params *redshift.CreateClusterInput, optFns ...func(*redshift.Options)) (*redshift.CreateClusterOutput, error)
	DescribeClusters(ctx context.Context, params *redshift.DescribeClustersInput, optFns ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error)
	DeleteCluster(ctx context.Context, params *redshift.DeleteClusterInput, optFns ...func(*redshift.Options)) (*redshift.DeleteClusterOutput, error)
}

// EC2API is the subset of the EC2 client used to open the cluster port.
type EC2API interface {
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
}

var (
	_ IAMAPI      = (*iam.Client)(nil)
	_ RedshiftAPI = (*redshift.Client)(nil)
	_ EC2API      = (*ec2.Client)(nil)
)

// LoadAWSConfig loads SDK configuration for the configured region.
//
// Static keys from the config file take precedence; otherwise the default provider chain applies
// (environment, shared profile, instance role).
func LoadAWSConfig(ctx context.Context, c shared.AWSConfig) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.Key != "" && c.Secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.Key, c.Secret, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config for region %s: %w", c.Region, err)
	}
	return cfg, nil
}

// API error codes treated as success or as a known state.
const (
	codeEntityExists     = "EntityAlreadyExists"
	codeNoSuchEntity     = "NoSuchEntity"
	codeClusterExists    = "ClusterAlreadyExists"
	codeClusterNotFound  = "ClusterNotFound"
	codeDuplicateIngress = "InvalidPermission.Duplicate"
)

// errorCode returns the service error code of err, or "" when err is not an API error.
func errorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func hasCode(err error, code string) bool {
	return err != nil && errorCode(err) == code
}
