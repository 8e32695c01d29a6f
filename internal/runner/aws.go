package runner

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// CredentialSource names where AWS credentials come from.
type CredentialSource string

const (
	// CredentialsDefault uses the SDK's default chain: environment, shared
	// config/credentials files, then the instance metadata service.
	CredentialsDefault CredentialSource = ""
	// CredentialsStatic uses the explicit access key pair in Credentials.
	CredentialsStatic CredentialSource = "static"
	// CredentialsProfile uses a named profile from the shared config files.
	CredentialsProfile CredentialSource = "profile"
)

// Credentials selects exactly one source of AWS credentials.
type Credentials struct {
	Source CredentialSource

	// CredentialsStatic
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// CredentialsProfile
	Profile string
}

func (c Credentials) validate() error {
	switch c.Source {
	case CredentialsDefault:
		return nil
	case CredentialsStatic:
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			return fmt.Errorf("%w: static credentials need an access key id and secret", ErrInvalidConfig)
		}
		return nil
	case CredentialsProfile:
		if c.Profile == "" {
			return fmt.Errorf("%w: profile credentials need a profile name", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown credential source %q", ErrInvalidConfig, c.Source)
	}
}

var (
	ErrAWSConfig = fmt.Errorf("failed to load AWS configuration")
	ErrNoRegion  = fmt.Errorf("no AWS region configured")
)

// LoadAWSConfig resolves an 'aws.Config' for 'region' from 'creds'. An empty
// region falls back to whatever the environment or profile names.
func LoadAWSConfig(ctx context.Context, region string, creds Credentials) (aws.Config, error) {
	if err := creds.validate(); err != nil {
		return aws.Config{}, err
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	switch creds.Source {
	case CredentialsStatic:
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	case CredentialsProfile:
		opts = append(opts, config.WithSharedConfigProfile(creds.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: %w", ErrAWSConfig, err)
	}
	if cfg.Region == "" {
		return aws.Config{}, ErrNoRegion
	}
	return cfg, nil
}

// EC2API is the subset of the EC2 API a session uses.
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	CreateKeyPair(ctx context.Context, params *ec2.CreateKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

var _ EC2API = (*ec2.Client)(nil)
