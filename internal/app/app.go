// Package app wires configuration into the partitioner and forwarder
// components and owns their lifecycles.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/athenasync/athenasync/internal/alarm"
	"github.com/athenasync/athenasync/internal/catalog"
	"github.com/athenasync/athenasync/internal/config"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/internal/regions"
	"github.com/athenasync/athenasync/internal/storage"
)

// CallerIdentityAPI is the part of the STS client used to identify the caller.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients holds the AWS service clients. A nil client disables the
// components that need it.
type Clients struct {
	Region     string
	EC2        regions.DescribeRegionsAPI
	S3         storage.S3API
	Athena     catalog.AthenaAPI
	Glue       catalog.GlueAPI
	CloudWatch metrics.PutMetricDataAPI
	STS        CallerIdentityAPI
	SNS        alarm.SNSPublishAPI
}

// LoadAWSConfig resolves the SDK configuration: region, shared profile,
// custom endpoint and retry attempts.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "load AWS configuration: "+err.Error())
	}
	if awsCfg.Region == "" {
		return aws.Config{}, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "no AWS region configured (set aws.region or AWS_REGION)")
	}
	return awsCfg, nil
}

// NewClients creates every service client from awsCfg.
func NewClients(awsCfg aws.Config, endpoint string) *Clients {
	return &Clients{
		Region: awsCfg.Region,
		EC2:    ec2.NewFromConfig(awsCfg),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = endpoint != ""
		}),
		Athena:     athena.NewFromConfig(awsCfg),
		Glue:       glue.NewFromConfig(awsCfg),
		CloudWatch: cloudwatch.NewFromConfig(awsCfg),
		STS:        sts.NewFromConfig(awsCfg),
		SNS:        sns.NewFromConfig(awsCfg),
	}
}

// Identity is the account and principal the process runs as.
type Identity struct {
	Account string
	ARN     string
}

// CallerIdentity asks STS who the process runs as.
func CallerIdentity(ctx context.Context, client CallerIdentityAPI) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, apperrors.Classify("get caller identity", err)
	}
	return Identity{Account: aws.ToString(out.Account), ARN: aws.ToString(out.Arn)}, nil
}

// DefaultOutputLocation is the Athena console's default results bucket.
func DefaultOutputLocation(account, region string) string {
	return fmt.Sprintf("s3://aws-athena-query-results-%s-%s/", account, region)
}

// resolveOutputLocation expands "default" using the caller identity.
func resolveOutputLocation(configured string, id *Identity, region string) (string, error) {
	if configured != config.DefaultOutputLocation {
		return configured, nil
	}
	if id == nil {
		return "", apperrors.NewConfigError(apperrors.CodeInvalidConfig,
			"partitioner.output_location is \"default\" but the caller identity is unknown")
	}
	return DefaultOutputLocation(id.Account, region), nil
}

func logIdentity(ctx context.Context, client CallerIdentityAPI, logger *slog.Logger) *Identity {
	if client == nil {
		return nil
	}
	id, err := CallerIdentity(ctx, client)
	if err != nil {
		logger.Warn("caller identity unavailable", "error", err)
		return nil
	}
	logger.Info("running as", "account", id.Account, "arn", id.ARN)
	return &id
}
