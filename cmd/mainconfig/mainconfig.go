// Package mainconfig holds wiring shared by the api and worker binaries.
package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	appconfig "github.com/wolfman30/sara-leads/internal/config"
)

const fallbackRegion = "us-east-1"

// NeedsAWS reports whether the SQS queue or SES email is configured. Local
// runs with memory stores and SendGrid never touch AWS.
func NeedsAWS(cfg *appconfig.Config) bool {
	if !cfg.UseMemoryQueue && strings.TrimSpace(cfg.ConversationQueueURL) != "" {
		return true
	}
	return strings.TrimSpace(cfg.SESFromEmail) != ""
}

// LoadAWSConfig builds the SDK config for SQS and SES. Static keys win over
// the default chain, and AWS_ENDPOINT_OVERRIDE points both clients at
// LocalStack.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	region := strings.TrimSpace(cfg.AWSRegion)
	if region == "" {
		region = fallbackRegion
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}

	keyID := strings.TrimSpace(cfg.AWSAccessKeyID)
	secret := strings.TrimSpace(cfg.AWSSecretAccessKey)
	if keyID != "" && secret != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}
