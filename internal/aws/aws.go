package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const kubernetesTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// LoadAWSConfig loads the default credential chain, using the AWS_PROFILE shared
// profile outside Kubernetes, where IRSA credentials are used instead.
func LoadAWSConfig(ctx context.Context, regionOverride string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, loadOptions(regionOverride, isInKubernetes())...)
}

func loadOptions(regionOverride string, inKubernetes bool) []func(*config.LoadOptions) error {
	var options []func(*config.LoadOptions) error

	if !inKubernetes {
		options = append(options, config.WithSharedConfigProfile(getProfile()))
	}

	if regionOverride != "" {
		options = append(options, config.WithRegion(regionOverride))
	}

	return options
}

func isInKubernetes() bool {
	_, err := os.Stat(kubernetesTokenPath)
	return err == nil
}

func getProfile() string {
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		return profile
	}
	return "default"
}

// GetCallerIdentity returns the IAM identity the loaded credentials resolve to
func GetCallerIdentity(ctx context.Context, cfg aws.Config) (*sts.GetCallerIdentityOutput, error) {
	stsClient := sts.NewFromConfig(cfg)
	return stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
}
