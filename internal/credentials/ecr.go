package credentials

import (
	"context"
	"encoding/base64"
	"strings"

	"evalgo.org/anchor/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// ECRAPI is the part of the ECR client used to obtain registry tokens.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECR exchanges AWS credentials for an ECR registry token.
type ECR struct {
	api ECRAPI
}

// NewECR loads the default AWS configuration, optionally overriding region and
// shared config profile.
func NewECR(ctx context.Context, region, profile string) (*ECR, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &models.ECRCredentialsError{Message: "failed to load AWS configuration", Err: err}
	}
	return NewECRFromAPI(ecr.NewFromConfig(cfg)), nil
}

// NewECRFromAPI wraps an existing ECR client.
func NewECRFromAPI(api ECRAPI) *ECR {
	return &ECR{api: api}
}

// Credentials requests an authorization token and decodes it into a
// username and password for the registry proxy endpoint.
func (e *ECR) Credentials(ctx context.Context) (models.RegistryCredentials, error) {
	out, err := e.api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return models.RegistryCredentials{}, &models.ECRCredentialsError{Message: "failed to get authorization token", Err: err}
	}
	if len(out.AuthorizationData) == 0 {
		return models.RegistryCredentials{}, &models.ECRCredentialsError{Message: "no authorization data returned"}
	}

	data := out.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return models.RegistryCredentials{}, &models.ECRCredentialsError{Message: "failed to decode authorization token", Err: err}
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return models.RegistryCredentials{}, &models.ECRCredentialsError{Message: "malformed authorization token"}
	}

	return models.RegistryCredentials{
		Username:      username,
		Password:      password,
		ServerAddress: aws.ToString(data.ProxyEndpoint),
	}, nil
}
