package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"evalgo.org/anchor/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECR struct {
	out *ecr.GetAuthorizationTokenOutput
	err error
}

func (f fakeECR) GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return f.out, f.err
}

func tokenOutput(token string) *ecr.GetAuthorizationTokenOutput {
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []types.AuthorizationData{{
			AuthorizationToken: aws.String(token),
			ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.eu-west-1.amazonaws.com"),
		}},
	}
}

func TestECRCredentials(t *testing.T) {
	token := base64.StdEncoding.EncodeToString([]byte("AWS:s3cr3t:with:colons"))
	provider := NewECRFromAPI(fakeECR{out: tokenOutput(token)})

	creds, err := provider.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AWS", creds.Username)
	assert.Equal(t, "s3cr3t:with:colons", creds.Password)
	assert.Equal(t, "https://123456789012.dkr.ecr.eu-west-1.amazonaws.com", creds.ServerAddress)
}

func TestECRCredentialsErrors(t *testing.T) {
	tests := []struct {
		name string
		api  fakeECR
	}{
		{"api failure", fakeECR{err: errors.New("expired token")}},
		{"no data", fakeECR{out: &ecr.GetAuthorizationTokenOutput{}}},
		{"not base64", fakeECR{out: tokenOutput("%%%")}},
		{"no separator", fakeECR{out: tokenOutput(base64.StdEncoding.EncodeToString([]byte("AWS")))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewECRFromAPI(tt.api).Credentials(context.Background())
			var ecrErr *models.ECRCredentialsError
			assert.ErrorAs(t, err, &ecrErr)
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, Options{})
	require.NoError(t, err)
	creds, err := p.Credentials(ctx)
	require.NoError(t, err)
	assert.True(t, creds.Empty())

	p, err = New(ctx, Options{Provider: "Static", Username: "bot", Password: "pw", ServerAddress: "ghcr.io"})
	require.NoError(t, err)
	creds, err = p.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RegistryCredentials{Username: "bot", Password: "pw", ServerAddress: "ghcr.io"}, creds)

	_, err = New(ctx, Options{Provider: "static"})
	assert.Error(t, err)

	_, err = New(ctx, Options{Provider: "vault"})
	assert.Error(t, err)
}
