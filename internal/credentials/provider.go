// Package credentials supplies registry credentials for image pulls.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"evalgo.org/anchor/models"
)

// Provider names accepted by New.
const (
	ProviderNone   = "none"
	ProviderStatic = "static"
	ProviderECR    = "ecr"
)

// Provider returns credentials for the registry images are pulled from.
type Provider interface {
	Credentials(ctx context.Context) (models.RegistryCredentials, error)
}

// Options selects and configures a provider.
type Options struct {
	Provider      string
	Username      string
	Password      string
	ServerAddress string
	Region        string
	Profile       string
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (models.RegistryCredentials, error)

func (f ProviderFunc) Credentials(ctx context.Context) (models.RegistryCredentials, error) {
	return f(ctx)
}

// None supplies empty credentials, which pull anonymously.
type None struct{}

func (None) Credentials(context.Context) (models.RegistryCredentials, error) {
	return models.RegistryCredentials{}, nil
}

// Static supplies fixed credentials.
type Static struct {
	Creds models.RegistryCredentials
}

func (s Static) Credentials(context.Context) (models.RegistryCredentials, error) {
	return s.Creds, nil
}

// New builds the provider named by opts.Provider.
func New(ctx context.Context, opts Options) (Provider, error) {
	switch strings.ToLower(opts.Provider) {
	case "", ProviderNone:
		return None{}, nil
	case ProviderStatic:
		if opts.Username == "" {
			return nil, fmt.Errorf("static registry credentials require a username")
		}
		return Static{Creds: models.RegistryCredentials{
			Username:      opts.Username,
			Password:      opts.Password,
			ServerAddress: opts.ServerAddress,
		}}, nil
	case ProviderECR:
		return NewECR(ctx, opts.Region, opts.Profile)
	default:
		return nil, fmt.Errorf("unknown registry provider %q (want none, static or ecr)", opts.Provider)
	}
}
