package registry

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/shipway/shipway/internal/core/deploy"
)

// =============================================================================
// Credential Sources
// =============================================================================

// CredentialSource yields the registry login material. The engine uses it
// for its own registry calls; deployment requests carry the same pair to
// the deploy host for docker login there.
type CredentialSource interface {
	Credential(ctx context.Context) (deploy.RegistryCredential, error)
}

// StaticSource is a fixed username/password pair from configuration.
type StaticSource struct {
	Host     string
	Username string
	Password string
}

func (s StaticSource) Credential(context.Context) (deploy.RegistryCredential, error) {
	return deploy.RegistryCredential{
		Host:     s.Host,
		Username: s.Username,
		Password: s.Password,
	}, nil
}

// KeychainSource resolves the ambient docker keychain for the registry.
// Public repositories resolve to an anonymous credential; the deploy host
// skips its login step in that case.
type KeychainSource struct {
	Registry string
}

func (s KeychainSource) Credential(ctx context.Context) (deploy.RegistryCredential, error) {
	reg, err := name.NewRegistry(s.Registry)
	if err != nil {
		return deploy.RegistryCredential{}, fmt.Errorf("invalid registry %q: %w", s.Registry, err)
	}
	auth, err := authn.DefaultKeychain.Resolve(reg)
	if err != nil {
		return deploy.RegistryCredential{}, fmt.Errorf("keychain resolve failed: %w", err)
	}
	cfg, err := auth.Authorization()
	if err != nil {
		return deploy.RegistryCredential{}, fmt.Errorf("keychain authorization failed: %w", err)
	}
	return deploy.RegistryCredential{
		Host:     s.Registry,
		Username: cfg.Username,
		Password: cfg.Password,
	}, nil
}
