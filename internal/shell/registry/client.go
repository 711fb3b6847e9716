// Package registry is the engine's view of the artifact registry: listing
// tags, resolving digests, and minting promotion tags. The tag set it
// manages is the promotion chain's only durable state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/shipway/shipway/internal/core/artifact"
	"github.com/shipway/shipway/internal/core/deploy"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrTagNotFound = errors.New("tag not found in registry")
)

// =============================================================================
// Client
// =============================================================================

// Client operates on one repository. Promotion tags are minted with Retag,
// which copies a manifest pointer without pulling layers.
type Client struct {
	repo   name.Repository
	source CredentialSource
	logger *slog.Logger
}

// NewClient creates a client for a repository like "ghcr.io/acme/app".
func NewClient(repository string, source CredentialSource, logger *slog.Logger) (*Client, error) {
	repo, err := name.NewRepository(repository)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", repository, err)
	}
	if source == nil {
		source = KeychainSource{Registry: repo.RegistryStr()}
	}
	return &Client{
		repo:   repo,
		source: source,
		logger: logger.With("component", "registry"),
	}, nil
}

// Repository returns the repository the client operates on.
func (c *Client) Repository() string {
	return c.repo.Name()
}

// TagRef composes the full reference for a tag in this repository.
func (c *Client) TagRef(tag string) artifact.Reference {
	return artifact.Reference(c.repo.Name() + ":" + tag)
}

// DigestRef composes the digest-qualified reference for this repository.
func (c *Client) DigestRef(digest string) artifact.Reference {
	return artifact.Reference(c.repo.Name() + "@" + digest)
}

func (c *Client) options(ctx context.Context) ([]remote.Option, error) {
	opts := []remote.Option{remote.WithContext(ctx)}

	cred, err := c.source.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deploy.ErrRegistryAuth, err)
	}
	if cred.Username != "" && cred.Password != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{
			Username: cred.Username,
			Password: cred.Password,
		}))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	return opts, nil
}

// =============================================================================
// Operations
// =============================================================================

// Tags lists every tag currently present on the repository.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	opts, err := c.options(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := remote.List(c.repo, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", classify(err))
	}
	return tags, nil
}

// Exists reports whether a tag is present.
func (c *Client) Exists(ctx context.Context, tag string) (bool, error) {
	_, err := c.Digest(ctx, tag)
	if errors.Is(err, ErrTagNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Digest resolves a tag to its manifest digest.
func (c *Client) Digest(ctx context.Context, tag string) (string, error) {
	opts, err := c.options(ctx)
	if err != nil {
		return "", err
	}
	desc, err := remote.Head(c.repo.Tag(tag), opts...)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrTagNotFound, c.TagRef(tag))
		}
		return "", fmt.Errorf("failed to resolve %s: %w", c.TagRef(tag), classify(err))
	}
	return desc.Digest.String(), nil
}

// Retag points a new tag at the manifest an existing reference resolves
// to. src may be tagged or digest-qualified; no layer moves.
func (c *Client) Retag(ctx context.Context, src artifact.Reference, tag string) error {
	opts, err := c.options(ctx)
	if err != nil {
		return err
	}
	srcRef, err := name.ParseReference(string(src))
	if err != nil {
		return fmt.Errorf("%w: %v", artifact.ErrInvalidReference, err)
	}
	desc, err := remote.Get(srcRef, opts...)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrTagNotFound, src)
		}
		return fmt.Errorf("failed to fetch manifest for %s: %w", src, classify(err))
	}
	if err := remote.Tag(c.repo.Tag(tag), desc, opts...); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", src, tag, classify(err))
	}
	c.logger.Info("minted tag", "repository", c.repo.Name(), "tag", tag, "source", string(src))
	return nil
}

// Verify performs the login handshake so credential problems surface
// before any deploy host is touched.
func (c *Client) Verify(ctx context.Context) error {
	opts, err := c.options(ctx)
	if err != nil {
		return err
	}
	if _, err := remote.List(c.repo, opts...); err != nil {
		return fmt.Errorf("registry handshake failed: %w", classify(err))
	}
	return nil
}

// Credential exposes the login material deployment requests carry to the
// host for its own docker login.
func (c *Client) Credential(ctx context.Context) (deploy.RegistryCredential, error) {
	return c.source.Credential(ctx)
}

// =============================================================================
// Error Classification
// =============================================================================

// isNotFound matches the registry's missing-manifest answers.
func isNotFound(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		return true
	}
	return strings.Contains(err.Error(), "MANIFEST_UNKNOWN") || strings.Contains(err.Error(), "NOT_FOUND")
}

// classify maps rejected credentials to the auth taxonomy error and leaves
// everything else untouched.
func classify(err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		if terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %v", deploy.ErrRegistryAuth, err)
		}
	}
	if strings.Contains(err.Error(), "UNAUTHORIZED") {
		return fmt.Errorf("%w: %v", deploy.ErrRegistryAuth, err)
	}
	return err
}
