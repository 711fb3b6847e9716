//go:build integration

package registry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests talk to real registries. Point SHIPWAY_TEST_REPOSITORY
// at a repository you can read (public works) and run with
// `go test -tags integration ./internal/shell/registry`.

func TestTags_PublicRepository(t *testing.T) {
	repo := os.Getenv("SHIPWAY_TEST_REPOSITORY")
	if repo == "" {
		repo = "index.docker.io/library/nginx"
	}

	c, err := NewClient(repo, nil, discardLogger())
	require.NoError(t, err)

	tags, err := c.Tags(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tags)
}

func TestECRSource_TokenExchange(t *testing.T) {
	host := os.Getenv("SHIPWAY_TEST_ECR_HOST")
	region := os.Getenv("SHIPWAY_TEST_ECR_REGION")
	key := os.Getenv("SHIPWAY_TEST_AWS_ACCESS_KEY_ID")
	secret := os.Getenv("SHIPWAY_TEST_AWS_SECRET_ACCESS_KEY")
	if host == "" || region == "" || key == "" || secret == "" {
		t.Skip("ECR test environment not configured")
	}

	src := NewECRSource(host, region, key, secret, discardLogger())
	cred, err := src.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AWS", cred.Username)
	assert.NotEmpty(t, cred.Password)

	// Second call must come from cache.
	again, err := src.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cred.Password, again.Password)
}
