package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"

	"github.com/shipway/shipway/internal/core/deploy"
)

// =============================================================================
// ECR Credential Source
// =============================================================================

// ECRSource exchanges AWS credentials for a short-lived ECR login token.
// Tokens are cached until shortly before they expire; ECR hands out
// twelve-hour tokens with the fixed principal "AWS".
type ECRSource struct {
	Host            string
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	logger *slog.Logger

	mu      sync.Mutex
	cached  deploy.RegistryCredential
	expires time.Time
}

// NewECRSource creates an ECR credential source for one registry host.
func NewECRSource(host, region, accessKeyID, secretAccessKey string, logger *slog.Logger) *ECRSource {
	return &ECRSource{
		Host:            host,
		Region:          region,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		logger:          logger.With("component", "ecr"),
	}
}

func (s *ECRSource) newClient() *ecr.Client {
	return ecr.New(ecr.Options{
		Region:      s.Region,
		Credentials: credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
	})
}

// Credential returns a valid login pair, refreshing the token when the
// cached one is within five minutes of expiry.
func (s *ECRSource) Credential(ctx context.Context) (deploy.RegistryCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached.Password != "" && time.Until(s.expires) > 5*time.Minute {
		return s.cached, nil
	}

	out, err := s.newClient().GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return deploy.RegistryCredential{}, fmt.Errorf("%w: ecr token exchange: %v", deploy.ErrRegistryAuth, err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return deploy.RegistryCredential{}, fmt.Errorf("%w: ecr returned no authorization data", deploy.ErrRegistryAuth)
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(*data.AuthorizationToken)
	if err != nil {
		return deploy.RegistryCredential{}, fmt.Errorf("%w: malformed ecr token: %v", deploy.ErrRegistryAuth, err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return deploy.RegistryCredential{}, fmt.Errorf("%w: malformed ecr token", deploy.ErrRegistryAuth)
	}

	s.cached = deploy.RegistryCredential{Host: s.Host, Username: user, Password: pass}
	s.expires = time.Now().Add(12 * time.Hour)
	if data.ExpiresAt != nil {
		s.expires = *data.ExpiresAt
	}
	s.logger.Info("refreshed ecr token", "registry", s.Host, "expires_at", s.expires)

	return s.cached, nil
}
