package deploy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shipway/shipway/internal/core/artifact"
)

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify_TaxonomyMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureStage
	}{
		{"nil", nil, FailureNone},
		{"resolve", artifact.ErrInvalidReference, FailureResolve},
		{"auth", ErrRegistryAuth, FailureAuth},
		{"pull", ErrArtifactPull, FailurePull},
		{"connect", ErrRemoteConnection, FailureConnect},
		{"health", ErrHealthTimeout, FailureHealth},
		{"execute", ErrRemoteDeployment, FailureExecute},
		{"unknown", assert.AnError, FailureExecute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_WrappedError(t *testing.T) {
	err := fmt.Errorf("deploy qa: %w", fmt.Errorf("%w: denied", ErrArtifactPull))
	assert.Equal(t, FailurePull, Classify(err))
}

// =============================================================================
// Outcome Tests
// =============================================================================

func TestFailure_CarriesStageAndDiagnostics(t *testing.T) {
	out := Failure(ErrHealthTimeout, "last 100 log lines")
	assert.False(t, out.Success)
	assert.Equal(t, FailureHealth, out.FailureStage)
	assert.Equal(t, "last 100 log lines", out.Diagnostics)
}
