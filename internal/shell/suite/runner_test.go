package suite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPassesTargetThroughEnvironment(t *testing.T) {
	r := NewRunner([]string{"sh", "-c", `printf '%s %s %s' "$SHIPWAY_TARGET_URL" "$SHIPWAY_ARTIFACT" "$SHIPWAY_VERSION"`}, time.Minute, nil)

	out, err := r.Run(context.Background(), Target{
		URL:      "http://10.0.0.5:8080",
		Artifact: "ghcr.io/acme/app:latest",
		Version:  "v1.0.0-rc.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080 ghcr.io/acme/app:latest v1.0.0-rc.1", string(out))
}

func TestRunNonZeroExitBecomesSuiteFailure(t *testing.T) {
	r := NewRunner([]string{"sh", "-c", "echo 'assertion failed: /orders returned 500'; exit 3"}, time.Minute, nil)

	out, err := r.Run(context.Background(), Target{})
	require.ErrorIs(t, err, ErrSuiteFailed)
	assert.Contains(t, string(out), "assertion failed")
}

func TestRunTimeoutBecomesSuiteFailure(t *testing.T) {
	r := NewRunner([]string{"sleep", "60"}, 50*time.Millisecond, nil)

	_, err := r.Run(context.Background(), Target{})
	require.ErrorIs(t, err, ErrSuiteFailed)
}

func TestEmptyCommandSkipsSuite(t *testing.T) {
	r := NewRunner(nil, time.Minute, nil)

	assert.False(t, r.Enabled())
	out, err := r.Run(context.Background(), Target{})
	require.NoError(t, err)
	assert.Nil(t, out)
}
