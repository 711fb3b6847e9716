package deployer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipway/shipway/internal/core/deploy"
	"github.com/shipway/shipway/internal/shell/health"
)

type fakeVerifier struct{ err error }

func (f fakeVerifier) Verify(context.Context) error { return f.err }

type fakeProber struct {
	report health.Report
	err    error
}

func (f fakeProber) Poll(context.Context, string) (health.Report, error) { return f.report, f.err }

type fakeHost struct {
	mu sync.Mutex

	applyOut []byte
	applyErr error
	diagOut  []byte
	diagErr  error
	pruneErr error

	applied bool
	pruned  chan struct{}
}

func newFakeHost() *fakeHost {
	return &fakeHost{pruned: make(chan struct{}, 1)}
}

func (f *fakeHost) Apply(_ context.Context, _ deploy.Plan) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = true
	return f.applyOut, f.applyErr
}

func (f *fakeHost) Diagnostics(_ context.Context, _ deploy.Plan) ([]byte, error) {
	return f.diagOut, f.diagErr
}

func (f *fakeHost) Prune(_ context.Context, _ deploy.Plan) error {
	select {
	case f.pruned <- struct{}{}:
	default:
	}
	return f.pruneErr
}

func testRequest() deploy.Request {
	return deploy.Request{
		Environment: "acceptance",
		Artifact:    "ghcr.io/acme/app@sha256:0000000000000000000000000000000000000000000000000000000000000000",
		Version:     "v1.0.0-rc.1",
		Host:        deploy.HostSpec{Address: "10.0.0.5"},
	}
}

func testWorkload() deploy.Workload {
	return deploy.Workload{Name: "app", Port: 8080, HealthPath: "/health"}
}

func TestDeploySuccessPrunesAsynchronously(t *testing.T) {
	host := newFakeHost()
	r := New(fakeVerifier{}, fakeProber{report: health.Report{Healthy: true, Attempts: 1}}, testWorkload(), nil)

	outcome := r.Deploy(context.Background(), testRequest(), host)

	assert.True(t, outcome.Success)
	assert.Equal(t, deploy.FailureNone, outcome.FailureStage)

	select {
	case <-host.pruned:
	case <-time.After(time.Second):
		t.Fatal("prune was never invoked after confirmed health")
	}
}

func TestDeployFailsFastOnRejectedCredential(t *testing.T) {
	host := newFakeHost()
	r := New(fakeVerifier{err: errors.New("401 unauthorized")}, fakeProber{}, testWorkload(), nil)

	outcome := r.Deploy(context.Background(), testRequest(), host)

	assert.False(t, outcome.Success)
	assert.Equal(t, deploy.FailureAuth, outcome.FailureStage)
	assert.False(t, host.applied, "host must not be touched after a rejected credential")
}

func TestDeployClassifiesApplyFailure(t *testing.T) {
	host := newFakeHost()
	host.applyOut = []byte("::step pull\nmanifest unknown")
	host.applyErr = deploy.ErrArtifactPull

	r := New(nil, fakeProber{}, testWorkload(), nil)
	outcome := r.Deploy(context.Background(), testRequest(), host)

	assert.False(t, outcome.Success)
	assert.Equal(t, deploy.FailurePull, outcome.FailureStage)
	assert.Contains(t, outcome.Diagnostics, "manifest unknown")
}

func TestDeployHealthTimeoutCapturesDiagnosticsAndLeavesWorkloadRunning(t *testing.T) {
	host := newFakeHost()
	host.diagOut = []byte("panic: listen tcp :8080 bind failed")

	r := New(nil, fakeProber{err: deploy.ErrHealthTimeout}, testWorkload(), nil)
	outcome := r.Deploy(context.Background(), testRequest(), host)

	assert.False(t, outcome.Success)
	assert.Equal(t, deploy.FailureHealth, outcome.FailureStage)
	assert.Contains(t, outcome.Diagnostics, "bind failed")

	select {
	case <-host.pruned:
		t.Fatal("prune must not run after a failed health check")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeployDiagnosticsCaptureFailureDegradesGracefully(t *testing.T) {
	host := newFakeHost()
	host.diagErr = errors.New("connection reset")

	r := New(nil, fakeProber{err: deploy.ErrHealthTimeout}, testWorkload(), nil)
	outcome := r.Deploy(context.Background(), testRequest(), host)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Diagnostics, "diagnostics unavailable")
}

func TestDeployAbortedDuringSettleDelay(t *testing.T) {
	host := newFakeHost()
	w := testWorkload()
	w.SettleDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	r := New(nil, fakeProber{report: health.Report{Healthy: true}}, w, nil)
	outcome := r.Deploy(ctx, testRequest(), host)

	require.False(t, outcome.Success)
	assert.True(t, host.applied)
}
