// Package deployer runs the single-host deployment operation: verify the
// registry credential, replace the running workload, wait for health, and
// report. One call is one sequential blocking pipeline; the steps are
// strictly ordered and each depends on the prior step's remote state.
package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shipway/shipway/internal/core/deploy"
	"github.com/shipway/shipway/internal/shell/health"
	"github.com/shipway/shipway/internal/shell/workload"
)

// =============================================================================
// Collaborator Surfaces
// =============================================================================

// Verifier performs the registry login handshake so a rejected credential
// fails the deployment before any host is touched.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Prober is the liveness poll the replacer hands control to after the
// settle delay.
type Prober interface {
	Poll(ctx context.Context, url string) (health.Report, error)
}

// =============================================================================
// Replacer
// =============================================================================

// Replacer deploys one artifact onto one host and confirms it serves.
type Replacer struct {
	verifier Verifier
	prober   Prober
	workload deploy.Workload
	logger   *slog.Logger

	pruneTimeout time.Duration
}

// New builds a replacer. A nil verifier skips the engine-side handshake;
// the on-host docker login still runs.
func New(verifier Verifier, prober Prober, w deploy.Workload, logger *slog.Logger) *Replacer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replacer{
		verifier:     verifier,
		prober:       prober,
		workload:     w,
		logger:       logger.With("component", "deployer"),
		pruneTimeout: 2 * time.Minute,
	}
}

// Deploy executes the replacement pipeline for one request on the given
// host. The outcome is immutable and produced exactly once. A workload
// that starts but never turns healthy is left running for inspection,
// never rolled back; its recent log output travels in the outcome.
func (r *Replacer) Deploy(ctx context.Context, req deploy.Request, host workload.Host) deploy.Outcome {
	logger := r.logger.With("environment", req.Environment, "artifact", string(req.Artifact), "version", req.Version)
	plan := deploy.BuildPlan(req, r.workload)

	if r.verifier != nil {
		if err := r.verifier.Verify(ctx); err != nil {
			logger.Error("registry verification failed", "error", err)
			return deploy.Failure(fmt.Errorf("%w: %v", deploy.ErrRegistryAuth, err), err.Error())
		}
	}

	logger.Info("replacing workload", "container", plan.ContainerName)
	out, err := host.Apply(ctx, plan)
	if err != nil {
		logger.Error("workload replacement failed", "error", err, "stage", deploy.Classify(err))
		return deploy.Failure(err, string(out))
	}

	if r.workload.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return deploy.Failure(ctx.Err(), "aborted during settle delay")
		case <-time.After(r.workload.SettleDelay):
		}
	}

	url := deploy.HealthURL(req.Host.Address, r.workload.Port, r.workload.HealthPath)
	report, err := r.prober.Poll(ctx, url)
	if err != nil {
		diagnostics := r.captureDiagnostics(ctx, host, plan)
		logger.Error("health check failed", "error", err, "attempts", report.Attempts)
		return deploy.Failure(err, diagnostics)
	}

	logger.Info("deployment healthy",
		"attempts", report.Attempts,
		"elapsed", report.Elapsed,
		"reported_version", report.Liveness.Version,
	)

	// Retention cleanup is best-effort and never blocks the outcome.
	go r.prune(host, plan, logger)

	return deploy.Outcome{Success: true}
}

// captureDiagnostics grabs the workload's recent log output for the
// failure report. Capture failures degrade to the error text; the caller
// still gets its outcome.
func (r *Replacer) captureDiagnostics(ctx context.Context, host workload.Host, plan deploy.Plan) string {
	// The invoking context may already be cancelled; diagnostics get
	// their own budget.
	capCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	out, err := host.Diagnostics(capCtx, plan)
	if err != nil {
		r.logger.Warn("failed to capture workload diagnostics", "error", err)
		return fmt.Sprintf("diagnostics unavailable: %v", err)
	}
	return string(out)
}

func (r *Replacer) prune(host workload.Host, plan deploy.Plan, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), r.pruneTimeout)
	defer cancel()

	if err := host.Prune(ctx, plan); err != nil {
		logger.Warn("artifact prune failed", "error", err)
		return
	}
	logger.Debug("pruned stale artifacts", "retention", plan.PruneAfter)
}
