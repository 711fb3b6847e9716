// Package workload is the seam between the replacement pipeline and the
// machinery that mutates a host. A Host executes a fully resolved plan;
// the pipeline never learns whether the plan ran over SSH or against a
// local Docker daemon.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shipway/shipway/internal/core/deploy"
	"github.com/shipway/shipway/internal/shell/remote"
)

// Host runs replacement plans on one machine.
type Host interface {
	// Apply runs the ordered replacement routine. The returned output is
	// captured either way so a failure can be classified.
	Apply(ctx context.Context, plan deploy.Plan) ([]byte, error)

	// Diagnostics captures the workload's recent log output.
	Diagnostics(ctx context.Context, plan deploy.Plan) ([]byte, error)

	// Prune removes artifacts older than the plan's retention window.
	Prune(ctx context.Context, plan deploy.Plan) error
}

// =============================================================================
// SSH Transport
// =============================================================================

// routineRunner is the executor surface the SSH host drives.
type routineRunner interface {
	Execute(ctx context.Context, script string, env map[string]string) ([]byte, error)
	Capture(ctx context.Context, command string) ([]byte, error)
}

// SSHHost renders the plan as a POSIX routine and ships it to the target
// over SSH. This is the default transport for remote environments.
type SSHHost struct {
	runner routineRunner
	logger *slog.Logger
}

// NewSSHHost builds the SSH transport for one host.
func NewSSHHost(host deploy.HostSpec, config remote.Config, logger *slog.Logger) *SSHHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSHHost{
		runner: remote.NewExecutor(host, config, logger),
		logger: logger.With("component", "ssh-host", "host", host.Address),
	}
}

func (h *SSHHost) Apply(ctx context.Context, plan deploy.Plan) ([]byte, error) {
	out, err := h.runner.Execute(ctx, deploy.Script(plan), deploy.PlanEnv(plan))
	if err != nil {
		if errors.Is(err, remote.ErrRoutineFailed) {
			return out, deploy.ClassifyRoutineFailure(string(out))
		}
		return out, err
	}
	return out, nil
}

func (h *SSHHost) Diagnostics(ctx context.Context, plan deploy.Plan) ([]byte, error) {
	// The diagnostic command itself exits non-zero when the container is
	// gone; its output is still the best evidence available.
	out, err := h.runner.Capture(ctx, deploy.DiagnosticsCommand(plan))
	if err != nil && len(out) > 0 {
		return out, nil
	}
	return out, err
}

func (h *SSHHost) Prune(ctx context.Context, plan deploy.Plan) error {
	if _, err := h.runner.Capture(ctx, deploy.PruneCommand(plan)); err != nil {
		return fmt.Errorf("pruning artifacts: %w", err)
	}
	return nil
}
