// Package suite runs the external acceptance test suite against a freshly
// deployed workload. The suite is an external collaborator: the engine
// invokes it, injects the target coordinates, and consumes its exit
// status.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// ErrSuiteFailed marks a suite run that exited non-zero.
var ErrSuiteFailed = errors.New("acceptance suite failed")

// Target is the deployment the suite is pointed at.
type Target struct {
	URL      string
	Artifact string
	Version  string
}

// Runner invokes the configured suite command. An empty command disables
// the suite: the acceptance stage then gates on deploy and health alone.
type Runner struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner builds a runner for the configured command line.
func NewRunner(command []string, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		command: command,
		timeout: timeout,
		logger:  logger.With("component", "suite-runner"),
	}
}

// Enabled reports whether a suite command is configured.
func (r *Runner) Enabled() bool {
	return len(r.command) > 0
}

// Run executes the suite with the target injected into its environment.
// The combined output is returned either way; a non-zero exit becomes
// ErrSuiteFailed.
func (r *Runner) Run(ctx context.Context, target Target) ([]byte, error) {
	if !r.Enabled() {
		r.logger.Info("no suite configured, skipping")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Env = append(os.Environ(),
		"SHIPWAY_TARGET_URL="+target.URL,
		"SHIPWAY_ARTIFACT="+target.Artifact,
		"SHIPWAY_VERSION="+target.Version,
	)

	r.logger.Info("running acceptance suite", "command", r.command[0], "target", target.URL)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("%w: timed out after %s", ErrSuiteFailed, r.timeout)
		}
		return out, fmt.Errorf("%w: %v", ErrSuiteFailed, err)
	}

	r.logger.Info("acceptance suite passed", "elapsed", time.Since(start))
	return out, nil
}
