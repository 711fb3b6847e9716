// Package health implements the bounded-retry liveness probe used to
// confirm a freshly deployed workload is serving. One probe per attempt,
// fixed delay between attempts, success on the first healthy answer. This
// is a deploy-then-wait-until-ready check, not continuous monitoring: a
// transient failure followed by recovery within budget is full success.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shipway/shipway/internal/core/deploy"
)

// =============================================================================
// Liveness Payload
// =============================================================================

// Liveness is the body a healthy workload answers with.
type Liveness struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ParseLiveness decodes a liveness body. A malformed or empty body on a
// 200 answer still counts as healthy; the payload is informational.
func ParseLiveness(body []byte) Liveness {
	var l Liveness
	if err := json.Unmarshal(body, &l); err != nil {
		return Liveness{}
	}
	return l
}

// =============================================================================
// Report
// =============================================================================

// Report describes how a poll concluded.
type Report struct {
	Healthy  bool
	Attempts int
	Elapsed  time.Duration
	Liveness Liveness
}

// =============================================================================
// Poller
// =============================================================================

// Poller issues liveness probes against a workload URL. The retry loop is
// the only suspension point in a deployment and is strictly bounded by
// Attempts x Delay.
type Poller struct {
	attempts int
	delay    time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// DefaultAttempts and DefaultDelay bound the probe budget when the
// environment does not configure its own.
const (
	DefaultAttempts = 30
	DefaultDelay    = 2 * time.Second
)

// New creates a poller. Non-positive attempts or delay fall back to the
// defaults.
func New(attempts int, delay time.Duration, client *http.Client, logger *slog.Logger) *Poller {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		attempts: attempts,
		delay:    delay,
		client:   client,
		logger:   logger.With("component", "health-poller"),
	}
}

// Poll probes url until one attempt reports healthy or the attempt budget
// is exhausted. Never more than the configured number of probes is issued;
// the first healthy answer returns immediately without sleeping out the
// remaining budget. Exhaustion returns ErrHealthTimeout.
func (p *Poller) Poll(ctx context.Context, url string) (Report, error) {
	start := time.Now()

	for attempt := 1; attempt <= p.attempts; attempt++ {
		liveness, healthy := p.probe(ctx, url)
		if healthy {
			report := Report{
				Healthy:  true,
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Liveness: liveness,
			}
			p.logger.Info("workload healthy",
				"url", url,
				"attempt", attempt,
				"reported_version", liveness.Version,
			)
			return report, nil
		}

		p.logger.Debug("liveness probe failed", "url", url, "attempt", attempt, "max_attempts", p.attempts)

		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return Report{Attempts: attempt, Elapsed: time.Since(start)}, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	return Report{Attempts: p.attempts, Elapsed: time.Since(start)},
		fmt.Errorf("%w: no healthy answer from %s within %d attempts", deploy.ErrHealthTimeout, url, p.attempts)
}

// probe issues one liveness request. Any non-200 answer or transport
// failure counts as a failed attempt.
func (p *Poller) probe(ctx context.Context, url string) (Liveness, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Liveness{}, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Liveness{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Liveness{}, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Liveness{}, true
	}
	return ParseLiveness(body), true
}
