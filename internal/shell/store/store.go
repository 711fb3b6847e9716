package store

import (
	"context"

	"github.com/shipway/shipway/internal/core/promotion"
)

// Store is the promotion journal interface.
type Store interface {
	// RecordStart inserts a freshly created run.
	RecordStart(ctx context.Context, run *promotion.Run) error

	// RecordResult writes the run's terminal state. Runs unknown to the
	// journal (for example skipped no-op runs) are inserted.
	RecordResult(ctx context.Context, run *promotion.Run) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]promotion.Run, error)

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, id string) (*promotion.Run, error)

	// Close releases the underlying connection.
	Close() error
}
