package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipway/shipway/internal/core/promotion"
	"github.com/shipway/shipway/internal/shell/promoter"
)

type fakeRunner struct {
	calls  atomic.Int64
	result promotion.StageResult
	err    error
}

func (f *fakeRunner) RunAcceptance(context.Context, bool) (promotion.StageResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func TestServiceDisabledWithoutSchedule(t *testing.T) {
	s := NewService(&fakeRunner{}, "", nil)

	assert.False(t, s.Enabled())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestServiceRejectsBadSchedule(t *testing.T) {
	s := NewService(&fakeRunner{}, "not a cron expression", nil)

	assert.Error(t, s.Start(context.Background()))
}

func TestServiceFiresAcceptance(t *testing.T) {
	runner := &fakeRunner{
		result: promotion.StageResult{Status: promotion.StatusAcceptancePassed},
	}
	s := NewService(runner, "@every 10ms", nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runner.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServiceToleratesBusySkip(t *testing.T) {
	runner := &fakeRunner{
		err: fmt.Errorf("acceptance: %w", promoter.ErrEnvironmentBusy),
	}
	s := NewService(runner, "@every 10ms", nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Busy skips must not stop the schedule.
	require.Eventually(t, func() bool {
		return runner.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}
