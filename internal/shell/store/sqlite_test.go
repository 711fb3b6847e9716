package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipway/shipway/internal/core/promotion"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStartAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := promotion.NewRun(promotion.StageAcceptance, "acceptance")
	run.ArtifactRef = "ghcr.io/acme/app@sha256:aaa"
	require.NoError(t, s.RecordStart(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, promotion.StageAcceptance, got.Stage)
	assert.Equal(t, promotion.StatusNotStarted, got.Status)
	assert.Equal(t, "ghcr.io/acme/app@sha256:aaa", got.ArtifactRef)
	assert.Nil(t, got.FinishedAt)
}

func TestRecordResultUpdatesTerminalState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := promotion.NewRun(promotion.StageQA, "qa")
	run.Status = promotion.StatusAcceptancePassed
	require.NoError(t, s.RecordStart(ctx, run))

	require.NoError(t, run.Transition(promotion.StatusQARunning))
	require.NoError(t, run.Fail("health check timed out"))
	require.NoError(t, s.RecordResult(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, promotion.StatusFailed, got.Status)
	assert.Equal(t, "health check timed out", got.Diagnostics)
	require.NotNil(t, got.FinishedAt)
}

func TestRecordResultInsertsUnknownRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A skipped no-op run is recorded whole, without a prior start.
	run := promotion.NewRun(promotion.StageAcceptance, "acceptance")
	require.NoError(t, run.Skip("latest already promoted"))
	require.NoError(t, s.RecordResult(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "latest already promoted", got.Diagnostics)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := promotion.NewRun(promotion.StageAcceptance, "acceptance")
		run.StartedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.RecordStart(ctx, run))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
