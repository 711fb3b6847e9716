package promotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Transition Tests
// =============================================================================

func TestValidateTransition_AcceptancePath(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusNotStarted, StatusAcceptanceRunning))
	assert.NoError(t, ValidateTransition(StatusAcceptanceRunning, StatusAcceptancePassed))
	assert.NoError(t, ValidateTransition(StatusAcceptanceRunning, StatusFailed))
}

func TestValidateTransition_QAPath(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusAcceptancePassed, StatusQARunning))
	assert.NoError(t, ValidateTransition(StatusQARunning, StatusQAPassed))
	assert.NoError(t, ValidateTransition(StatusQARunning, StatusFailed))
}

func TestValidateTransition_SignoffPath(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusQAPassed, StatusSignoffPending))
	assert.NoError(t, ValidateTransition(StatusSignoffPending, StatusSignoffGranted))
	assert.NoError(t, ValidateTransition(StatusSignoffPending, StatusSignoffDenied))
}

func TestValidateTransition_ProductionPath(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusSignoffGranted, StatusProductionRunning))
	assert.NoError(t, ValidateTransition(StatusProductionRunning, StatusReleased))
	assert.NoError(t, ValidateTransition(StatusProductionRunning, StatusFailed))
}

func TestValidateTransition_NoSkippingStages(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
	}{
		{"not-started-to-released", StatusNotStarted, StatusReleased},
		{"acceptance-to-production", StatusAcceptancePassed, StatusProductionRunning},
		{"qa-to-granted", StatusQAPassed, StatusSignoffGranted},
		{"pending-to-released", StatusSignoffPending, StatusReleased},
		{"backwards", StatusQAPassed, StatusAcceptanceRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateTransition(tt.from, tt.to), ErrInvalidTransition)
		})
	}
}

func TestValidateTransition_TerminalStatesAreLocked(t *testing.T) {
	for _, terminal := range []Status{StatusReleased, StatusFailed, StatusSignoffDenied} {
		assert.ErrorIs(t, ValidateTransition(terminal, StatusAcceptanceRunning), ErrInvalidTransition)
		assert.True(t, IsTerminal(terminal))
	}
}

func TestIsTerminal_ActiveStates(t *testing.T) {
	for _, active := range []Status{StatusNotStarted, StatusAcceptanceRunning, StatusQARunning, StatusSignoffPending, StatusProductionRunning} {
		assert.False(t, IsTerminal(active), string(active))
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestNewRun_EntersAtStageEntry(t *testing.T) {
	tests := []struct {
		stage Stage
		want  Status
	}{
		{StageAcceptance, StatusNotStarted},
		{StageQA, StatusAcceptancePassed},
		{StageSignoff, StatusQAPassed},
		{StageProduction, StatusSignoffGranted},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			r := NewRun(tt.stage, "acceptance")
			assert.Equal(t, tt.want, r.Status)
			assert.NotEmpty(t, r.ID)
			assert.False(t, r.StartedAt.IsZero())
			assert.Nil(t, r.FinishedAt)
		})
	}
}

func TestRun_AcceptanceLifecycle(t *testing.T) {
	r := NewRun(StageAcceptance, "acceptance")
	require.NoError(t, r.Transition(StatusAcceptanceRunning))
	require.NoError(t, r.Transition(StatusAcceptancePassed))
	assert.Equal(t, StatusAcceptancePassed, r.Status)
}

func TestRun_FinishedAtSetOnTerminal(t *testing.T) {
	r := NewRun(StageProduction, "production")
	require.NoError(t, r.Transition(StatusProductionRunning))
	require.NoError(t, r.Transition(StatusReleased))
	require.NotNil(t, r.FinishedAt)
}

func TestRun_Fail(t *testing.T) {
	r := NewRun(StageQA, "qa")
	require.NoError(t, r.Transition(StatusQARunning))
	require.NoError(t, r.Fail("pull denied"))
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "pull denied", r.Diagnostics)
	assert.NotNil(t, r.FinishedAt)
}

func TestRun_FailOnlyWhileRunning(t *testing.T) {
	r := NewRun(StageQA, "qa")
	assert.ErrorIs(t, r.Fail("too early"), ErrInvalidTransition)
}

func TestRun_SkipIsNotAFailure(t *testing.T) {
	r := NewRun(StageAcceptance, "acceptance")
	require.NoError(t, r.Skip("no new artifact under latest"))
	assert.Equal(t, StatusNotStarted, r.Status)
	assert.NotNil(t, r.FinishedAt)
	assert.False(t, r.Result().Failed())
}

func TestRun_SkipOnlyBeforeStart(t *testing.T) {
	r := NewRun(StageAcceptance, "acceptance")
	require.NoError(t, r.Transition(StatusAcceptanceRunning))
	assert.ErrorIs(t, r.Skip("late"), ErrInvalidTransition)
}

// =============================================================================
// StageResult Tests
// =============================================================================

func TestStageResult_FailedStatuses(t *testing.T) {
	assert.True(t, StageResult{Status: StatusFailed}.Failed())
	assert.True(t, StageResult{Status: StatusSignoffDenied}.Failed())
	assert.False(t, StageResult{Status: StatusReleased}.Failed())
	assert.False(t, StageResult{Status: StatusAcceptancePassed}.Failed())
	assert.False(t, StageResult{Status: StatusSignoffGranted}.Failed())
}

func TestRun_ResultSnapshot(t *testing.T) {
	r := NewRun(StageSignoff, "")
	r.ProducedTag = "v1.0.0-rc.1-qa-success"
	require.NoError(t, r.Transition(StatusSignoffPending))
	require.NoError(t, r.Transition(StatusSignoffGranted))

	res := r.Result()
	assert.Equal(t, r.ID, res.RunID)
	assert.Equal(t, StageSignoff, res.Stage)
	assert.Equal(t, StatusSignoffGranted, res.Status)
	assert.Equal(t, "v1.0.0-rc.1-qa-success", res.ProducedTag)
}
