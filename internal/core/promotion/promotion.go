// Package promotion models the stage graph an artifact moves through on
// its way to production: build publishes latest, acceptance mints a release
// candidate, QA verifies it, sign-off records the human verdict, production
// releases it.
package promotion

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid promotion transition")
	ErrSignoffDenied     = errors.New("sign-off denied")
)

// =============================================================================
// Stages
// =============================================================================

// Stage names one step of the promotion chain.
type Stage string

const (
	StageAcceptance Stage = "acceptance"
	StageQA         Stage = "qa"
	StageSignoff    Stage = "signoff"
	StageProduction Stage = "production"
)

// =============================================================================
// Statuses
// =============================================================================

// Status is the promotion chain state for one artifact version.
type Status string

const (
	StatusNotStarted        Status = "not_started"
	StatusAcceptanceRunning Status = "acceptance_running"
	StatusAcceptancePassed  Status = "acceptance_passed"
	StatusQARunning         Status = "qa_running"
	StatusQAPassed          Status = "qa_passed"
	StatusSignoffPending    Status = "signoff_pending"
	StatusSignoffGranted    Status = "signoff_granted"
	StatusSignoffDenied     Status = "signoff_denied"
	StatusProductionRunning Status = "production_running"
	StatusReleased          Status = "released"
	StatusFailed            Status = "failed"
)

// validTransitions defines the allowed chain transitions. A run enters the
// chain at its stage's entry status (derived from the registry tag set, not
// loaded from anywhere) and only ever moves forward.
var validTransitions = map[Status][]Status{
	StatusNotStarted:        {StatusAcceptanceRunning},
	StatusAcceptanceRunning: {StatusAcceptancePassed, StatusFailed},
	StatusAcceptancePassed:  {StatusQARunning},
	StatusQARunning:         {StatusQAPassed, StatusFailed},
	StatusQAPassed:          {StatusSignoffPending},
	StatusSignoffPending:    {StatusSignoffGranted, StatusSignoffDenied},
	StatusSignoffGranted:    {StatusProductionRunning},
	StatusSignoffDenied:     {}, // Terminal: a fresh acceptance run restarts the chain
	StatusProductionRunning: {StatusReleased, StatusFailed},
	StatusReleased:          {}, // Terminal success
	StatusFailed:            {}, // Terminal: re-trigger is manual, never automatic
}

// ValidateTransition checks if a chain transition is valid.
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// IsTerminal reports whether no further transition can leave the status.
func IsTerminal(s Status) bool {
	return len(validTransitions[s]) == 0
}

// stageEntry is the chain status a stage's run starts from. The coordinator
// verifies the registry tag set actually supports that entry point before
// running the stage.
var stageEntry = map[Stage]Status{
	StageAcceptance: StatusNotStarted,
	StageQA:         StatusAcceptancePassed,
	StageSignoff:    StatusQAPassed,
	StageProduction: StatusSignoffGranted,
}

// =============================================================================
// Runs
// =============================================================================

// Run is one invocation of one promotion stage.
type Run struct {
	ID          string     `json:"id"`
	Stage       Stage      `json:"stage"`
	Environment string     `json:"environment,omitempty"`
	Status      Status     `json:"status"`
	ArtifactRef string     `json:"artifact_ref,omitempty"`
	ProducedTag string     `json:"produced_tag,omitempty"`
	Diagnostics string     `json:"diagnostics,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// NewRun creates a run for a stage, entering the chain at the stage's
// entry status.
func NewRun(stage Stage, environment string) *Run {
	return &Run{
		ID:          uuid.New().String(),
		Stage:       stage,
		Environment: environment,
		Status:      stageEntry[stage],
		StartedAt:   time.Now().UTC(),
	}
}

// Transition attempts to move the run to a new chain status.
func (r *Run) Transition(to Status) error {
	if err := ValidateTransition(r.Status, to); err != nil {
		return err
	}
	r.Status = to
	if IsTerminal(to) {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	return nil
}

// Fail moves an in-flight run to the terminal failed status, attaching the
// captured diagnostics.
func (r *Run) Fail(diagnostics string) error {
	switch r.Status {
	case StatusAcceptanceRunning, StatusQARunning, StatusProductionRunning:
		r.Diagnostics = diagnostics
		return r.Transition(StatusFailed)
	default:
		return ErrInvalidTransition
	}
}

// Skip finishes an acceptance run that found no qualifying new artifact.
// A skipped run is a no-op, not a failure.
func (r *Run) Skip(note string) error {
	if r.Status != StatusNotStarted {
		return ErrInvalidTransition
	}
	r.Diagnostics = note
	now := time.Now().UTC()
	r.FinishedAt = &now
	return nil
}

// =============================================================================
// Stage Results
// =============================================================================

// StageResult is what a stage invocation hands back to its caller. Results
// chain: each stage consumes the tag produced by the stage before it.
type StageResult struct {
	RunID       string `json:"run_id"`
	Stage       Stage  `json:"stage"`
	Status      Status `json:"status"`
	ProducedTag string `json:"produced_tag,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Result snapshots the run as a stage result.
func (r *Run) Result() StageResult {
	return StageResult{
		RunID:       r.ID,
		Stage:       r.Stage,
		Status:      r.Status,
		ProducedTag: r.ProducedTag,
		Diagnostics: r.Diagnostics,
	}
}

// Failed reports whether the result must surface as a non-zero process
// status: hard stage failures and denied sign-offs both halt promotion.
func (sr StageResult) Failed() bool {
	return sr.Status == StatusFailed || sr.Status == StatusSignoffDenied
}
