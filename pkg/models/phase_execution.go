package models

import "time"

type PhaseStatus string

const (
	PendingPhaseStatus    PhaseStatus = "PENDING"
	RunningPhaseStatus    PhaseStatus = "RUNNING"
	CompletedPhaseStatus  PhaseStatus = "COMPLETED"
	FailedPhaseStatus     PhaseStatus = "FAILED"
	SkippedPhaseStatus    PhaseStatus = "SKIPPED"
	RolledBackPhaseStatus PhaseStatus = "ROLLED_BACK"
)

// Terminal reports whether the status admits no further transitions.
func (s PhaseStatus) Terminal() bool {
	switch s {
	case CompletedPhaseStatus, FailedPhaseStatus, SkippedPhaseStatus, RolledBackPhaseStatus:
		return true
	}
	return false
}

// Satisfied reports whether the status satisfies a downstream dependency.
// A skipped phase counts: dependents proceed without its artifact.
func (s PhaseStatus) Satisfied() bool {
	return s == CompletedPhaseStatus || s == SkippedPhaseStatus
}

// PhaseExecution is one phase's runtime attempt within a run. A retry appends
// a new execution row with an incremented attempt; prior rows are never
// rewritten, so the audit trail survives.
type PhaseExecution struct {
	ID           string      `json:"id" db:"id"`
	RunID        string      `json:"run_id" db:"run_id"`
	PhaseID      string      `json:"phase_id" db:"phase_id"`
	Attempt      int         `json:"attempt" db:"attempt"`
	Status       PhaseStatus `json:"status" db:"status"`
	ModelTier    ModelTier   `json:"model_tier" db:"model_tier"`
	ErrorMsg     string      `json:"error,omitempty" db:"error_msg"`
	TokensInput  int64       `json:"tokens_input" db:"tokens_input"`
	TokensOutput int64       `json:"tokens_output" db:"tokens_output"`
	CheckpointID string      `json:"checkpoint_id,omitempty" db:"checkpoint_id"` // Checkpoint taken at the completion boundary, if any
	StartedAt    *time.Time  `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}
