package models

import "time"

type RunStatus string

const (
	IdleRunStatus      RunStatus = "IDLE"
	RunningRunStatus   RunStatus = "RUNNING"
	PausedRunStatus    RunStatus = "PAUSED"
	CompletedRunStatus RunStatus = "COMPLETED"
	FailedRunStatus    RunStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == CompletedRunStatus || s == FailedRunStatus
}

// PipelineRun is one execution attempt of a project's pipeline.
// TemplateSnapshot is copied at start; later template edits never affect
// an in-flight run.
type PipelineRun struct {
	ID               string           `json:"id" db:"id"`
	ProjectID        string           `json:"project_id" db:"project_id"`
	TemplateID       string           `json:"template_id" db:"template_id"`
	TemplateSnapshot WorkflowTemplate `json:"template_snapshot" db:"-"`
	Status           RunStatus        `json:"status" db:"status"`
	CurrentPhase     string           `json:"current_phase,omitempty" db:"current_phase"` // Authoritative active-phase pointer
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty" db:"finished_at"`
}
