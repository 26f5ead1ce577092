package models

import "time"

type ProjectStatus string

const (
	IdleProjectStatus      ProjectStatus = "IDLE"
	RunningProjectStatus   ProjectStatus = "RUNNING"
	PausedProjectStatus    ProjectStatus = "PAUSED"
	CompletedProjectStatus ProjectStatus = "COMPLETED"
	FailedProjectStatus    ProjectStatus = "FAILED"
)

// Project owns zero-or-more pipeline runs over time.
// Status and ActivePhase are mutated only by the scheduler.
type Project struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Status      ProjectStatus `json:"status" db:"status"`
	ActivePhase string        `json:"active_phase,omitempty" db:"active_phase"` // Currently active phase, empty when idle
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}
