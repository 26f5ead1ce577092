package models

import "time"

// Checkpoint is a restorable, point-in-time snapshot of run state, owned by
// exactly one PipelineRun. Created at phase-completion boundaries, never
// mutated, referenced (not embedded) by later rollbacks.
type Checkpoint struct {
	ID            string                 `json:"id" db:"id"`
	RunID         string                 `json:"run_id" db:"run_id"`
	AfterPhase    string                 `json:"after_phase" db:"after_phase"` // Phase whose completion triggered the snapshot
	CurrentPhase  string                 `json:"current_phase" db:"current_phase"`
	PhaseStatuses map[string]PhaseStatus `json:"phase_statuses" db:"-"`
	ArtifactIDs   []string               `json:"artifact_ids" db:"-"` // Active artifacts at snapshot time
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}
