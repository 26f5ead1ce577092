package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
)

// CheckpointManager snapshots run state at phase-completion boundaries and
// restores it on rollback. Checkpoints are write-once; rollback references
// them, never edits them.
type CheckpointManager struct {
	store  storage.Store
	logger Logger
}

func NewCheckpointManager(store storage.Store, logger Logger) *CheckpointManager {
	return &CheckpointManager{store: store, logger: logger}
}

// Create snapshots the run's phase statuses and active artifacts after the
// given execution completed. The execution row is stamped with the checkpoint
// it produced.
func (m *CheckpointManager) Create(run models.PipelineRun, exec models.PhaseExecution, statuses map[string]models.PhaseStatus, artifactIDs []string) (models.Checkpoint, error) {
	snap := make(map[string]models.PhaseStatus, len(statuses))
	for k, v := range statuses {
		// An in-flight phase has produced nothing restorable; it snapshots
		// as pending so a rollback re-dispatches it.
		if v == models.RunningPhaseStatus {
			snap[k] = models.PendingPhaseStatus
			continue
		}
		snap[k] = v
	}
	cp := models.Checkpoint{
		ID:            uuid.NewString(),
		RunID:         run.ID,
		AfterPhase:    exec.PhaseID,
		CurrentPhase:  run.CurrentPhase,
		PhaseStatuses: snap,
		ArtifactIDs:   append([]string(nil), artifactIDs...),
		CreatedAt:     time.Now(),
	}
	if err := m.store.SaveCheckpoint(cp); err != nil {
		return models.Checkpoint{}, errors.Wrapf(err, "save checkpoint for run %s", run.ID)
	}
	if err := m.store.UpdateExecutionCheckpoint(exec.ID, cp.ID); err != nil {
		return models.Checkpoint{}, errors.Wrapf(err, "stamp execution %s with checkpoint %s", exec.ID, cp.ID)
	}
	m.logger.Infof("Checkpoint %s taken for run %s after phase %s", cp.ID, run.ID, exec.PhaseID)
	return cp, nil
}

// Rollback restores the run to the given checkpoint. Every execution started
// or finished strictly after the checkpoint is marked rolled_back; its tool
// calls and artifacts stay in the audit trail but leave the run's active
// state. The checkpoint must belong to the run, and the run keeps its own
// status (a paused run stays paused). Repeating a rollback from the restored
// state is a no-op.
func (m *CheckpointManager) Rollback(run models.PipelineRun, checkpointID string) (models.Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(checkpointID)
	if err != nil {
		return models.Checkpoint{}, errors.Wrapf(err, "load checkpoint %s", checkpointID)
	}
	if cp.RunID != run.ID {
		return models.Checkpoint{}, &RollbackConflictError{RunID: run.ID, CheckpointID: checkpointID, OwnerRunID: cp.RunID}
	}

	execs, err := m.store.ListExecutions(run.ID)
	if err != nil {
		return models.Checkpoint{}, errors.Wrapf(err, "list executions for run %s", run.ID)
	}
	after := func(t *time.Time) bool { return t != nil && t.After(cp.CreatedAt) }
	for _, e := range execs {
		if e.Status == models.RolledBackPhaseStatus {
			continue
		}
		// Executions that straddle the checkpoint (started before, finished
		// after) are not part of the restored state either.
		if !after(e.StartedAt) && !after(e.FinishedAt) {
			continue
		}
		if err := m.store.UpdateExecutionStatus(e.ID, models.RolledBackPhaseStatus, ""); err != nil {
			return models.Checkpoint{}, errors.Wrapf(err, "mark execution %s rolled back", e.ID)
		}
	}

	if err := m.store.UpdateRunStatus(run.ID, run.Status, cp.CurrentPhase); err != nil {
		return models.Checkpoint{}, errors.Wrapf(err, "restore run %s pointer", run.ID)
	}
	m.logger.Infof("Run %s rolled back to checkpoint %s (after phase %s)", run.ID, cp.ID, cp.AfterPhase)
	return cp, nil
}

// List returns a run's checkpoints.
func (m *CheckpointManager) List(runID string) ([]models.Checkpoint, error) {
	return m.store.ListCheckpoints(runID)
}
