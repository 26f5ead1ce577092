package storage

import (
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations for the engine. Implementations
// must make each write atomic; the engine serializes run-level writes itself.
type Store interface {
	// Transaction control. Begin returns a Store scoped to one transaction.
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Template operations
	SaveTemplate(t models.WorkflowTemplate) error
	GetTemplate(id string) (models.WorkflowTemplate, error)
	ListTemplates() ([]models.WorkflowTemplate, error)

	// Project operations
	SaveProject(p models.Project) error
	GetProject(id string) (models.Project, error)
	ListProjects() ([]models.Project, error)
	UpdateProjectStatus(id string, status models.ProjectStatus, activePhase string) error

	// Run operations
	SaveRun(r models.PipelineRun) error
	GetRun(id string) (models.PipelineRun, error)
	ListRuns(projectID string) ([]models.PipelineRun, error)
	UpdateRunStatus(id string, status models.RunStatus, currentPhase string) error

	// Phase execution operations
	SaveExecution(e models.PhaseExecution) error
	GetExecution(id string) (models.PhaseExecution, error)
	ListExecutions(runID string) ([]models.PhaseExecution, error)
	UpdateExecutionStatus(id string, status models.PhaseStatus, errorMsg string) error
	UpdateExecutionCheckpoint(id, checkpointID string) error
	UpdateExecutionUsage(id string, tokensIn, tokensOut int64) error

	// Artifact operations (write-once)
	SaveArtifact(a models.Artifact) error
	ListArtifacts(executionID string) ([]models.Artifact, error)

	// Checkpoint operations (write-once)
	SaveCheckpoint(c models.Checkpoint) error
	GetCheckpoint(id string) (models.Checkpoint, error)
	ListCheckpoints(runID string) ([]models.Checkpoint, error)

	// Tool call audit log (append-only)
	SaveToolCall(tc models.ToolCall) error
	ListToolCalls(executionID string) ([]models.ToolCall, error)

	// Escalation records
	SaveEscalation(e models.Escalation) error
	ListEscalations(runID string) ([]models.Escalation, error)
}
