package storage

import (
	"sync"
	"time"

	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/pkg/errors"
)

// mockStore implements Store with in-memory storage. Safe for concurrent use
// so executor goroutines can append audit rows while the scheduler writes
// run state.
type mockStore struct {
	mu          *sync.Mutex
	templates   []models.WorkflowTemplate
	projects    []models.Project
	runs        []models.PipelineRun
	executions  []models.PhaseExecution
	artifacts   []models.Artifact
	checkpoints []models.Checkpoint
	toolCalls   []models.ToolCall
	escalations []models.Escalation
}

func NewMockStore() Store {
	return &mockStore{mu: &sync.Mutex{}}
}

// Begin returns the store itself: the mock applies writes immediately.
func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveTemplate(t models.WorkflowTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.templates {
		if existing.ID == t.ID {
			m.templates[i] = t
			return nil
		}
	}
	m.templates = append(m.templates, t)
	return nil
}

func (m *mockStore) GetTemplate(id string) (models.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return models.WorkflowTemplate{}, ErrNotFound
}

func (m *mockStore) ListTemplates() ([]models.WorkflowTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkflowTemplate, len(m.templates))
	copy(out, m.templates)
	return out, nil
}

func (m *mockStore) SaveProject(p models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.projects {
		if existing.ID == p.ID {
			return errors.New("project already exists")
		}
	}
	m.projects = append(m.projects, p)
	return nil
}

func (m *mockStore) GetProject(id string) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Project{}, ErrNotFound
}

func (m *mockStore) ListProjects() ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Project, len(m.projects))
	copy(out, m.projects)
	return out, nil
}

func (m *mockStore) UpdateProjectStatus(id string, status models.ProjectStatus, activePhase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.projects {
		if p.ID == id {
			m.projects[i].Status = status
			m.projects[i].ActivePhase = activePhase
			m.projects[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveRun(r models.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.ID == r.ID {
			return errors.New("run already exists")
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *mockStore) GetRun(id string) (models.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return models.PipelineRun{}, ErrNotFound
}

func (m *mockStore) ListRuns(projectID string) ([]models.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PipelineRun
	for _, r := range m.runs {
		if projectID == "" || r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateRunStatus(id string, status models.RunStatus, currentPhase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == id {
			m.runs[i].Status = status
			m.runs[i].CurrentPhase = currentPhase
			m.runs[i].UpdatedAt = time.Now()
			if status.Terminal() {
				now := time.Now()
				m.runs[i].FinishedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveExecution(e models.PhaseExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.executions {
		if existing.ID == e.ID {
			return errors.New("execution already exists")
		}
	}
	m.executions = append(m.executions, e)
	return nil
}

func (m *mockStore) GetExecution(id string) (models.PhaseExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executions {
		if e.ID == id {
			return e, nil
		}
	}
	return models.PhaseExecution{}, ErrNotFound
}

func (m *mockStore) ListExecutions(runID string) ([]models.PhaseExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PhaseExecution
	for _, e := range m.executions {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateExecutionStatus(id string, status models.PhaseStatus, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.executions {
		if e.ID == id {
			m.executions[i].Status = status
			m.executions[i].ErrorMsg = errorMsg
			if status.Terminal() {
				now := time.Now()
				m.executions[i].FinishedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateExecutionCheckpoint(id, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.executions {
		if e.ID == id {
			m.executions[i].CheckpointID = checkpointID
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateExecutionUsage(id string, tokensIn, tokensOut int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.executions {
		if e.ID == id {
			m.executions[i].TokensInput += tokensIn
			m.executions[i].TokensOutput += tokensOut
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveArtifact(a models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.artifacts {
		if existing.ID == a.ID {
			return errors.New("artifact is immutable")
		}
	}
	m.artifacts = append(m.artifacts, a)
	return nil
}

func (m *mockStore) ListArtifacts(executionID string) ([]models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Artifact
	for _, a := range m.artifacts {
		if a.ExecutionID == executionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) SaveCheckpoint(c models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checkpoints {
		if existing.ID == c.ID {
			return errors.New("checkpoint is immutable")
		}
	}
	m.checkpoints = append(m.checkpoints, c)
	return nil
}

func (m *mockStore) GetCheckpoint(id string) (models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checkpoints {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Checkpoint{}, ErrNotFound
}

func (m *mockStore) ListCheckpoints(runID string) ([]models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Checkpoint
	for _, c := range m.checkpoints {
		if c.RunID == runID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockStore) SaveToolCall(tc models.ToolCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = append(m.toolCalls, tc)
	return nil
}

func (m *mockStore) ListToolCalls(executionID string) ([]models.ToolCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ToolCall
	for _, tc := range m.toolCalls {
		if tc.ExecutionID == executionID {
			out = append(out, tc)
		}
	}
	return out, nil
}

func (m *mockStore) SaveEscalation(e models.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, e)
	return nil
}

func (m *mockStore) ListEscalations(runID string) ([]models.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Escalation
	for _, e := range m.escalations {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}
