package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveTemplate upserts a template; the phase graph and schemas travel as one
// JSONB document.
func (s *PostgresStore) SaveTemplate(t models.WorkflowTemplate) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO templates (id, name, version, cloned_from, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = $2, version = $3, cloned_from = $4, document = $5`,
		t.ID, t.Name, t.Version, t.ClonedFrom, doc, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save template %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(id string) (models.WorkflowTemplate, error) {
	var doc []byte
	err := s.db.Get(&doc, "SELECT document FROM templates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowTemplate{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowTemplate{}, err
	}
	var t models.WorkflowTemplate
	if err := json.Unmarshal(doc, &t); err != nil {
		return models.WorkflowTemplate{}, fmt.Errorf("unmarshal template %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates() ([]models.WorkflowTemplate, error) {
	var docs [][]byte
	if err := s.db.Select(&docs, "SELECT document FROM templates ORDER BY created_at DESC"); err != nil {
		return nil, err
	}
	templates := make([]models.WorkflowTemplate, 0, len(docs))
	for _, doc := range docs {
		var t models.WorkflowTemplate
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func (s *PostgresStore) SaveProject(p models.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, status, active_phase, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Status, p.ActivePhase, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetProject(id string) (models.Project, error) {
	var p models.Project
	err := s.db.Get(&p, "SELECT * FROM projects WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Project{}, storage.ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListProjects() ([]models.Project, error) {
	projects := []models.Project{}
	err := s.db.Select(&projects, "SELECT * FROM projects ORDER BY created_at DESC")
	return projects, err
}

func (s *PostgresStore) UpdateProjectStatus(id string, status models.ProjectStatus, activePhase string) error {
	_, err := s.db.Exec(`
		UPDATE projects SET status = $1, active_phase = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`,
		status, activePhase, id)
	return err
}

func (s *PostgresStore) SaveRun(r models.PipelineRun) error {
	snapshot, err := json.Marshal(r.TemplateSnapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot for run %s: %w", r.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, project_id, template_id, template_snapshot, status, current_phase, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ProjectID, r.TemplateID, snapshot, r.Status, r.CurrentPhase, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

type runRow struct {
	models.PipelineRun
	Snapshot []byte `db:"template_snapshot"`
}

func (s *PostgresStore) GetRun(id string) (models.PipelineRun, error) {
	var row runRow
	err := s.db.Get(&row, "SELECT * FROM runs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.PipelineRun{}, storage.ErrNotFound
	}
	if err != nil {
		return models.PipelineRun{}, err
	}
	if err := json.Unmarshal(row.Snapshot, &row.PipelineRun.TemplateSnapshot); err != nil {
		return models.PipelineRun{}, fmt.Errorf("unmarshal snapshot for run %s: %w", id, err)
	}
	return row.PipelineRun, nil
}

func (s *PostgresStore) ListRuns(projectID string) ([]models.PipelineRun, error) {
	rows := []runRow{}
	var err error
	if projectID == "" {
		err = s.db.Select(&rows, "SELECT * FROM runs ORDER BY created_at DESC")
	} else {
		err = s.db.Select(&rows, "SELECT * FROM runs WHERE project_id = $1 ORDER BY created_at DESC", projectID)
	}
	if err != nil {
		return nil, err
	}
	runs := make([]models.PipelineRun, 0, len(rows))
	for _, row := range rows {
		if err := json.Unmarshal(row.Snapshot, &row.PipelineRun.TemplateSnapshot); err != nil {
			return nil, err
		}
		runs = append(runs, row.PipelineRun)
	}
	return runs, nil
}

func (s *PostgresStore) UpdateRunStatus(id string, status models.RunStatus, currentPhase string) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = $1,
		current_phase = $2,
		updated_at = CURRENT_TIMESTAMP,
		finished_at = CASE WHEN $3 IN ('COMPLETED', 'FAILED') THEN CURRENT_TIMESTAMP ELSE finished_at END
		WHERE id = $4`,
		// The CASE parameter is bound separately, so the status travels twice
		status, currentPhase, status, id)
	return err
}

func (s *PostgresStore) SaveExecution(e models.PhaseExecution) error {
	_, err := s.db.Exec(`
		INSERT INTO phase_executions (id, run_id, phase_id, attempt, status, model_tier, error_msg, tokens_input, tokens_output, checkpoint_id, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.RunID, e.PhaseID, e.Attempt, e.Status, e.ModelTier, e.ErrorMsg, e.TokensInput, e.TokensOutput, e.CheckpointID, e.StartedAt, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("save execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(id string) (models.PhaseExecution, error) {
	var e models.PhaseExecution
	err := s.db.Get(&e, "SELECT * FROM phase_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.PhaseExecution{}, storage.ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) ListExecutions(runID string) ([]models.PhaseExecution, error) {
	execs := []models.PhaseExecution{}
	err := s.db.Select(&execs, "SELECT * FROM phase_executions WHERE run_id = $1 ORDER BY started_at, attempt", runID)
	return execs, err
}

func (s *PostgresStore) UpdateExecutionStatus(id string, status models.PhaseStatus, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE phase_executions
		SET status = $1,
		error_msg = $2,
		finished_at = CASE WHEN $3 IN ('COMPLETED', 'FAILED', 'SKIPPED', 'ROLLED_BACK') THEN CURRENT_TIMESTAMP ELSE finished_at END
		WHERE id = $4`,
		status, errorMsg, status, id)
	return err
}

func (s *PostgresStore) UpdateExecutionCheckpoint(id, checkpointID string) error {
	_, err := s.db.Exec("UPDATE phase_executions SET checkpoint_id = $1 WHERE id = $2", checkpointID, id)
	return err
}

func (s *PostgresStore) UpdateExecutionUsage(id string, tokensIn, tokensOut int64) error {
	_, err := s.db.Exec(`
		UPDATE phase_executions
		SET tokens_input = tokens_input + $1, tokens_output = tokens_output + $2
		WHERE id = $3`,
		tokensIn, tokensOut, id)
	return err
}

func (s *PostgresStore) SaveArtifact(a models.Artifact) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (id, execution_id, schema_ref, content, force_accepted, accept_reason, partial, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ExecutionID, a.SchemaRef, []byte(a.Content), a.ForceAccepted, a.AcceptReason, a.Partial, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", a.ID, err)
	}
	return nil
}

type artifactRow struct {
	models.Artifact
	RawContent []byte `db:"content"`
}

func (s *PostgresStore) ListArtifacts(executionID string) ([]models.Artifact, error) {
	rows := []artifactRow{}
	err := s.db.Select(&rows, "SELECT * FROM artifacts WHERE execution_id = $1 ORDER BY created_at", executionID)
	if err != nil {
		return nil, err
	}
	artifacts := make([]models.Artifact, 0, len(rows))
	for _, row := range rows {
		row.Artifact.Content = row.RawContent
		artifacts = append(artifacts, row.Artifact)
	}
	return artifacts, nil
}

func (s *PostgresStore) SaveCheckpoint(c models.Checkpoint) error {
	statuses, err := json.Marshal(c.PhaseStatuses)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s statuses: %w", c.ID, err)
	}
	artifactIDs, err := json.Marshal(c.ArtifactIDs)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s artifacts: %w", c.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO checkpoints (id, run_id, after_phase, current_phase, phase_statuses, artifact_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.RunID, c.AfterPhase, c.CurrentPhase, statuses, artifactIDs, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", c.ID, err)
	}
	return nil
}

type checkpointRow struct {
	models.Checkpoint
	RawStatuses    []byte `db:"phase_statuses"`
	RawArtifactIDs []byte `db:"artifact_ids"`
}

func (r *checkpointRow) decode() (models.Checkpoint, error) {
	if err := json.Unmarshal(r.RawStatuses, &r.Checkpoint.PhaseStatuses); err != nil {
		return models.Checkpoint{}, fmt.Errorf("unmarshal checkpoint %s statuses: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.RawArtifactIDs, &r.Checkpoint.ArtifactIDs); err != nil {
		return models.Checkpoint{}, fmt.Errorf("unmarshal checkpoint %s artifacts: %w", r.ID, err)
	}
	return r.Checkpoint, nil
}

func (s *PostgresStore) GetCheckpoint(id string) (models.Checkpoint, error) {
	var row checkpointRow
	err := s.db.Get(&row, "SELECT * FROM checkpoints WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Checkpoint{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Checkpoint{}, err
	}
	return row.decode()
}

func (s *PostgresStore) ListCheckpoints(runID string) ([]models.Checkpoint, error) {
	rows := []checkpointRow{}
	if err := s.db.Select(&rows, "SELECT * FROM checkpoints WHERE run_id = $1 ORDER BY created_at", runID); err != nil {
		return nil, err
	}
	checkpoints := make([]models.Checkpoint, 0, len(rows))
	for i := range rows {
		cp, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, nil
}

func (s *PostgresStore) SaveToolCall(tc models.ToolCall) error {
	_, err := s.db.Exec(`
		INSERT INTO tool_calls (id, execution_id, seq, name, input, output, duration_ms, called_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tc.ID, tc.ExecutionID, tc.Seq, tc.Name, []byte(tc.Input), []byte(tc.Output), tc.DurationMs, tc.CalledAt)
	if err != nil {
		return fmt.Errorf("save tool call %s: %w", tc.ID, err)
	}
	return nil
}

type toolCallRow struct {
	models.ToolCall
	RawInput  []byte `db:"input"`
	RawOutput []byte `db:"output"`
}

func (s *PostgresStore) ListToolCalls(executionID string) ([]models.ToolCall, error) {
	rows := []toolCallRow{}
	err := s.db.Select(&rows, "SELECT * FROM tool_calls WHERE execution_id = $1 ORDER BY seq", executionID)
	if err != nil {
		return nil, err
	}
	calls := make([]models.ToolCall, 0, len(rows))
	for _, row := range rows {
		row.ToolCall.Input = row.RawInput
		row.ToolCall.Output = row.RawOutput
		calls = append(calls, row.ToolCall)
	}
	return calls, nil
}

func (s *PostgresStore) SaveEscalation(e models.Escalation) error {
	approaches, err := json.Marshal(e.AttemptedApproaches)
	if err != nil {
		return fmt.Errorf("marshal escalation %s approaches: %w", e.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO escalations (id, run_id, entity_id, reason, attempted_approaches, required_human_input, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.RunID, e.EntityID, e.Reason, approaches, e.RequiredHumanInput, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("save escalation %s: %w", e.ID, err)
	}
	return nil
}

type escalationRow struct {
	models.Escalation
	RawApproaches []byte `db:"attempted_approaches"`
}

func (s *PostgresStore) ListEscalations(runID string) ([]models.Escalation, error) {
	rows := []escalationRow{}
	var err error
	if runID == "" {
		err = s.db.Select(&rows, "SELECT * FROM escalations ORDER BY created_at")
	} else {
		err = s.db.Select(&rows, "SELECT * FROM escalations WHERE run_id = $1 ORDER BY created_at", runID)
	}
	if err != nil {
		return nil, err
	}
	escalations := make([]models.Escalation, 0, len(rows))
	for _, row := range rows {
		if err := json.Unmarshal(row.RawApproaches, &row.Escalation.AttemptedApproaches); err != nil {
			return nil, err
		}
		escalations = append(escalations, row.Escalation)
	}
	return escalations, nil
}
