package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingAgent records every PhaseContext it is invoked with.
type capturingAgent struct {
	inner    engine.BuilderAgent
	mu       sync.Mutex
	contexts []engine.PhaseContext
}

func (a *capturingAgent) Execute(ctx context.Context, pc engine.PhaseContext) (engine.AgentSession, error) {
	a.mu.Lock()
	a.contexts = append(a.contexts, pc)
	a.mu.Unlock()
	return a.inner.Execute(ctx, pc)
}

func (a *capturingAgent) captured() []engine.PhaseContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]engine.PhaseContext(nil), a.contexts...)
}

func newExecutor(t *testing.T, agent engine.BuilderAgent, tmpl models.WorkflowTemplate) (*engine.PhaseExecutor, storage.Store) {
	t.Helper()
	store := storage.NewMockStore()
	gate, err := engine.NewGate(tmpl, logger{})
	require.NoError(t, err)
	return engine.NewPhaseExecutor(store, agent, gate, &engine.LogEmitter{Logger: logger{}}, logger{}), store
}

func TestPhaseExecutor_Success(t *testing.T) {
	tmpl := models.WorkflowTemplate{
		ID: "t", Schemas: map[string]string{"strict": strictSchema},
	}
	agent := engine.NewScriptedAgent(map[string][]engine.ScriptedStep{
		"build": {{
			Events: []engine.ToolCallEvent{
				{Name: "read_file", Input: []byte(`{"path": "spec.yaml"}`)},
				{Name: "write_file", Output: []byte(`{"path": "main.go"}`)},
			},
			Result: engine.AgentResult{Output: []byte(`{"ok": true}`), TokensInput: 120, TokensOutput: 40},
		}},
	})
	exec, store := newExecutor(t, agent, tmpl)

	run := models.PipelineRun{ID: "run-1", Status: models.RunningRunStatus}
	def := models.PhaseDefinition{ID: "build", Type: models.AutomatedPhaseType, OutputSchema: "strict", AutoProceed: true}

	res := exec.Execute(context.Background(), run, def, 1, nil)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Artifact)
	assert.JSONEq(t, `{"ok": true}`, string(res.Artifact.Content))
	assert.False(t, res.Artifact.ForceAccepted)
	assert.Equal(t, models.CompletedPhaseStatus, res.Execution.Status)

	row, err := store.GetExecution(res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedPhaseStatus, row.Status)
	assert.Equal(t, int64(120), row.TokensInput)
	assert.Equal(t, int64(40), row.TokensOutput)

	// Tool calls persisted in delivery order.
	calls, err := store.ListToolCalls(res.Execution.ID)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, 1, calls[0].Seq)
	assert.Equal(t, "write_file", calls[1].Name)
	assert.Equal(t, 2, calls[1].Seq)

	arts, err := store.ListArtifacts(res.Execution.ID)
	require.NoError(t, err)
	require.Len(t, arts, 1)
}

// A failed validation re-invokes the agent with the concrete field violations
// attached to the phase context.
func TestPhaseExecutor_RepairLoopFeedsViolationsBack(t *testing.T) {
	tmpl := models.WorkflowTemplate{
		ID: "t", Schemas: map[string]string{"strict": strictSchema},
	}
	agent := &capturingAgent{inner: engine.NewScriptedAgent(map[string][]engine.ScriptedStep{
		"build": {
			okStep(`{"wrong": true}`),
			okStep(`{"ok": true}`),
		},
	})}
	exec, store := newExecutor(t, agent, tmpl)

	run := models.PipelineRun{ID: "run-1", Status: models.RunningRunStatus}
	def := models.PhaseDefinition{ID: "build", Type: models.AutomatedPhaseType, OutputSchema: "strict", MaxRepairCycles: 3}

	res := exec.Execute(context.Background(), run, def, 1, nil)
	require.NoError(t, res.Err)
	require.Len(t, res.History, 2)
	assert.Equal(t, engine.VerdictConcern, res.History[0].Verdict)
	assert.Equal(t, engine.VerdictPass, res.History[1].Verdict)

	contexts := agent.captured()
	require.Len(t, contexts, 2)
	assert.Empty(t, contexts[0].Violations)
	assert.Equal(t, 1, contexts[0].Cycle)
	require.NotEmpty(t, contexts[1].Violations, "second cycle carries the violations")
	assert.Equal(t, 2, contexts[1].Cycle)

	arts, err := store.ListArtifacts(res.Execution.ID)
	require.NoError(t, err)
	require.Len(t, arts, 1, "only the conforming output became an artifact")
}

func TestPhaseExecutor_CycleExhaustion(t *testing.T) {
	tmpl := models.WorkflowTemplate{
		ID: "t", Schemas: map[string]string{"strict": strictSchema},
	}
	agent := engine.NewScriptedAgent(map[string][]engine.ScriptedStep{
		"build": {okStep(`{"wrong": true}`)},
	})
	exec, store := newExecutor(t, agent, tmpl)

	run := models.PipelineRun{ID: "run-1", Status: models.RunningRunStatus}
	def := models.PhaseDefinition{ID: "build", Type: models.AutomatedPhaseType, OutputSchema: "strict", MaxRepairCycles: 2}

	res := exec.Execute(context.Background(), run, def, 1, nil)
	require.ErrorIs(t, res.Err, engine.ErrCycleExhausted)
	assert.Equal(t, 2, agent.Calls("build"))
	require.Len(t, res.History, 2)
	for _, a := range res.History {
		assert.Equal(t, engine.VerdictConcern, a.Verdict)
	}
	assert.JSONEq(t, `{"wrong": true}`, string(res.RawOutput), "last output kept for a potential force-accept")

	row, err := store.GetExecution(res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedPhaseStatus, row.Status)
	assert.NotEmpty(t, row.ErrorMsg)
}

// A timed-out phase keeps the tool calls that streamed before the deadline and
// salvages the last observed output as a partial artifact.
func TestPhaseExecutor_TimeoutSalvagesProgress(t *testing.T) {
	tmpl := models.WorkflowTemplate{ID: "t"}
	agent := engine.NewScriptedAgent(map[string][]engine.ScriptedStep{
		"build": {{
			Events: []engine.ToolCallEvent{
				{Name: "write_file", Output: []byte(`{"path": "draft.go"}`)},
			},
			Delay:  5 * time.Second,
			Result: engine.AgentResult{Output: []byte(`{"never": "delivered"}`)},
		}},
	})
	exec, store := newExecutor(t, agent, tmpl)

	run := models.PipelineRun{ID: "run-1", Status: models.RunningRunStatus}
	def := models.PhaseDefinition{ID: "build", Type: models.AutomatedPhaseType, TimeoutSeconds: 1, MaxRepairCycles: 1}

	start := time.Now()
	res := exec.Execute(context.Background(), run, def, 1, nil)
	require.Error(t, res.Err)
	assert.Less(t, time.Since(start), 3*time.Second, "returned at the budget, not the agent's pace")

	var te *engine.TimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, "build", te.PhaseID)
	assert.Equal(t, 1, te.TimeoutSeconds)

	row, err := store.GetExecution(res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailedPhaseStatus, row.Status)

	calls, err := store.ListToolCalls(res.Execution.ID)
	require.NoError(t, err)
	require.Len(t, calls, 1, "streamed tool call survived the timeout")

	arts, err := store.ListArtifacts(res.Execution.ID)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.True(t, arts[0].Partial)
	assert.JSONEq(t, `{"path": "draft.go"}`, string(arts[0].Content))
}

func TestPhaseExecutor_AgentErrorBlocks(t *testing.T) {
	tmpl := models.WorkflowTemplate{ID: "t"}
	agent := engine.NewScriptedAgent(map[string][]engine.ScriptedStep{
		"build": {{Result: engine.AgentResult{Err: errors.New("builder crashed")}}},
	})
	exec, _ := newExecutor(t, agent, tmpl)

	run := models.PipelineRun{ID: "run-1", Status: models.RunningRunStatus}
	def := models.PhaseDefinition{ID: "build", Type: models.AutomatedPhaseType, MaxRepairCycles: 3}

	res := exec.Execute(context.Background(), run, def, 1, nil)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "builder crashed")
	require.Len(t, res.History, 1, "a blocking error stops the loop immediately")
	assert.Equal(t, engine.VerdictBlock, res.History[0].Verdict)
	assert.Equal(t, 1, agent.Calls("build"))
}
