package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

type harness struct {
	store     storage.Store
	registry  *engine.Registry
	scheduler *engine.Scheduler
}

func newHarness(t *testing.T, agent engine.BuilderAgent, cfg engine.SchedulerConfig) *harness {
	t.Helper()
	store := storage.NewMockStore()
	registry := engine.NewRegistry(store, logger{})
	emitter := &engine.LogEmitter{Logger: logger{}}
	sink := engine.NewStoreSink(store, emitter)
	scheduler := engine.NewScheduler(context.Background(), store, registry, agent, sink, emitter, logger{}, cfg)
	return &harness{store: store, registry: registry, scheduler: scheduler}
}

func (h *harness) startRun(t *testing.T, tmpl models.WorkflowTemplate) string {
	t.Helper()
	require.NoError(t, h.registry.Register(tmpl))
	now := time.Now()
	project := models.Project{ID: "proj-" + tmpl.ID, Name: "Test project", Status: models.IdleProjectStatus, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, h.store.SaveProject(project))
	runID, err := h.scheduler.StartRun(project.ID, tmpl.ID)
	require.NoError(t, err)
	return runID
}

func (h *harness) waitDone(t *testing.T, runID string) models.PipelineRun {
	t.Helper()
	done, ok := h.scheduler.Done(runID)
	require.True(t, ok)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("run %s did not finish in time", runID)
	}
	run, err := h.store.GetRun(runID)
	require.NoError(t, err)
	return run
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// executionsByPhase indexes a run's execution rows, keeping every attempt.
func (h *harness) executionsByPhase(t *testing.T, runID string) map[string][]models.PhaseExecution {
	t.Helper()
	execs, err := h.store.ListExecutions(runID)
	require.NoError(t, err)
	out := make(map[string][]models.PhaseExecution)
	for _, e := range execs {
		out[e.PhaseID] = append(out[e.PhaseID], e)
	}
	return out
}

func autoPhase(id string, order int, deps ...string) models.PhaseDefinition {
	return models.PhaseDefinition{
		ID:          id,
		Name:        id,
		Type:        models.AutomatedPhaseType,
		Order:       order,
		DependsOn:   deps,
		AutoProceed: true,
	}
}

func okStep(body string) engine.ScriptedStep {
	return engine.ScriptedStep{Result: engine.AgentResult{Output: []byte(body)}}
}
