package engine

import (
	"github.com/phasecraft/phaseflow/pkg/models"
)

// Logger defines the logging interface for the engine.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Emitter receives run and phase transition events plus streamed tool-call
// activity. Implementations must not block: emitters are called from the
// scheduler loop and from executor goroutines.
type Emitter interface {
	RunTransition(run models.PipelineRun, from, to models.RunStatus)
	PhaseTransition(runID, phaseID string, from, to models.PhaseStatus)
	ToolCallObserved(runID, phaseID string, ev ToolCallEvent)
	Escalated(e models.Escalation)
}

// LogEmitter writes transition events to the engine logger.
type LogEmitter struct {
	Logger Logger
}

func (l *LogEmitter) RunTransition(run models.PipelineRun, from, to models.RunStatus) {
	l.Logger.Infof("Run %s: %s -> %s", run.ID, from, to)
}

func (l *LogEmitter) PhaseTransition(runID, phaseID string, from, to models.PhaseStatus) {
	l.Logger.Infof("Run %s phase %s: %s -> %s", runID, phaseID, from, to)
}

func (l *LogEmitter) ToolCallObserved(runID, phaseID string, ev ToolCallEvent) {
	l.Logger.Infof("Run %s phase %s tool call %s (%s)", runID, phaseID, ev.Name, ev.Duration)
}

func (l *LogEmitter) Escalated(e models.Escalation) {
	l.Logger.Errorf("Escalation for %s (run %s): %s", e.EntityID, e.RunID, e.Reason)
}

// MultiEmitter fans an event out to several emitters.
type MultiEmitter []Emitter

func (m MultiEmitter) RunTransition(run models.PipelineRun, from, to models.RunStatus) {
	for _, e := range m {
		e.RunTransition(run, from, to)
	}
}

func (m MultiEmitter) PhaseTransition(runID, phaseID string, from, to models.PhaseStatus) {
	for _, e := range m {
		e.PhaseTransition(runID, phaseID, from, to)
	}
}

func (m MultiEmitter) ToolCallObserved(runID, phaseID string, ev ToolCallEvent) {
	for _, e := range m {
		e.ToolCallObserved(runID, phaseID, ev)
	}
}

func (m MultiEmitter) Escalated(esc models.Escalation) {
	for _, e := range m {
		e.Escalated(esc)
	}
}
