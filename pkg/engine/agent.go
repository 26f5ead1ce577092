package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/phasecraft/phaseflow/pkg/models"
)

// ToolCallEvent is one unit of builder-agent activity, streamed while the
// session runs. Events arrive in order per phase; none are delivered after
// cancellation.
type ToolCallEvent struct {
	Name     string
	Input    json.RawMessage
	Output   json.RawMessage
	Duration time.Duration
	At       time.Time
}

// AgentResult is the terminal outcome of a builder-agent session.
type AgentResult struct {
	Output       json.RawMessage
	TokensInput  int64
	TokensOutput int64
	Err          error
}

// AgentSession is one in-flight builder invocation. The engine only requires
// that it can be cancelled and that it produces tool-call events plus exactly
// one terminal result. Implementations close Events before sending the result.
type AgentSession interface {
	Events() <-chan ToolCallEvent
	Result() <-chan AgentResult
	Cancel()
}

// PhaseContext is everything the builder agent gets about the phase it works
// on. Violations carries field-level detail from a failed validation when the
// invocation is a repair attempt.
type PhaseContext struct {
	RunID         string                     `json:"run_id"`
	PhaseID       string                     `json:"phase_id"`
	Attempt       int                        `json:"attempt"`
	Cycle         int                        `json:"cycle"`
	ModelTier     models.ModelTier           `json:"model_tier"`
	Prompt        string                     `json:"prompt"`
	ToolAllowlist []string                   `json:"tool_allowlist,omitempty"`
	Inputs        map[string]json.RawMessage `json:"inputs,omitempty"` // Dependency phase ID -> artifact content
	Violations    []FieldViolation           `json:"violations,omitempty"`
}

// BuilderAgent performs the actual work of a phase. Opaque to the engine:
// started, cancelled, observed.
type BuilderAgent interface {
	Execute(ctx context.Context, pc PhaseContext) (AgentSession, error)
}

// ScriptedStep drives one invocation of a ScriptedAgent.
type ScriptedStep struct {
	Events []ToolCallEvent
	Result AgentResult
	Delay  time.Duration // Simulated work before the terminal result
}

// ScriptedAgent replays canned sessions, one per invocation of a phase.
// Used by tests and examples.
type ScriptedAgent struct {
	Steps map[string][]ScriptedStep // Phase ID -> per-invocation scripts
	mu    sync.Mutex
	calls map[string]int
}

func NewScriptedAgent(steps map[string][]ScriptedStep) *ScriptedAgent {
	return &ScriptedAgent{Steps: steps, calls: make(map[string]int)}
}

// Calls returns how many times the agent was invoked for a phase.
func (a *ScriptedAgent) Calls(phaseID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[phaseID]
}

func (a *ScriptedAgent) Execute(ctx context.Context, pc PhaseContext) (AgentSession, error) {
	a.mu.Lock()
	steps := a.Steps[pc.PhaseID]
	n := a.calls[pc.PhaseID]
	a.calls[pc.PhaseID]++
	a.mu.Unlock()

	var step ScriptedStep
	if len(steps) == 0 {
		step = ScriptedStep{Result: AgentResult{Output: json.RawMessage(`{}`)}}
	} else if n < len(steps) {
		step = steps[n]
	} else {
		step = steps[len(steps)-1]
	}

	s := &scriptedSession{
		events: make(chan ToolCallEvent, len(step.Events)+1),
		result: make(chan AgentResult, 1),
		cancel: make(chan struct{}),
	}
	go s.run(ctx, step)
	return s, nil
}

type scriptedSession struct {
	events     chan ToolCallEvent
	result     chan AgentResult
	cancel     chan struct{}
	cancelOnce sync.Once
}

func (s *scriptedSession) Events() <-chan ToolCallEvent { return s.events }
func (s *scriptedSession) Result() <-chan AgentResult   { return s.result }

func (s *scriptedSession) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

func (s *scriptedSession) run(ctx context.Context, step ScriptedStep) {
	defer close(s.result)
	for _, ev := range step.Events {
		select {
		case <-ctx.Done():
			close(s.events)
			return
		case <-s.cancel:
			close(s.events)
			return
		case s.events <- ev:
		}
	}
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			close(s.events)
			return
		case <-s.cancel:
			close(s.events)
			return
		}
	}
	close(s.events)
	s.result <- step.Result
}
