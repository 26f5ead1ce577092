package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
)

const (
	// DefaultPhaseTimeout applies when a phase definition gives no budget.
	DefaultPhaseTimeout = 10 * time.Minute
	// DefaultMaxRepairCycles bounds the output-repair loop when the phase
	// definition leaves it unset.
	DefaultMaxRepairCycles = 3
)

// PhaseResult is the terminal outcome of one phase execution attempt.
// RawOutput carries the last terminal output the builder produced, kept even
// on validation failure so an explicit force-accept can still use it.
type PhaseResult struct {
	Execution models.PhaseExecution
	Artifact  *models.Artifact
	RawOutput json.RawMessage
	History   []Attempt
	Err       error
}

// PhaseExecutor drives one PhaseExecution through its lifecycle: it invokes
// the builder agent under the phase's wall-clock budget, streams tool-call
// audit rows as they arrive, and routes terminal output through the
// validation gate inside a bounded repair loop.
type PhaseExecutor struct {
	store   storage.Store
	agent   BuilderAgent
	gate    *Gate
	cycles  *CycleController
	emitter Emitter
	logger  Logger
}

func NewPhaseExecutor(store storage.Store, agent BuilderAgent, gate *Gate, emitter Emitter, logger Logger) *PhaseExecutor {
	return &PhaseExecutor{
		store:   store,
		agent:   agent,
		gate:    gate,
		cycles:  NewCycleController(logger),
		emitter: emitter,
		logger:  logger,
	}
}

// Execute runs one attempt of a phase. It blocks until the attempt reaches a
// terminal state and never retries on its own: timeouts and exhausted repair
// budgets surface to the caller.
func (e *PhaseExecutor) Execute(ctx context.Context, run models.PipelineRun, def models.PhaseDefinition, attempt int, inputs map[string]json.RawMessage) PhaseResult {
	now := time.Now()
	exec := models.PhaseExecution{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		PhaseID:   def.ID,
		Attempt:   attempt,
		Status:    models.RunningPhaseStatus,
		ModelTier: def.ModelTier,
		StartedAt: &now,
	}
	if err := e.store.SaveExecution(exec); err != nil {
		return PhaseResult{Execution: exec, Err: errors.Wrapf(err, "save execution for phase %s", def.ID)}
	}
	e.emitter.PhaseTransition(run.ID, def.ID, models.PendingPhaseStatus, models.RunningPhaseStatus)

	timeout := DefaultPhaseTimeout
	if def.TimeoutSeconds > 0 {
		timeout = time.Duration(def.TimeoutSeconds) * time.Second
	}
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxCycles := def.MaxRepairCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxRepairCycles
	}

	var (
		artifact   *models.Artifact
		violations []FieldViolation
		lastRaw    json.RawMessage
		lastEvent  *ToolCallEvent
		seq        int
	)

	history, err := e.cycles.Run(phaseCtx, func(cycleCtx context.Context, cycle int) (Verdict, error) {
		pc := PhaseContext{
			RunID:         run.ID,
			PhaseID:       def.ID,
			Attempt:       attempt,
			Cycle:         cycle,
			ModelTier:     def.ModelTier,
			Prompt:        def.Prompt,
			ToolAllowlist: def.ToolAllowlist,
			Inputs:        inputs,
			Violations:    violations,
		}
		session, err := e.agent.Execute(cycleCtx, pc)
		if err != nil {
			return VerdictBlock, errors.Wrapf(err, "start builder session for phase %s", def.ID)
		}

		// Stream tool calls into the audit log without blocking the
		// terminal wait. The session closes Events before delivering
		// its result.
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for ev := range session.Events() {
				seq++
				e.recordToolCall(run.ID, exec.ID, def.ID, seq, ev)
				evCopy := ev
				lastEvent = &evCopy
			}
		}()

		select {
		case res := <-session.Result():
			<-drained
			if res.TokensInput > 0 || res.TokensOutput > 0 {
				if uerr := e.store.UpdateExecutionUsage(exec.ID, res.TokensInput, res.TokensOutput); uerr != nil {
					e.logger.Errorf("Failed to record usage for execution %s: %v", exec.ID, uerr)
				}
			}
			if res.Err != nil {
				return VerdictBlock, errors.Wrapf(res.Err, "builder session for phase %s", def.ID)
			}
			lastRaw = res.Output

			a, verr := e.gate.Validate(run.ID, def.ID, exec.ID, res.Output, def.OutputSchema)
			if verr == nil {
				artifact = a
				return VerdictPass, nil
			}
			var ve *ValidationError
			if errors.As(verr, &ve) {
				violations = ve.Violations
				return VerdictConcern, ve
			}
			return VerdictBlock, verr

		case <-cycleCtx.Done():
			session.Cancel()
			<-drained
			e.salvagePartial(exec.ID, def.OutputSchema, lastEvent)
			return VerdictBlock, &TimeoutError{
				RunID:          run.ID,
				PhaseID:        def.ID,
				ExecutionID:    exec.ID,
				TimeoutSeconds: int(timeout / time.Second),
			}
		}
	}, maxCycles)

	if err == nil {
		if serr := e.store.SaveArtifact(*artifact); serr != nil {
			err = errors.Wrapf(serr, "save artifact for phase %s", def.ID)
		}
	}

	if err != nil {
		e.finish(&exec, models.FailedPhaseStatus, err.Error())
		return PhaseResult{Execution: exec, RawOutput: lastRaw, History: history, Err: err}
	}
	e.finish(&exec, models.CompletedPhaseStatus, "")
	return PhaseResult{Execution: exec, Artifact: artifact, RawOutput: lastRaw, History: history}
}

func (e *PhaseExecutor) recordToolCall(runID, executionID, phaseID string, seq int, ev ToolCallEvent) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	tc := models.ToolCall{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Seq:         seq,
		Name:        ev.Name,
		Input:       ev.Input,
		Output:      ev.Output,
		DurationMs:  ev.Duration.Milliseconds(),
		CalledAt:    at,
	}
	if err := e.store.SaveToolCall(tc); err != nil {
		e.logger.Errorf("Failed to record tool call %s for execution %s: %v", ev.Name, executionID, err)
	}
	e.emitter.ToolCallObserved(runID, phaseID, ev)
}

// salvagePartial stores whatever output a cancelled session left behind as an
// explicitly partial artifact. Tool-call rows are already durable at this
// point: they were persisted as they streamed.
func (e *PhaseExecutor) salvagePartial(executionID, schemaRef string, lastEvent *ToolCallEvent) {
	if lastEvent == nil || len(lastEvent.Output) == 0 {
		return
	}
	a := models.Artifact{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		SchemaRef:   schemaRef,
		Content:     lastEvent.Output,
		Partial:     true,
		CreatedAt:   time.Now(),
	}
	if err := e.store.SaveArtifact(a); err != nil {
		e.logger.Errorf("Failed to salvage partial artifact for execution %s: %v", executionID, err)
	}
}

func (e *PhaseExecutor) finish(exec *models.PhaseExecution, status models.PhaseStatus, errMsg string) {
	if err := e.store.UpdateExecutionStatus(exec.ID, status, errMsg); err != nil {
		e.logger.Errorf("Failed to update execution %s to %s: %v", exec.ID, status, err)
	}
	exec.Status = status
	exec.ErrorMsg = errMsg
	now := time.Now()
	exec.FinishedAt = &now
	e.emitter.PhaseTransition(exec.RunID, exec.PhaseID, models.RunningPhaseStatus, status)
}
