package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
)

// SchedulerConfig tunes dispatch and checkpoint behavior.
type SchedulerConfig struct {
	MaxConcurrency     int // Bound on concurrently running parallelizable phases
	CheckpointInterval int // Checkpoint after every Nth completed phase; 1 = every phase
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 1
	}
	return c
}

// Scheduler is the top-level coordinator. It instantiates runs from frozen
// template snapshots, computes the dependency-ready frontier, dispatches
// eligible phases, and reacts to pause/resume/rollback commands.
//
// Each run is driven by a single goroutine consuming a command channel: that
// goroutine is the only writer of the run's state, so concurrently completing
// parallel phases never race.
type Scheduler struct {
	store       storage.Store
	registry    *Registry
	agent       BuilderAgent
	checkpoints *CheckpointManager
	sink        EscalationSink
	emitter     Emitter
	logger      Logger
	cfg         SchedulerConfig

	ctx  context.Context
	mu   sync.RWMutex
	runs map[string]*runState
}

func NewScheduler(ctx context.Context, store storage.Store, registry *Registry, agent BuilderAgent, sink EscalationSink, emitter Emitter, logger Logger, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:       store,
		registry:    registry,
		agent:       agent,
		checkpoints: NewCheckpointManager(store, logger),
		sink:        sink,
		emitter:     emitter,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		ctx:         ctx,
		runs:        make(map[string]*runState),
	}
}

type cmdKind int

const (
	cmdPhaseDone cmdKind = iota
	cmdPause
	cmdResume
	cmdProceed
	cmdSkip
	cmdRetry
	cmdForceAccept
	cmdRollback
	cmdAbandon
)

type command struct {
	kind         cmdKind
	phaseID      string
	checkpointID string
	modelTier    models.ModelTier
	reason       string
	epoch        int
	result       *PhaseResult
	reply        chan error
}

// failure keeps what an operator needs to decide on a failed phase.
type failure struct {
	executionID string
	raw         json.RawMessage
	history     []Attempt
	err         error
}

type runState struct {
	run      models.PipelineRun
	snapshot models.WorkflowTemplate
	executor *PhaseExecutor
	gate     *Gate

	statuses     map[string]models.PhaseStatus
	attempts     map[string]int
	approved     map[string]bool // Explicit continue granted for auto_proceed=false phases
	staged       map[string]bool // Ready but awaiting explicit continue
	tierOverride map[string]models.ModelTier
	inFlight     map[string]context.CancelFunc
	artifacts    map[string]*models.Artifact // Phase ID -> active accepted artifact
	failures     map[string]*failure

	epoch                    int // Bumped on rollback; results from older epochs are stale
	completedSinceCheckpoint int
	paused                   bool

	cmds chan command
	done chan struct{}
}

// StartRun snapshots the template and begins executing a new run for the
// project. The run's state is owned by a dedicated goroutine until the run
// reaches a terminal status.
func (s *Scheduler) StartRun(projectID, templateID string) (string, error) {
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return "", errors.Wrapf(err, "project %s", projectID)
	}
	tmpl, err := s.registry.Resolve(templateID)
	if err != nil {
		return "", err
	}
	if err := ValidateTemplate(tmpl); err != nil {
		return "", err
	}
	snapshot := SnapshotTemplate(tmpl)

	gate, err := NewGate(snapshot, s.logger)
	if err != nil {
		return "", err
	}

	now := time.Now()
	run := models.PipelineRun{
		ID:               uuid.NewString(),
		ProjectID:        project.ID,
		TemplateID:       tmpl.ID,
		TemplateSnapshot: snapshot,
		Status:           models.RunningRunStatus,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.SaveRun(run); err != nil {
		return "", errors.Wrap(err, "save run")
	}
	if err := s.store.UpdateProjectStatus(project.ID, models.RunningProjectStatus, ""); err != nil {
		return "", errors.Wrapf(err, "update project %s", project.ID)
	}

	st := &runState{
		run:          run,
		snapshot:     snapshot,
		executor:     NewPhaseExecutor(s.store, s.agent, gate, s.emitter, s.logger),
		gate:         gate,
		statuses:     make(map[string]models.PhaseStatus, len(snapshot.Phases)),
		attempts:     make(map[string]int),
		approved:     make(map[string]bool),
		staged:       make(map[string]bool),
		tierOverride: make(map[string]models.ModelTier),
		inFlight:     make(map[string]context.CancelFunc),
		artifacts:    make(map[string]*models.Artifact),
		failures:     make(map[string]*failure),
		cmds:         make(chan command, 64),
		done:         make(chan struct{}),
	}
	for _, p := range snapshot.Phases {
		st.statuses[p.ID] = models.PendingPhaseStatus
	}

	s.mu.Lock()
	s.runs[run.ID] = st
	s.mu.Unlock()

	s.emitter.RunTransition(run, models.IdleRunStatus, models.RunningRunStatus)
	s.logger.Infof("Started run %s for project %s from template %s", run.ID, project.ID, tmpl.ID)
	go s.loop(st)
	return run.ID, nil
}

// Done returns a channel closed when the run reaches a terminal status.
func (s *Scheduler) Done(runID string) (<-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return st.done, true
}

// Pause stops new dispatch. In-flight phases run to their natural terminal
// state; their results are applied while paused.
func (s *Scheduler) Pause(runID string) error { return s.send(runID, command{kind: cmdPause}) }

// Resume continues dispatch from the current frontier.
func (s *Scheduler) Resume(runID string) error { return s.send(runID, command{kind: cmdResume}) }

// Proceed grants the explicit continue a staged auto_proceed=false phase waits for.
func (s *Scheduler) Proceed(runID, phaseID string) error {
	return s.send(runID, command{kind: cmdProceed, phaseID: phaseID})
}

// Skip marks a failed or not-yet-dispatched phase as skipped. Downstream
// phases treat a skipped dependency as satisfied and receive no artifact
// from it.
func (s *Scheduler) Skip(runID, phaseID string) error {
	return s.send(runID, command{kind: cmdSkip, phaseID: phaseID})
}

// Retry re-queues a failed phase for a fresh attempt, optionally on a
// different model tier. Retries are never automatic.
func (s *Scheduler) Retry(runID, phaseID string, tier models.ModelTier) error {
	return s.send(runID, command{kind: cmdRetry, phaseID: phaseID, modelTier: tier})
}

// ForceAccept accepts a failed phase's last output by explicit override. The
// resulting artifact is flagged as unvalidated.
func (s *Scheduler) ForceAccept(runID, phaseID, reason string) error {
	return s.send(runID, command{kind: cmdForceAccept, phaseID: phaseID, reason: reason})
}

// Rollback restores the run to a checkpoint. In-flight executions are
// cancelled and marked rolled back; no dispatch happens mid-restore.
func (s *Scheduler) Rollback(runID, checkpointID string) error {
	return s.send(runID, command{kind: cmdRollback, checkpointID: checkpointID})
}

// Abandon ends a blocked run, marking it failed.
func (s *Scheduler) Abandon(runID, reason string) error {
	return s.send(runID, command{kind: cmdAbandon, reason: reason})
}

func (s *Scheduler) send(runID string, cmd command) error {
	s.mu.RLock()
	st, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return errors.Wrapf(storage.ErrNotFound, "run %s", runID)
	}
	cmd.reply = make(chan error, 1)
	select {
	case st.cmds <- cmd:
	case <-st.done:
		return errors.Errorf("run %s already finished", runID)
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-st.done:
		return nil
	}
}

// loop is the run's single-threaded command processor and the only writer of
// its state.
func (s *Scheduler) loop(st *runState) {
	defer close(st.done)
	s.dispatchReady(st)
	if s.checkComplete(st) {
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Scheduler context cancelled, abandoning run %s", st.run.ID)
			s.transitionRun(st, models.FailedRunStatus)
			return
		case cmd := <-st.cmds:
			s.handle(st, cmd)
			if st.run.Status.Terminal() {
				return
			}
		}
	}
}

func (s *Scheduler) handle(st *runState, cmd command) {
	var err error
	switch cmd.kind {
	case cmdPhaseDone:
		s.handlePhaseDone(st, cmd)
	case cmdPause:
		err = s.handlePause(st)
	case cmdResume:
		err = s.handleResume(st)
	case cmdProceed:
		err = s.handleProceed(st, cmd.phaseID)
	case cmdSkip:
		err = s.handleSkip(st, cmd.phaseID)
	case cmdRetry:
		err = s.handleRetry(st, cmd.phaseID, cmd.modelTier)
	case cmdForceAccept:
		err = s.handleForceAccept(st, cmd.phaseID, cmd.reason)
	case cmdRollback:
		err = s.handleRollback(st, cmd.checkpointID)
	case cmdAbandon:
		s.escalateRun(st, cmd.reason)
		s.transitionRun(st, models.FailedRunStatus)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (s *Scheduler) handlePhaseDone(st *runState, cmd command) {
	res := cmd.result
	phaseID := cmd.phaseID
	if cancel, ok := st.inFlight[phaseID]; ok {
		cancel()
		delete(st.inFlight, phaseID)
	}

	if cmd.epoch != st.epoch {
		// The run rolled back while this phase was in flight; its result no
		// longer belongs to the active state.
		s.logger.Infof("Discarding stale result for phase %s (run %s)", phaseID, st.run.ID)
		if err := s.store.UpdateExecutionStatus(res.Execution.ID, models.RolledBackPhaseStatus, ""); err != nil {
			s.logger.Errorf("Failed to mark stale execution %s rolled back: %v", res.Execution.ID, err)
		}
		return
	}

	if res.Err == nil {
		st.statuses[phaseID] = models.CompletedPhaseStatus
		st.artifacts[phaseID] = res.Artifact
		delete(st.failures, phaseID)
		st.completedSinceCheckpoint++
		if st.completedSinceCheckpoint >= s.cfg.CheckpointInterval {
			s.takeCheckpoint(st, res.Execution)
		}
	} else {
		st.statuses[phaseID] = models.FailedPhaseStatus
		st.failures[phaseID] = &failure{
			executionID: res.Execution.ID,
			raw:         res.RawOutput,
			history:     res.History,
			err:         res.Err,
		}
		s.escalatePhase(st, phaseID, res)
	}

	s.dispatchReady(st)
	s.checkComplete(st)
}

func (s *Scheduler) handlePause(st *runState) error {
	if st.run.Status.Terminal() {
		return errors.Errorf("run %s already finished", st.run.ID)
	}
	if st.paused {
		return nil
	}
	st.paused = true
	s.transitionRun(st, models.PausedRunStatus)
	return nil
}

func (s *Scheduler) handleResume(st *runState) error {
	if !st.paused {
		return nil
	}
	st.paused = false
	s.transitionRun(st, models.RunningRunStatus)
	s.dispatchReady(st)
	s.checkComplete(st)
	return nil
}

func (s *Scheduler) handleProceed(st *runState, phaseID string) error {
	if st.snapshot.Phase(phaseID) == nil {
		return errors.Errorf("run %s has no phase %s", st.run.ID, phaseID)
	}
	st.approved[phaseID] = true
	delete(st.staged, phaseID)
	s.dispatchReady(st)
	return nil
}

func (s *Scheduler) handleSkip(st *runState, phaseID string) error {
	if st.snapshot.Phase(phaseID) == nil {
		return errors.Errorf("run %s has no phase %s", st.run.ID, phaseID)
	}
	switch st.statuses[phaseID] {
	case models.FailedPhaseStatus, models.PendingPhaseStatus:
	default:
		return errors.Errorf("phase %s cannot be skipped from status %s", phaseID, st.statuses[phaseID])
	}
	from := st.statuses[phaseID]
	if f, ok := st.failures[phaseID]; ok && f.executionID != "" {
		if err := s.store.UpdateExecutionStatus(f.executionID, models.SkippedPhaseStatus, ""); err != nil {
			return err
		}
	}
	st.statuses[phaseID] = models.SkippedPhaseStatus
	delete(st.staged, phaseID)
	delete(st.failures, phaseID)
	s.emitter.PhaseTransition(st.run.ID, phaseID, from, models.SkippedPhaseStatus)
	s.dispatchReady(st)
	s.checkComplete(st)
	return nil
}

func (s *Scheduler) handleRetry(st *runState, phaseID string, tier models.ModelTier) error {
	if st.snapshot.Phase(phaseID) == nil {
		return errors.Errorf("run %s has no phase %s", st.run.ID, phaseID)
	}
	if st.statuses[phaseID] != models.FailedPhaseStatus {
		return errors.Errorf("phase %s cannot be retried from status %s", phaseID, st.statuses[phaseID])
	}
	st.statuses[phaseID] = models.PendingPhaseStatus
	st.approved[phaseID] = true // An explicit retry is its own continue
	if tier != "" {
		st.tierOverride[phaseID] = tier
	}
	delete(st.failures, phaseID)
	s.dispatchReady(st)
	return nil
}

func (s *Scheduler) handleForceAccept(st *runState, phaseID, reason string) error {
	def := st.snapshot.Phase(phaseID)
	if def == nil {
		return errors.Errorf("run %s has no phase %s", st.run.ID, phaseID)
	}
	f, ok := st.failures[phaseID]
	if !ok || len(f.raw) == 0 {
		return errors.Errorf("phase %s has no failed output to accept", phaseID)
	}
	artifact := st.gate.ForceAccept(f.executionID, f.raw, def.OutputSchema, reason)
	if err := s.store.SaveArtifact(*artifact); err != nil {
		return errors.Wrapf(err, "save force-accepted artifact for phase %s", phaseID)
	}
	if err := s.store.UpdateExecutionStatus(f.executionID, models.CompletedPhaseStatus, ""); err != nil {
		return errors.Wrapf(err, "complete execution %s", f.executionID)
	}
	st.statuses[phaseID] = models.CompletedPhaseStatus
	st.artifacts[phaseID] = artifact
	delete(st.failures, phaseID)
	s.emitter.PhaseTransition(st.run.ID, phaseID, models.FailedPhaseStatus, models.CompletedPhaseStatus)

	exec, err := s.store.GetExecution(f.executionID)
	if err == nil {
		st.completedSinceCheckpoint++
		if st.completedSinceCheckpoint >= s.cfg.CheckpointInterval {
			s.takeCheckpoint(st, exec)
		}
	}
	s.dispatchReady(st)
	s.checkComplete(st)
	return nil
}

// handleRollback restores the run to a checkpoint. It runs inside the
// command loop, so no dispatch can interleave with the restore.
func (s *Scheduler) handleRollback(st *runState, checkpointID string) error {
	// Cancel whatever is in flight; results from the old epoch are discarded
	// when they arrive.
	for phaseID, cancel := range st.inFlight {
		cancel()
		delete(st.inFlight, phaseID)
	}
	st.epoch++

	cp, err := s.checkpoints.Rollback(st.run, checkpointID)
	if err != nil {
		return err
	}

	st.statuses = make(map[string]models.PhaseStatus, len(st.snapshot.Phases))
	for _, p := range st.snapshot.Phases {
		status, ok := cp.PhaseStatuses[p.ID]
		// A phase recorded as running has no execution behind it anymore;
		// it restores as pending so the frontier picks it up again.
		if !ok || status == models.RunningPhaseStatus {
			status = models.PendingPhaseStatus
		}
		st.statuses[p.ID] = status
	}
	st.failures = make(map[string]*failure)
	st.staged = make(map[string]bool)
	st.completedSinceCheckpoint = 0
	st.run.CurrentPhase = cp.CurrentPhase
	if err := s.rebuildArtifacts(st); err != nil {
		return err
	}

	if !st.paused {
		if st.run.Status != models.RunningRunStatus {
			s.transitionRun(st, models.RunningRunStatus)
		}
		s.dispatchReady(st)
	}
	s.checkComplete(st)
	return nil
}

// rebuildArtifacts reloads the active artifact per completed phase from the
// store after a rollback, skipping rolled-back executions.
func (s *Scheduler) rebuildArtifacts(st *runState) error {
	st.artifacts = make(map[string]*models.Artifact)
	execs, err := s.store.ListExecutions(st.run.ID)
	if err != nil {
		return errors.Wrapf(err, "list executions for run %s", st.run.ID)
	}
	latest := make(map[string]models.PhaseExecution)
	for _, e := range execs {
		if e.Status != models.CompletedPhaseStatus {
			continue
		}
		if st.statuses[e.PhaseID] != models.CompletedPhaseStatus {
			continue
		}
		if cur, ok := latest[e.PhaseID]; !ok || e.Attempt > cur.Attempt {
			latest[e.PhaseID] = e
		}
	}
	for phaseID, e := range latest {
		arts, err := s.store.ListArtifacts(e.ID)
		if err != nil {
			return errors.Wrapf(err, "list artifacts for execution %s", e.ID)
		}
		for i := range arts {
			if !arts[i].Partial {
				a := arts[i]
				st.artifacts[phaseID] = &a
				break
			}
		}
	}
	return nil
}

// dispatchReady computes the dependency-ready frontier and dispatches what
// gating and concurrency limits allow. Parallelizable ready phases dispatch
// together up to MaxConcurrency; a non-parallelizable phase runs alone.
func (s *Scheduler) dispatchReady(st *runState) {
	if st.paused || st.run.Status.Terminal() {
		return
	}

	exclusiveInFlight := false
	for phaseID := range st.inFlight {
		if def := st.snapshot.Phase(phaseID); def != nil && !def.Parallelizable {
			exclusiveInFlight = true
		}
	}
	if exclusiveInFlight {
		return
	}

	ready := s.readyFrontier(st)
	for _, def := range ready {
		if !def.AutoProceed && !st.approved[def.ID] {
			if !st.staged[def.ID] {
				st.staged[def.ID] = true
				s.logger.Infof("Run %s phase %s is ready, awaiting explicit continue", st.run.ID, def.ID)
			}
			continue
		}
		if !def.Parallelizable {
			if len(st.inFlight) > 0 {
				continue
			}
			s.dispatch(st, def)
			break // Nothing else until it finishes
		}
		if len(st.inFlight) >= s.cfg.MaxConcurrency {
			break
		}
		s.dispatch(st, def)
	}
	s.updateCurrentPhase(st)
}

// readyFrontier returns pending phases whose dependencies are all satisfied,
// ordered by the template's execution order hint.
func (s *Scheduler) readyFrontier(st *runState) []models.PhaseDefinition {
	var ready []models.PhaseDefinition
	for _, def := range st.snapshot.Phases {
		if st.statuses[def.ID] != models.PendingPhaseStatus {
			continue
		}
		if _, running := st.inFlight[def.ID]; running {
			continue
		}
		satisfied := true
		for _, dep := range def.DependsOn {
			if !st.statuses[dep].Satisfied() {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, def)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Order != ready[j].Order {
			return ready[i].Order < ready[j].Order
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

func (s *Scheduler) dispatch(st *runState, def models.PhaseDefinition) {
	var missing []string
	for _, dep := range def.DependsOn {
		if !st.statuses[dep].Satisfied() {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		err := &DependencyUnsatisfiedError{RunID: st.run.ID, PhaseID: def.ID, Missing: missing}
		s.logger.Errorf("Refusing dispatch: %v", err)
		return
	}
	if _, running := st.inFlight[def.ID]; running {
		return
	}

	if tier, ok := st.tierOverride[def.ID]; ok {
		def.ModelTier = tier
	}
	st.attempts[def.ID]++
	attempt := st.attempts[def.ID]
	delete(st.staged, def.ID)
	st.statuses[def.ID] = models.RunningPhaseStatus

	inputs := make(map[string]json.RawMessage, len(def.DependsOn))
	for _, dep := range def.DependsOn {
		if a := st.artifacts[dep]; a != nil {
			inputs[dep] = a.Content
		}
	}

	phaseCtx, cancel := context.WithCancel(s.ctx)
	st.inFlight[def.ID] = cancel
	epoch := st.epoch
	run := st.run

	s.logger.Infof("Run %s dispatching phase %s (attempt %d)", run.ID, def.ID, attempt)
	go func() {
		res := st.executor.Execute(phaseCtx, run, def, attempt, inputs)
		st.cmds <- command{kind: cmdPhaseDone, phaseID: def.ID, epoch: epoch, result: &res}
	}()
}

// updateCurrentPhase keeps the run's authoritative pointer on the
// lowest-order running phase.
func (s *Scheduler) updateCurrentPhase(st *runState) {
	current := ""
	best := 0
	for _, def := range st.snapshot.Phases {
		if st.statuses[def.ID] != models.RunningPhaseStatus {
			continue
		}
		if current == "" || def.Order < best {
			current = def.ID
			best = def.Order
		}
	}
	if current == st.run.CurrentPhase {
		return
	}
	st.run.CurrentPhase = current
	if err := s.store.UpdateRunStatus(st.run.ID, st.run.Status, current); err != nil {
		s.logger.Errorf("Failed to update current phase for run %s: %v", st.run.ID, err)
	}
	if err := s.store.UpdateProjectStatus(st.run.ProjectID, projectStatus(st.run.Status), current); err != nil {
		s.logger.Errorf("Failed to update project %s pointer: %v", st.run.ProjectID, err)
	}
}

func (s *Scheduler) takeCheckpoint(st *runState, exec models.PhaseExecution) {
	var artifactIDs []string
	for _, a := range st.artifacts {
		artifactIDs = append(artifactIDs, a.ID)
	}
	sort.Strings(artifactIDs)
	if _, err := s.checkpoints.Create(st.run, exec, st.statuses, artifactIDs); err != nil {
		s.logger.Errorf("Failed to checkpoint run %s: %v", st.run.ID, err)
		return
	}
	st.completedSinceCheckpoint = 0
}

// checkComplete finishes the run when every phase is completed or skipped.
// Failed phases keep the run open: automatic progress has halted, but an
// operator can still retry, skip, force-accept, roll back or abandon.
func (s *Scheduler) checkComplete(st *runState) bool {
	if st.run.Status.Terminal() {
		return true
	}
	for _, def := range st.snapshot.Phases {
		if !st.statuses[def.ID].Satisfied() {
			return false
		}
	}
	s.transitionRun(st, models.CompletedRunStatus)
	return true
}

func (s *Scheduler) transitionRun(st *runState, to models.RunStatus) {
	from := st.run.Status
	if from == to {
		return
	}
	st.run.Status = to
	st.run.UpdatedAt = time.Now()
	if to.Terminal() {
		st.run.CurrentPhase = ""
	}
	if err := s.store.UpdateRunStatus(st.run.ID, to, st.run.CurrentPhase); err != nil {
		s.logger.Errorf("Failed to update run %s status to %s: %v", st.run.ID, to, err)
	}
	if err := s.store.UpdateProjectStatus(st.run.ProjectID, projectStatus(to), st.run.CurrentPhase); err != nil {
		s.logger.Errorf("Failed to update project %s status: %v", st.run.ProjectID, err)
	}
	s.emitter.RunTransition(st.run, from, to)
}

func projectStatus(r models.RunStatus) models.ProjectStatus {
	switch r {
	case models.RunningRunStatus:
		return models.RunningProjectStatus
	case models.PausedRunStatus:
		return models.PausedProjectStatus
	case models.CompletedRunStatus:
		return models.CompletedProjectStatus
	case models.FailedRunStatus:
		return models.FailedProjectStatus
	}
	return models.IdleProjectStatus
}

func (s *Scheduler) escalatePhase(st *runState, phaseID string, res *PhaseResult) {
	approaches := make([]string, 0, len(res.History))
	for _, a := range res.History {
		approaches = append(approaches, fmt.Sprintf("cycle %d: %s (%s)", a.Cycle, a.Verdict, a.Detail))
	}
	input := "Decide: retry, skip, force-accept, roll back, or abandon."
	if errors.Is(res.Err, ErrCycleExhausted) {
		input = "Repair budget exhausted. " + input
	}
	esc := models.Escalation{
		RunID:               st.run.ID,
		EntityID:            phaseID,
		Reason:              res.Err.Error(),
		AttemptedApproaches: approaches,
		RequiredHumanInput:  input,
	}
	if err := s.sink.Escalate(esc); err != nil {
		s.logger.Errorf("Failed to escalate phase %s failure: %v", phaseID, err)
	}
}

func (s *Scheduler) escalateRun(st *runState, reason string) {
	var failed []string
	for phaseID, status := range st.statuses {
		if status == models.FailedPhaseStatus {
			failed = append(failed, phaseID)
		}
	}
	sort.Strings(failed)
	if reason == "" {
		reason = "run abandoned"
	}
	esc := models.Escalation{
		RunID:               st.run.ID,
		EntityID:            st.run.ID,
		Reason:              reason,
		AttemptedApproaches: []string{fmt.Sprintf("failed phases: %s", strings.Join(failed, ", "))},
		RequiredHumanInput:  "None: the run is terminal.",
	}
	if err := s.sink.Escalate(esc); err != nil {
		s.logger.Errorf("Failed to record run escalation: %v", err)
	}
}
