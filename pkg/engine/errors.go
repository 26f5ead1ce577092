package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrCycleExhausted is returned by the cycle controller when the repair
// budget runs out without a passing attempt. It always escalates; callers
// must never retry past it silently.
var ErrCycleExhausted = errors.New("cycle budget exhausted")

// TemplateCycleError reports a dependency cycle in a workflow template.
// Fatal at load time.
type TemplateCycleError struct {
	TemplateID string
	Members    []string // Phases participating in the cycle
}

func (e *TemplateCycleError) Error() string {
	return fmt.Sprintf("template %s: dependency cycle involving [%s]", e.TemplateID, strings.Join(e.Members, ", "))
}

// FieldViolation is one field-level schema violation.
type FieldViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports non-conforming phase output. It carries the raw
// output, the expected schema and the field-level violations, never a bare
// message.
type ValidationError struct {
	RunID      string           `json:"run_id"`
	PhaseID    string           `json:"phase_id"`
	SchemaRef  string           `json:"schema_ref"`
	Raw        json.RawMessage  `json:"raw"`
	Violations []FieldViolation `json:"violations"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("phase %s output failed schema %q with %d violation(s)", e.PhaseID, e.SchemaRef, len(e.Violations))
}

// TimeoutError reports that a phase's wall-clock budget elapsed before the
// builder agent produced terminal output.
type TimeoutError struct {
	RunID          string
	PhaseID        string
	ExecutionID    string
	TimeoutSeconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("phase %s (run %s) exceeded its %ds budget", e.PhaseID, e.RunID, e.TimeoutSeconds)
}

// DependencyUnsatisfiedError reports a dispatch attempt for a phase whose
// dependencies are not satisfied. With a validated template it never surfaces.
type DependencyUnsatisfiedError struct {
	RunID   string
	PhaseID string
	Missing []string
}

func (e *DependencyUnsatisfiedError) Error() string {
	return fmt.Sprintf("phase %s (run %s) dispatched with unsatisfied dependencies [%s]", e.PhaseID, e.RunID, strings.Join(e.Missing, ", "))
}

// RollbackConflictError reports a rollback against a checkpoint that belongs
// to a different run. Fatal for that rollback request.
type RollbackConflictError struct {
	RunID        string
	CheckpointID string
	OwnerRunID   string
}

func (e *RollbackConflictError) Error() string {
	return fmt.Sprintf("checkpoint %s belongs to run %s, not run %s", e.CheckpointID, e.OwnerRunID, e.RunID)
}
