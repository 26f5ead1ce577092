package models

import "time"

type PhaseType string

const (
	InteractivePhaseType PhaseType = "interactive"
	AutomatedPhaseType   PhaseType = "automated"
	LoopPhaseType        PhaseType = "loop"
)

// ModelTier is a resource hint for the builder agent backing a phase.
type ModelTier string

const (
	FastModelTier     ModelTier = "fast"
	BalancedModelTier ModelTier = "balanced"
	PowerfulModelTier ModelTier = "powerful"
)

// PhaseDefinition is one step's static configuration within a template.
type PhaseDefinition struct {
	ID              string    `json:"id" yaml:"id"`                               // Unique within the template (e.g., "plan", "build")
	Name            string    `json:"name" yaml:"name"`                           // Descriptive name
	Type            PhaseType `json:"type" yaml:"type"`                           // "interactive", "automated" or "loop"
	Order           int       `json:"order" yaml:"order"`                         // Execution order hint
	DependsOn       []string  `json:"depends_on" yaml:"depends_on"`               // Phase IDs that must finish first
	Parallelizable  bool      `json:"parallelizable" yaml:"parallelizable"`       // May run alongside other parallelizable phases
	ModelTier       ModelTier `json:"model_tier" yaml:"model_tier"`               // Resource hint for the builder agent
	TimeoutSeconds  int       `json:"timeout_seconds" yaml:"timeout_seconds"`     // Wall-clock budget per attempt
	AutoProceed     bool      `json:"auto_proceed" yaml:"auto_proceed"`           // Dispatch without explicit confirmation
	OutputSchema    string    `json:"output_schema" yaml:"output_schema"`         // Schema reference for the validation gate
	Prompt          string    `json:"prompt,omitempty" yaml:"prompt"`             // Instructions handed to the builder agent
	ToolAllowlist   []string  `json:"tool_allowlist,omitempty" yaml:"tool_allowlist"`
	MaxRepairCycles int       `json:"max_repair_cycles" yaml:"max_repair_cycles"` // Bound on the output-repair loop
}

// WorkflowTemplate is a reusable, versioned definition of a phase graph.
// Immutable once a PipelineRun snapshots it.
type WorkflowTemplate struct {
	ID         string            `json:"id" yaml:"id" db:"id"`
	Name       string            `json:"name" yaml:"name" db:"name"`
	Version    int               `json:"version" yaml:"version" db:"version"`
	ClonedFrom string            `json:"cloned_from,omitempty" yaml:"cloned_from" db:"cloned_from"` // Lineage only, not ownership
	Phases     []PhaseDefinition `json:"phases" yaml:"phases"`
	Schemas    map[string]string `json:"schemas,omitempty" yaml:"schemas"` // Schema ref -> JSON schema document
	CreatedAt  time.Time         `json:"created_at" yaml:"-" db:"created_at"`
}

// Phase returns the definition with the given ID, or nil.
func (t *WorkflowTemplate) Phase(id string) *PhaseDefinition {
	for i := range t.Phases {
		if t.Phases[i].ID == id {
			return &t.Phases[i]
		}
	}
	return nil
}
