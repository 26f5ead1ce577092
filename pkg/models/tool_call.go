package models

import (
	"encoding/json"
	"time"
)

// ToolCall is a write-once audit record of one unit of builder-agent activity,
// owned by a PhaseExecution.
type ToolCall struct {
	ID          string          `json:"id" db:"id"`
	ExecutionID string          `json:"execution_id" db:"execution_id"`
	Seq         int             `json:"seq" db:"seq"` // Delivery order within the execution
	Name        string          `json:"name" db:"name"`
	Input       json.RawMessage `json:"input,omitempty" db:"-"`
	Output      json.RawMessage `json:"output,omitempty" db:"-"`
	DurationMs  int64           `json:"duration_ms" db:"duration_ms"`
	CalledAt    time.Time       `json:"called_at" db:"called_at"`
}
