package models

import (
	"encoding/json"
	"time"
)

// Artifact is an immutable, schema-validated output owned by exactly one
// PhaseExecution. A force-accepted artifact carries an explicit flag rather
// than being indistinguishable from a validated one.
type Artifact struct {
	ID            string          `json:"id" db:"id"`
	ExecutionID   string          `json:"execution_id" db:"execution_id"`
	SchemaRef     string          `json:"schema_ref" db:"schema_ref"`
	Content       json.RawMessage `json:"content" db:"-"`
	ForceAccepted bool            `json:"force_accepted" db:"force_accepted"` // Accepted by explicit override, not validation
	AcceptReason  string          `json:"accept_reason,omitempty" db:"accept_reason"`
	Partial       bool            `json:"partial" db:"partial"` // Salvaged from a cancelled or timed-out session
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
