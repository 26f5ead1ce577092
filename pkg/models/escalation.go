package models

import "time"

// Escalation records a blocked state requiring a human decision. The engine
// publishes these; it never resolves them itself.
type Escalation struct {
	ID                  string    `json:"id" db:"id"`
	RunID               string    `json:"run_id" db:"run_id"`
	EntityID            string    `json:"entity_id" db:"entity_id"` // Phase or run that cannot progress
	Reason              string    `json:"reason" db:"reason"`
	AttemptedApproaches []string  `json:"attempted_approaches" db:"-"`
	RequiredHumanInput  string    `json:"required_human_input" db:"required_human_input"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
