package models

import "time"

// Checkpoint is an immutable snapshot of a RunState at a stage boundary.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	State     RunState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}
