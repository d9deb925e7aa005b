package models

import "time"

// BlockEvent is an immutable diagnostic record of one detected anti-bot
// challenge. Created when a job transitions into BLOCKED (or when a caller
// reports a block it detected itself); never mutated.
type BlockEvent struct {
	ID        string    `json:"id" badgerhold:"key"`
	JobID     string    `json:"job_id" badgerhold:"index"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockedState is the operator-facing snapshot of the current block
// situation, shaped for the unblock status surface.
type BlockedState struct {
	Blocked      bool       `json:"blocked"`
	JobID        string     `json:"job_id,omitempty"`
	URL          string     `json:"url,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	BlockedAt    time.Time  `json:"blocked_at,omitempty"`
	GUIActive    bool       `json:"gui_active"`
	LockHolder   LockHolder `json:"lock_holder"`
	WaitDeadline time.Time  `json:"wait_deadline,omitempty"`
}
