package models

import "time"

// DefaultSessionID names the single shared browser session. The engine
// drives one remote browser, so one lock record is all there is.
const DefaultSessionID = "browser"

// LockHolder identifies which controller currently owns the shared
// browser session.
type LockHolder string

const (
	LockHolderNone       LockHolder = "NONE"
	LockHolderAutomation LockHolder = "AUTOMATION"
	LockHolderHuman      LockHolder = "HUMAN"
)

// IsValid checks if the LockHolder is a known, valid holder
func (h LockHolder) IsValid() bool {
	switch h {
	case LockHolderNone, LockHolderAutomation, LockHolderHuman:
		return true
	}
	return false
}

// String returns the string representation of the LockHolder
func (h LockHolder) String() string {
	return string(h)
}

// SessionLock arbitrates control of one shared browser session between the
// automated driver and the human operator. At most one holder at a time;
// OwningJobID carries the job on whose behalf the hold exists. Mutated
// only through the lock storage's atomic operations.
type SessionLock struct {
	SessionID   string     `json:"session_id" badgerhold:"key"`
	Holder      LockHolder `json:"holder"`
	OwningJobID string     `json:"owning_job_id,omitempty"`
	AcquiredAt  time.Time  `json:"acquired_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsHeld reports whether any controller currently owns the session
func (l *SessionLock) IsHeld() bool {
	return l.Holder == LockHolderAutomation || l.Holder == LockHolderHuman
}
