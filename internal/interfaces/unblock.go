package interfaces

import (
	"context"

	"github.com/ternarybob/mercor/internal/models"
)

// UnblockService is the state machine that moves a job between RUNNING,
// BLOCKED and terminal states in response to challenge detections and
// human signals, with bounded waiting.
type UnblockService interface {
	// Suspend performs the RUNNING -> BLOCKED step for a challenged job:
	// records a block event, moves the job to BLOCKED with the blocking
	// URL, hands the session lock from AUTOMATION to HUMAN and arms the
	// unblock deadline. One logical step; on any partial failure the job
	// is failed rather than left half-suspended.
	Suspend(ctx context.Context, job *models.Job, url, reason string) error

	// AwaitResume waits for the blocked job's unblock signal or deadline.
	// Returns true when a signal was accepted: the session lock is held by
	// AUTOMATION again and the job is back in RUNNING. Returns false with
	// nil error when the deadline elapsed: the job has been failed with
	// UNBLOCK_TIMEOUT and the human hold released. A premature signal
	// (human still holds the lock) re-arms the wait without consuming the
	// deadline. The wait is cancellable through ctx.
	AwaitResume(ctx context.Context, jobID string) (bool, error)

	// Signal delivers the human's "challenge resolved" message for a job.
	// Non-blocking and at-most-once-effective: signalling a job that is
	// not waiting returns false and has no effect.
	Signal(jobID string) bool

	// ReportBlocked applies Suspend to a RUNNING job identified by id.
	// Used by callers that detect a challenge outside the worker loop.
	ReportBlocked(ctx context.Context, jobID, url, reason string) error

	// BlockedState returns the operator-facing snapshot of the current
	// block situation.
	BlockedState(ctx context.Context) (*models.BlockedState, error)

	// ClearBlocked is operator recovery for a wedged blocked state: fails
	// any job still BLOCKED and force-releases the session lock.
	ClearBlocked(ctx context.Context) error

	// SetGUIActive records whether the human-facing surface is attended
	SetGUIActive(active bool)

	// GUIActive reports whether the human-facing surface is attended
	GUIActive() bool
}
