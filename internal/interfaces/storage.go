package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/mercor/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist in the store
var ErrJobNotFound = errors.New("job not found")

// JobStorage - durable job records with atomic status transitions. Every
// status change in the system goes through Transition or ClaimNextPending;
// nothing writes Job.Status directly.
type JobStorage interface {
	// Create persists a new job in PENDING
	Create(ctx context.Context, job *models.Job) error

	// Get retrieves a job by id, ErrJobNotFound if absent
	Get(ctx context.Context, id string) (*models.Job, error)

	// List returns jobs newest first, optionally filtered by status.
	// A zero limit applies the storage default.
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)

	// ClaimNextPending atomically moves the oldest PENDING job to RUNNING
	// and returns it. Returns nil with no error when nothing is pending.
	// No two callers can claim the same job.
	ClaimNextPending(ctx context.Context) (*models.Job, error)

	// Transition performs a compare-and-swap status change: it loads the
	// job, verifies its status equals from, applies mutate, sets the new
	// status and persists. Returns false when the current status did not
	// match (the caller lost the race); the job is left untouched.
	Transition(ctx context.Context, id string, from, to models.JobStatus, mutate func(*models.Job)) (bool, error)

	// Counts returns the number of jobs per status
	Counts(ctx context.Context) (map[models.JobStatus]int, error)
}

// LockStorage - the session lock record with atomic acquire/release.
// Callers never read-then-write the record; all mutation goes through
// these operations.
type LockStorage interface {
	// TryAcquire attempts to take the lock for holder/jobID without
	// blocking. Succeeds when the lock is free, already held by the same
	// holder and job, or stale per the configured policy (stale holds are
	// reclaimable by AUTOMATION only). Returns false when a different
	// controller holds it.
	TryAcquire(ctx context.Context, sessionID string, holder models.LockHolder, jobID string) (bool, error)

	// Release clears the hold if holder and job match the current record.
	// Idempotent: releasing an unheld or differently-held lock is a no-op.
	Release(ctx context.Context, sessionID string, holder models.LockHolder, jobID string) error

	// TransferToHuman hands an AUTOMATION hold for jobID over to HUMAN in
	// one step, with no intermediate unheld window. Used only by the
	// unblock coordinator when suspending a blocked job.
	TransferToHuman(ctx context.Context, sessionID string, jobID string) error

	// ForceRelease unconditionally clears the lock. Operator recovery
	// only; never invoked automatically.
	ForceRelease(ctx context.Context, sessionID string) error

	// Status returns the current lock record (Holder NONE when never
	// acquired).
	Status(ctx context.Context, sessionID string) (*models.SessionLock, error)
}

// BlockEventStorage - immutable challenge diagnostics
type BlockEventStorage interface {
	// Record persists a new block event
	Record(ctx context.Context, event *models.BlockEvent) error

	// ListByJob returns events for a job, newest first
	ListByJob(ctx context.Context, jobID string) ([]*models.BlockEvent, error)

	// Latest returns the most recent event across all jobs, nil when none
	Latest(ctx context.Context) (*models.BlockEvent, error)
}

// ArtifactStorage - capture metadata records
type ArtifactStorage interface {
	// Save persists artifact metadata
	Save(ctx context.Context, artifact *models.Artifact) error

	// ListByJob returns artifacts for a job, newest first
	ListByJob(ctx context.Context, jobID string) ([]*models.Artifact, error)

	// ListOlderThan returns artifacts created before the cutoff
	ListOlderThan(ctx context.Context, cutoffUnix int64) ([]*models.Artifact, error)
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	JobStorage() JobStorage
	LockStorage() LockStorage
	BlockEventStorage() BlockEventStorage
	ArtifactStorage() ArtifactStorage

	// Healthy reports whether the underlying store is usable
	Healthy() error

	// RunGC performs one round of value log garbage collection
	RunGC() error

	// Close closes the database connection
	Close() error
}
