package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LockStorage implements the LockStorage interface for Badger. The
// process mutex makes every acquire/release an atomic read-modify-write;
// the persisted record survives restarts so a crashed run's hold is
// visible (and reclaimable) on the next one.
type LockStorage struct {
	db         *BadgerDB
	jobs       interfaces.JobStorage
	logger     arbor.ILogger
	staleAfter time.Duration
	mu         sync.Mutex
}

// NewLockStorage creates a new LockStorage instance. The job storage is
// consulted for the staleness policy: a hold is only reclaimable when its
// owning job is no longer active.
func NewLockStorage(db *BadgerDB, jobs interfaces.JobStorage, staleAfter time.Duration, logger arbor.ILogger) interfaces.LockStorage {
	return &LockStorage{
		db:         db,
		jobs:       jobs,
		logger:     logger,
		staleAfter: staleAfter,
	}
}

// TryAcquire attempts to take the lock without blocking
func (s *LockStorage) TryAcquire(ctx context.Context, sessionID string, holder models.LockHolder, jobID string) (bool, error) {
	if holder != models.LockHolderAutomation && holder != models.LockHolderHuman {
		return false, fmt.Errorf("invalid lock holder: %s", holder)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.load(sessionID)
	if err != nil {
		return false, err
	}

	switch {
	case lock.Holder == models.LockHolderNone:
		// Free

	case lock.Holder == holder && lock.OwningJobID == jobID:
		// Re-entrant: same controller, same job
		return true, nil

	case holder == models.LockHolderAutomation && s.isStale(ctx, lock):
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("stale_holder", lock.Holder.String()).
			Str("stale_job_id", lock.OwningJobID).
			Str("acquired_at", lock.AcquiredAt.Format(time.RFC3339)).
			Msg("Reclaiming stale session lock")

	default:
		return false, nil
	}

	now := time.Now()
	lock.Holder = holder
	lock.OwningJobID = jobID
	lock.AcquiredAt = now
	lock.UpdatedAt = now

	if err := s.save(lock); err != nil {
		return false, err
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("holder", holder.String()).
		Str("job_id", jobID).
		Msg("Session lock acquired")

	return true, nil
}

// Release clears the hold if holder and job match the current record.
// Idempotent: a release that does not match is a logged no-op.
func (s *LockStorage) Release(ctx context.Context, sessionID string, holder models.LockHolder, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.load(sessionID)
	if err != nil {
		return err
	}

	if lock.Holder != holder || lock.OwningJobID != jobID {
		s.logger.Debug().
			Str("session_id", sessionID).
			Str("release_holder", holder.String()).
			Str("release_job_id", jobID).
			Str("current_holder", lock.Holder.String()).
			Str("current_job_id", lock.OwningJobID).
			Msg("Release did not match current hold - no-op")
		return nil
	}

	s.clear(lock)
	if err := s.save(lock); err != nil {
		return err
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("holder", holder.String()).
		Str("job_id", jobID).
		Msg("Session lock released")

	return nil
}

// TransferToHuman hands an AUTOMATION hold over to HUMAN in one step
func (s *LockStorage) TransferToHuman(ctx context.Context, sessionID string, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.load(sessionID)
	if err != nil {
		return err
	}

	if lock.Holder != models.LockHolderAutomation || lock.OwningJobID != jobID {
		return fmt.Errorf("cannot transfer lock to human: held by %s for job %q, expected AUTOMATION for job %q",
			lock.Holder, lock.OwningJobID, jobID)
	}

	now := time.Now()
	lock.Holder = models.LockHolderHuman
	lock.AcquiredAt = now
	lock.UpdatedAt = now

	if err := s.save(lock); err != nil {
		return err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("job_id", jobID).
		Msg("Session lock transferred to human")

	return nil
}

// ForceRelease unconditionally clears the lock. Operator recovery only.
func (s *LockStorage) ForceRelease(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.load(sessionID)
	if err != nil {
		return err
	}

	prevHolder := lock.Holder
	s.clear(lock)
	if err := s.save(lock); err != nil {
		return err
	}

	s.logger.Warn().
		Str("session_id", sessionID).
		Str("previous_holder", prevHolder.String()).
		Msg("Session lock force-released")

	return nil
}

// Status returns the current lock record
func (s *LockStorage) Status(ctx context.Context, sessionID string) (*models.SessionLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(sessionID)
}

// load reads the lock record, returning a fresh NONE record when the
// session has never been locked. Callers hold s.mu.
func (s *LockStorage) load(sessionID string) (*models.SessionLock, error) {
	var lock models.SessionLock
	err := s.db.Store().Get(sessionID, &lock)
	if err == badgerhold.ErrNotFound {
		return &models.SessionLock{
			SessionID: sessionID,
			Holder:    models.LockHolderNone,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session lock: %w", err)
	}
	return &lock, nil
}

func (s *LockStorage) save(lock *models.SessionLock) error {
	if err := s.db.Store().Upsert(lock.SessionID, *lock); err != nil {
		return fmt.Errorf("failed to save session lock: %w", err)
	}
	return nil
}

func (s *LockStorage) clear(lock *models.SessionLock) {
	lock.Holder = models.LockHolderNone
	lock.OwningJobID = ""
	lock.AcquiredAt = time.Time{}
	lock.UpdatedAt = time.Now()
}

// isStale reports whether a hold is old enough to reclaim and its owning
// job is no longer active. A hold for a RUNNING or BLOCKED job is never
// stale regardless of age.
func (s *LockStorage) isStale(ctx context.Context, lock *models.SessionLock) bool {
	if !lock.IsHeld() || s.staleAfter <= 0 {
		return false
	}
	if time.Since(lock.AcquiredAt) < s.staleAfter {
		return false
	}

	if lock.OwningJobID == "" {
		return true
	}

	job, err := s.jobs.Get(ctx, lock.OwningJobID)
	if err != nil {
		// Owning job unknown: treat the hold as abandoned
		return true
	}
	return !job.Status.IsActive()
}
