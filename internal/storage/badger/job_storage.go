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

// defaultListLimit caps List results when the caller passes no limit
const defaultListLimit = 100

// validTransitions is the job lifecycle graph. Transition refuses any
// from/to pair not listed here, so an illegal hop is a bug surfaced at
// the storage boundary rather than silent state corruption.
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusBlocked, models.JobStatusSucceeded, models.JobStatusFailed},
	models.JobStatusBlocked: {models.JobStatusRunning, models.JobStatusFailed},
}

// JobStorage implements the JobStorage interface for Badger. A process
// mutex serializes claim/transition read-modify-write cycles; badgerhold
// provides durability. One process owns the store.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// Create persists a new job in PENDING
func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !job.Kind.IsValid() {
		return fmt.Errorf("invalid job kind: %s", job.Kind)
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("new jobs must be PENDING, got %s", job.Status)
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	if err := s.db.Store().Insert(job.ID, *job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job already exists: %s", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("kind", job.Kind.String()).
		Msg("Job created")

	return nil
}

// Get retrieves a job by id
func (s *JobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// List returns jobs newest first, optionally filtered by status
func (s *JobStorage) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := badgerhold.Where("ID").Ne("")
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt").Reverse().Limit(limit)

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ClaimNextPending atomically moves the oldest PENDING job to RUNNING and
// returns it. The storage mutex closes the find-then-update window, so no
// two callers can claim the same job.
func (s *JobStorage) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusPending).SortBy("CreatedAt").Limit(1)
	if err := s.db.Store().Find(&pending, query); err != nil {
		return nil, fmt.Errorf("failed to find pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	job := pending[0]
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = now
	job.UpdatedAt = now

	if err := s.db.Store().Update(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Msg("Job claimed")

	return &job, nil
}

// Transition performs a compare-and-swap status change. Returns false
// when the job's current status does not match from; the job is left
// untouched and the caller has lost the race. An from/to pair outside the
// lifecycle graph is an error.
func (s *JobStorage) Transition(ctx context.Context, id string, from, to models.JobStatus, mutate func(*models.Job)) (bool, error) {
	if !isValidTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, interfaces.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status != from {
		s.logger.Debug().
			Str("job_id", id).
			Str("expected", from.String()).
			Str("actual", job.Status.String()).
			Str("target", to.String()).
			Msg("Transition conflict")
		return false, nil
	}

	if mutate != nil {
		mutate(&job)
	}

	now := time.Now()
	job.Status = to
	job.UpdatedAt = now
	if to.IsTerminal() {
		job.CompletedAt = now
	}

	if err := s.db.Store().Update(id, job); err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	s.logger.Debug().
		Str("job_id", id).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Job transitioned")

	return true, nil
}

// Counts returns the number of jobs per status
func (s *JobStorage) Counts(ctx context.Context) (map[models.JobStatus]int, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[models.JobStatus]int)
	for i := range jobs {
		counts[jobs[i].Status]++
	}
	return counts, nil
}

func isValidTransition(from, to models.JobStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
