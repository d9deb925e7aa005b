// -------------------------------------------------------------------------
// Unblock Coordinator - moves jobs between RUNNING, BLOCKED and terminal
// states in response to challenge detections and human signals
// -------------------------------------------------------------------------

package unblock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

// waiter is the in-memory wait state for one blocked job. The deadline is
// fixed when the job suspends; premature signals do not extend it.
type waiter struct {
	ch       chan struct{}
	done     chan struct{}
	deadline time.Time
}

// Service implements the unblock coordination state machine. All durable
// state lives in storage; the service only holds the signal channels and
// the GUI activity flag.
type Service struct {
	config *common.Config
	store  interfaces.StorageManager
	events interfaces.EventService
	logger arbor.ILogger

	mu        sync.Mutex
	waiters   map[string]*waiter
	guiActive bool
}

// NewService creates a new unblock coordinator
func NewService(config *common.Config, store interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) interfaces.UnblockService {
	return &Service{
		config:  config,
		store:   store,
		events:  events,
		logger:  logger,
		waiters: make(map[string]*waiter),
	}
}

// Suspend performs the RUNNING -> BLOCKED step for a challenged job:
// block event, status transition, lock handover, armed deadline.
func (s *Service) Suspend(ctx context.Context, job *models.Job, url, reason string) error {
	event := &models.BlockEvent{
		ID:        common.NewBlockEventID(),
		JobID:     job.ID,
		URL:       url,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if err := s.store.BlockEventStorage().Record(ctx, event); err != nil {
		return fmt.Errorf("recording block event: %w", err)
	}

	moved, err := s.store.JobStorage().Transition(ctx, job.ID, models.JobStatusRunning, models.JobStatusBlocked, func(j *models.Job) {
		j.BlockedURL = url
		j.BlockEpisodes++
	})
	if err != nil {
		return fmt.Errorf("suspending job %s: %w", job.ID, err)
	}
	if !moved {
		return fmt.Errorf("job %s is no longer running", job.ID)
	}

	if err := s.store.LockStorage().TransferToHuman(ctx, s.session(), job.ID); err != nil {
		// BLOCKED without a handover is a dead end: nobody was given the
		// session, so no signal will ever arrive. Fail the job instead.
		s.failBlocked(ctx, job.ID, models.ErrCodeChallengeDetected,
			fmt.Sprintf("session handover failed: %v", err))
		return fmt.Errorf("transferring session to human: %w", err)
	}

	s.arm(job.ID)

	s.logger.Warn().
		Str("job_id", job.ID).
		Str("url", url).
		Str("reason", reason).
		Msg("Job blocked, session handed to human")

	s.publish(ctx, interfaces.EventJobBlocked, map[string]interface{}{
		"job_id": job.ID,
		"url":    url,
		"reason": reason,
	})

	return nil
}

// AwaitResume waits for the blocked job's unblock signal or deadline
func (s *Service) AwaitResume(ctx context.Context, jobID string) (bool, error) {
	w := s.arm(jobID)
	defer s.disarm(jobID)

	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-w.done:
			// Cleared externally; the job was already dealt with.
			return false, nil

		case <-timer.C:
			s.expire(ctx, jobID)
			return false, nil

		case <-w.ch:
			granted, err := s.store.LockStorage().TryAcquire(ctx, s.session(), models.LockHolderAutomation, jobID)
			if err != nil {
				return false, fmt.Errorf("reacquiring session for job %s: %w", jobID, err)
			}
			if !granted {
				// Premature: the human still holds the session. The
				// deadline keeps running.
				s.logger.Warn().Str("job_id", jobID).Msg("Premature unblock signal, session still held by human")
				continue
			}

			moved, err := s.store.JobStorage().Transition(ctx, jobID, models.JobStatusBlocked, models.JobStatusRunning, func(j *models.Job) {
				j.BlockedURL = ""
			})
			if err != nil {
				return false, fmt.Errorf("resuming job %s: %w", jobID, err)
			}
			if !moved {
				// The job left BLOCKED some other way; give the session back.
				_ = s.store.LockStorage().Release(ctx, s.session(), models.LockHolderAutomation, jobID)
				return false, nil
			}

			s.logger.Info().Str("job_id", jobID).Msg("Unblock signal accepted, job resumed")
			s.publish(ctx, interfaces.EventJobResumed, map[string]interface{}{"job_id": jobID})
			return true, nil
		}
	}
}

// Signal delivers the human's unblock message for a job. Returns false
// when nobody is waiting or a signal is already pending.
func (s *Service) Signal(jobID string) bool {
	s.mu.Lock()
	w := s.waiters[jobID]
	s.mu.Unlock()

	if w == nil {
		s.logger.Debug().Str("job_id", jobID).Msg("Unblock signal for a job that is not waiting")
		return false
	}

	select {
	case w.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// ReportBlocked applies the suspension step to a RUNNING job by id. The
// external detection path: the operator surface saw a challenge before
// the worker did.
func (s *Service) ReportBlocked(ctx context.Context, jobID, url, reason string) error {
	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("job %s is %s, only running jobs can be blocked", jobID, job.Status)
	}
	return s.Suspend(ctx, job, url, reason)
}

// BlockedState returns the operator-facing snapshot of the block situation
func (s *Service) BlockedState(ctx context.Context) (*models.BlockedState, error) {
	lock, err := s.store.LockStorage().Status(ctx, s.session())
	if err != nil {
		return nil, fmt.Errorf("loading session lock: %w", err)
	}

	state := &models.BlockedState{
		GUIActive:  s.GUIActive(),
		LockHolder: lock.Holder,
	}

	jobs, err := s.store.JobStorage().List(ctx, models.JobStatusBlocked, 1)
	if err != nil {
		return nil, fmt.Errorf("listing blocked jobs: %w", err)
	}
	if len(jobs) == 0 {
		return state, nil
	}

	job := jobs[0]
	state.Blocked = true
	state.JobID = job.ID
	state.URL = job.BlockedURL
	state.BlockedAt = job.UpdatedAt

	s.mu.Lock()
	if w := s.waiters[job.ID]; w != nil {
		state.WaitDeadline = w.deadline
	}
	s.mu.Unlock()

	if event, err := s.store.BlockEventStorage().Latest(ctx); err == nil && event != nil && event.JobID == job.ID {
		state.Reason = event.Reason
	}

	return state, nil
}

// ClearBlocked is operator recovery for a wedged blocked state: fails any
// job still BLOCKED, wakes its waiter and force-releases the session.
func (s *Service) ClearBlocked(ctx context.Context) error {
	jobs, err := s.store.JobStorage().List(ctx, models.JobStatusBlocked, 0)
	if err != nil {
		return fmt.Errorf("listing blocked jobs: %w", err)
	}

	for _, job := range jobs {
		s.failBlocked(ctx, job.ID, models.ErrCodeUnblockTimeout, "blocked state cleared by operator")

		s.mu.Lock()
		w := s.waiters[job.ID]
		delete(s.waiters, job.ID)
		s.mu.Unlock()
		if w != nil {
			close(w.done)
		}
	}

	if err := s.store.LockStorage().ForceRelease(ctx, s.session()); err != nil {
		return fmt.Errorf("force releasing session: %w", err)
	}

	s.SetGUIActive(false)

	s.logger.Info().Int("jobs", len(jobs)).Msg("Blocked state cleared")
	s.publish(ctx, interfaces.EventBlockedCleared, map[string]interface{}{"jobs": len(jobs)})

	return nil
}

// SetGUIActive records whether the human-facing surface is attended
func (s *Service) SetGUIActive(active bool) {
	s.mu.Lock()
	changed := s.guiActive != active
	s.guiActive = active
	s.mu.Unlock()

	if changed {
		s.logger.Debug().Bool("active", active).Msg("GUI activity changed")
	}
}

// GUIActive reports whether the human-facing surface is attended
func (s *Service) GUIActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guiActive
}

// expire handles the deadline path. The BLOCKED -> FAILED compare-and-swap
// decides the race against a late signal or an operator clear; only the
// winner releases the human hold.
func (s *Service) expire(ctx context.Context, jobID string) {
	timeout := s.config.Unblock.TimeoutDuration()
	if !s.failBlocked(ctx, jobID, models.ErrCodeUnblockTimeout,
		fmt.Sprintf("challenge not resolved within %s", timeout)) {
		return
	}

	if err := s.store.LockStorage().Release(ctx, s.session(), models.LockHolderHuman, jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Releasing human hold after timeout failed")
	}

	s.logger.Warn().
		Str("job_id", jobID).
		Str("timeout", timeout.String()).
		Msg("Unblock deadline elapsed, job failed")
}

// failBlocked moves a BLOCKED job to FAILED with code/message. Returns
// whether this call won the transition.
func (s *Service) failBlocked(ctx context.Context, jobID, code, message string) bool {
	won, err := s.store.JobStorage().Transition(ctx, jobID, models.JobStatusBlocked, models.JobStatusFailed, func(j *models.Job) {
		j.BlockedURL = ""
		j.ErrorCode = code
		j.ErrorMessage = message
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failing blocked job errored")
		return false
	}
	if won {
		s.publish(ctx, interfaces.EventJobFailed, map[string]interface{}{
			"job_id":     jobID,
			"error_code": code,
		})
	}
	return won
}

// arm registers (or returns) the wait state for a blocked job
func (s *Service) arm(jobID string) *waiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.waiters[jobID]; ok {
		return w
	}
	w := &waiter{
		ch:       make(chan struct{}, 1),
		done:     make(chan struct{}),
		deadline: time.Now().Add(s.config.Unblock.TimeoutDuration()),
	}
	s.waiters[jobID] = w
	return w
}

func (s *Service) disarm(jobID string) {
	s.mu.Lock()
	delete(s.waiters, jobID)
	s.mu.Unlock()
}

func (s *Service) session() string {
	return s.config.Retailer.SessionID()
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Event publish failed")
	}
}
