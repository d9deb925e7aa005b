// -------------------------------------------------------------------------
// Worker - the job execution loop: claims pending search jobs one at a
// time and drives them through the shared browser session
// -------------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

// Service runs the single worker goroutine for the session. One job is in
// flight at any time; the session lock, not the loop, is what other
// controllers contend with.
type Service struct {
	config    *common.Config
	store     interfaces.StorageManager
	browser   interfaces.BrowserService
	search    interfaces.SearchService
	detector  interfaces.Classifier
	unblock   interfaces.UnblockService
	artifacts interfaces.ArtifactService
	events    interfaces.EventService
	logger    arbor.ILogger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	healthy atomic.Bool
}

// settlement is a finished attempt waiting to be written: either a result
// (SUCCEEDED) or an error code and message (FAILED).
type settlement struct {
	result  *models.SearchResult
	code    string
	message string
}

func NewService(
	config *common.Config,
	store interfaces.StorageManager,
	browser interfaces.BrowserService,
	search interfaces.SearchService,
	detector interfaces.Classifier,
	unblock interfaces.UnblockService,
	artifacts interfaces.ArtifactService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:    config,
		store:     store,
		browser:   browser,
		search:    search,
		detector:  detector,
		unblock:   unblock,
		artifacts: artifacts,
		events:    events,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine. A no-op when the worker is disabled
// by configuration, which leaves the HTTP surface up for manual operation.
func (s *Service) Start() {
	if !s.config.Worker.Enabled {
		s.logger.Info().Msg("Worker disabled by configuration")
		return
	}

	s.started = true
	s.healthy.Store(true)
	go s.run()
}

// Stop cancels the loop and waits for the in-flight job to let go. A job
// parked in a blocked wait is released by the cancellation; the job itself
// stays BLOCKED in storage and is adopted on the next start.
func (s *Service) Stop() {
	s.cancel()
	if !s.started {
		return
	}

	select {
	case <-s.done:
		s.logger.Info().Msg("Worker stopped")
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Worker did not stop in time")
	}
}

// Healthy reports whether the loop is live. False after a storage failure
// halts the loop; feeds the readiness endpoint.
func (s *Service) Healthy() bool {
	if !s.config.Worker.Enabled {
		return true
	}
	return s.healthy.Load()
}

func (s *Service) run() {
	defer close(s.done)

	interval := s.config.Worker.PollIntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("poll_interval", interval.String()).
		Str("session_id", s.session()).
		Msg("Worker started")

	if err := s.resumeInterrupted(); err != nil && !errors.Is(err, context.Canceled) {
		s.healthy.Store(false)
		s.logger.Error().Err(err).Msg("Worker halted on storage failure")
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				s.healthy.Store(false)
				s.logger.Error().Err(err).Msg("Worker halted on storage failure")
				return
			}
		}
	}
}

// resumeInterrupted re-drives jobs a previous process left in RUNNING. The
// search is read-only, so rerunning the whole attempt is safe, and the lock
// acquire is re-entrant for the same job, so a stale automation hold from
// the crash is reclaimed rather than denied.
func (s *Service) resumeInterrupted() error {
	jobs, err := s.store.JobStorage().List(s.ctx, models.JobStatusRunning, 0)
	if err != nil {
		return fmt.Errorf("listing interrupted jobs: %w", err)
	}

	for _, job := range jobs {
		s.logger.Warn().Str("job_id", job.ID).Msg("Re-running job interrupted by restart")
		if err := s.runJob(job); err != nil {
			return err
		}
	}
	return nil
}

// tick runs one poll cycle: pick up any orphaned blocked job first, then
// claim and run the oldest pending one. Job-level failures settle into the
// job record; only storage failures propagate and halt the loop.
func (s *Service) tick() error {
	if err := s.adoptBlocked(); err != nil {
		return err
	}

	job, err := s.store.JobStorage().ClaimNextPending(s.ctx)
	if err != nil {
		return fmt.Errorf("claiming next job: %w", err)
	}
	if job == nil {
		return nil
	}
	return s.runJob(job)
}

// adoptBlocked resumes waiting on a BLOCKED job that nobody is waiting on:
// one left over from a previous process, or one moved to BLOCKED through
// the report endpoint while the loop was elsewhere. The loop is single
// threaded, so any BLOCKED job seen here has no active waiter.
func (s *Service) adoptBlocked() error {
	jobs, err := s.store.JobStorage().List(s.ctx, models.JobStatusBlocked, 1)
	if err != nil {
		return fmt.Errorf("listing blocked jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	job := jobs[0]
	s.logger.Info().Str("job_id", job.ID).Msg("Adopting blocked job")

	resumed, err := s.unblock.AwaitResume(s.ctx, job.ID)
	if err != nil {
		return err
	}
	if !resumed {
		// Timed out or cleared; the coordinator already settled the job.
		return nil
	}

	searchURL, err := s.search.BuildSearchURL(s.config.Retailer.StoreURL, job.Query)
	if err != nil {
		serr := s.settle(s.ctx, job, settlement{code: models.ErrCodeExtractionError,
			message: fmt.Sprintf("building search url: %v", err)})
		s.releaseLock(s.ctx, job.ID)
		return serr
	}

	execErr := s.execute(s.ctx, job, searchURL)
	s.releaseLock(s.ctx, job.ID)
	return execErr
}

// runJob drives one claimed job from RUNNING to a terminal state.
func (s *Service) runJob(job *models.Job) error {
	ctx := s.ctx

	s.logger.Info().
		Str("job_id", job.ID).
		Str("query", job.Query).
		Msg("Job claimed")
	s.publish(ctx, interfaces.EventJobStarted, map[string]interface{}{
		"job_id": job.ID,
		"query":  job.Query,
	})

	// Probe before touching the lock: an unreachable browser must never
	// consume the session.
	if err := s.browser.Health(ctx); err != nil {
		return s.settle(ctx, job, settlement{code: models.ErrCodeCDPUnreachable,
			message: fmt.Sprintf("browser session unreachable: %v", err)})
	}

	granted, err := s.store.LockStorage().TryAcquire(ctx, s.session(), models.LockHolderAutomation, job.ID)
	if err != nil {
		return fmt.Errorf("acquiring session lock: %w", err)
	}
	if !granted {
		return s.settle(ctx, job, settlement{code: models.ErrCodeLockDenied,
			message: "session held by another controller"})
	}

	searchURL, err := s.search.BuildSearchURL(s.config.Retailer.StoreURL, job.Query)
	if err != nil {
		serr := s.settle(ctx, job, settlement{code: models.ErrCodeExtractionError,
			message: fmt.Sprintf("building search url: %v", err)})
		s.releaseLock(ctx, job.ID)
		return serr
	}

	execErr := s.execute(ctx, job, searchURL)
	s.releaseLock(ctx, job.ID)
	return execErr
}

// execute performs the navigation attempt, looping once more after a
// resolved challenge. All paths end in a settle call or a blocked wait.
// The tab is closed on the way out unless it is showing a challenge; a
// challenge page always stays on screen for the human.
func (s *Service) execute(ctx context.Context, job *models.Job, searchURL string) error {
	started := time.Now()

	for {
		outcome, navErr := s.browser.Navigate(ctx, searchURL)
		if navErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return s.settle(ctx, job, settlement{code: models.ErrCodeCDPUnreachable,
				message: fmt.Sprintf("navigation failed: %v", navErr)})
		}

		verdict := s.detector.Classify(outcome)

		if verdict.Verdict == models.VerdictChallenge {
			done, err := s.handleChallenge(ctx, job, outcome, verdict)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			// Resumed: run the attempt again against the original target.
			continue
		}

		var st settlement
		if verdict.Verdict == models.VerdictNoResults {
			s.captureArtifacts(ctx, job.ID, models.ArtifactKindNoResults, outcome, "storefront reported no matching products")
			st.result = &models.SearchResult{
				Query:     job.Query,
				SearchURL: searchURL,
				Products:  []models.Product{},
			}
		} else {
			result, extractErr := s.search.Extract(outcome.HTML, job.Query, searchURL, job.Limit)
			if extractErr != nil {
				// Zero products without a recognized results page is a
				// failure with evidence, never a quiet empty success.
				s.captureArtifacts(ctx, job.ID, models.ArtifactKindError, outcome, extractErr.Error())
				st.code = models.ErrCodeExtractionError
				st.message = fmt.Sprintf("extraction failed: %v", extractErr)
			} else {
				if result.Count == 0 {
					s.captureArtifacts(ctx, job.ID, models.ArtifactKindNoResults, outcome, "results page with zero product tiles")
				}
				st.result = result
			}
		}
		if st.result != nil {
			st.result.DurationMs = time.Since(started).Milliseconds()
		}

		serr := s.settle(ctx, job, st)
		s.browser.Detach()
		return serr
	}
}

// handleChallenge reacts to a challenge verdict. Returns done=true when the
// job reached a terminal state, done=false when the human resolved the
// challenge and the attempt should navigate again.
func (s *Service) handleChallenge(ctx context.Context, job *models.Job, outcome *models.NavigationOutcome, c models.Classification) (bool, error) {
	current, err := s.store.JobStorage().Get(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("loading job %s: %w", job.ID, err)
	}

	s.captureArtifacts(ctx, job.ID, models.ArtifactKindBlocked, outcome, c.Reason)

	if current.BlockEpisodes >= 1 {
		// One human rescue per attempt. A challenge after the resume is
		// terminal.
		return true, s.settle(ctx, current, settlement{code: models.ErrCodeDataDomeBlocked,
			message: "challenge reappeared after unblock: " + c.Reason})
	}

	if err := s.unblock.Suspend(ctx, current, outcome.FinalURL, c.Reason); err != nil {
		// On partial suspension the coordinator has already failed the job.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Suspension failed")
		return true, nil
	}

	resumed, err := s.unblock.AwaitResume(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if !resumed {
		// Deadline elapsed or an operator cleared the block; the job is
		// already FAILED.
		return true, nil
	}

	s.logger.Info().Str("job_id", job.ID).Msg("Resuming after unblock")
	return false, nil
}

// settle writes the attempt's terminal state with a RUNNING compare-and-swap.
// Losing the swap means the job was moved to BLOCKED through the report
// endpoint mid-attempt; the blocked-job pickup on the next tick takes over,
// so losing is not an error.
func (s *Service) settle(ctx context.Context, job *models.Job, st settlement) error {
	to := models.JobStatusSucceeded
	mutate := func(j *models.Job) { j.Result = st.result }
	if st.result == nil {
		to = models.JobStatusFailed
		mutate = func(j *models.Job) {
			j.ErrorCode = st.code
			j.ErrorMessage = st.message
		}
	}

	won, err := s.store.JobStorage().Transition(ctx, job.ID, models.JobStatusRunning, to, mutate)
	if err != nil {
		return fmt.Errorf("settling job %s: %w", job.ID, err)
	}
	if !won {
		s.logger.Warn().
			Str("job_id", job.ID).
			Msg("Job moved during settlement, leaving it to the blocked-job pickup")
		return nil
	}

	if st.result != nil {
		s.logger.Info().
			Str("job_id", job.ID).
			Int("products", st.result.Count).
			Int64("duration_ms", st.result.DurationMs).
			Msg("Job succeeded")
		s.publish(ctx, interfaces.EventJobCompleted, map[string]interface{}{
			"job_id": job.ID,
			"count":  st.result.Count,
		})
		return nil
	}

	s.logger.Warn().
		Str("job_id", job.ID).
		Str("error_code", st.code).
		Str("error", st.message).
		Msg("Job failed")
	s.publish(ctx, interfaces.EventJobFailed, map[string]interface{}{
		"job_id":     job.ID,
		"error_code": st.code,
	})
	return nil
}

// captureArtifacts takes a best-effort screenshot and writes the capture
// set. Artifact problems are logged, never escalated; the job outcome is
// decided elsewhere.
func (s *Service) captureArtifacts(ctx context.Context, jobID string, kind models.ArtifactKind, outcome *models.NavigationOutcome, reason string) {
	if s.artifacts == nil {
		return
	}

	cctx := &interfaces.CaptureContext{Outcome: outcome, Reason: reason}
	if shot, err := s.browser.CaptureScreenshot(ctx); err == nil {
		cctx.Screenshot = shot
	} else {
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("Screenshot unavailable")
	}

	if _, err := s.artifacts.Capture(ctx, jobID, kind, cctx); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Artifact capture failed")
	}
}

// releaseLock drops the automation hold if it is still ours. After a
// blocked episode the lock may be gone or held by the human; the mismatch
// is a recorded no-op.
func (s *Service) releaseLock(ctx context.Context, jobID string) {
	if err := s.store.LockStorage().Release(ctx, s.session(), models.LockHolderAutomation, jobID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Session release failed")
	}
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
