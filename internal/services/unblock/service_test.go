package unblock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
	"github.com/ternarybob/mercor/internal/services/events"
	"github.com/ternarybob/mercor/internal/storage/badger"
)

type awaitResult struct {
	resumed bool
	err     error
}

func newTestCoordinator(t *testing.T, timeout string) (interfaces.UnblockService, interfaces.StorageManager, *common.Config) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Unblock.Timeout = timeout
	cfg.Retailer.StoreLabel = "teststore"

	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, cfg)
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(cfg, store, events.NewService(logger), logger)
	return svc, store, cfg
}

// startLockedJob creates a job, claims it into RUNNING and takes the
// session for it, the exact state a challenge interrupts.
func startLockedJob(t *testing.T, store interfaces.StorageManager, session string) *models.Job {
	t.Helper()
	ctx := context.Background()

	job := &models.Job{
		ID:        uuid.New().String(),
		Kind:      models.JobKindSearch,
		Query:     "eau gazeuse",
		Limit:     20,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
	if err := store.JobStorage().Create(ctx, job); err != nil {
		t.Fatalf("creating job: %v", err)
	}

	claimed, err := store.JobStorage().ClaimNextPending(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claiming job: job=%v err=%v", claimed, err)
	}

	granted, err := store.LockStorage().TryAcquire(ctx, session, models.LockHolderAutomation, claimed.ID)
	if err != nil || !granted {
		t.Fatalf("acquiring session: granted=%v err=%v", granted, err)
	}

	return claimed
}

func TestSuspendMovesJobAndSession(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "5s")
	ctx := context.Background()
	session := cfg.Retailer.SessionID()
	job := startLockedJob(t, store, session)

	if err := svc.Suspend(ctx, job, "https://shop.example/recherche.aspx?TexteRecherche=eau", "url:datadome"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	blocked, err := store.JobStorage().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if blocked.Status != models.JobStatusBlocked {
		t.Errorf("Status = %s, want BLOCKED", blocked.Status)
	}
	if blocked.BlockedURL == "" {
		t.Error("BlockedURL should be set while blocked")
	}
	if blocked.BlockEpisodes != 1 {
		t.Errorf("BlockEpisodes = %d, want 1", blocked.BlockEpisodes)
	}

	lock, err := store.LockStorage().Status(ctx, session)
	if err != nil {
		t.Fatalf("loading lock: %v", err)
	}
	if lock.Holder != models.LockHolderHuman || lock.OwningJobID != job.ID {
		t.Errorf("lock = %s/%s, want HUMAN/%s", lock.Holder, lock.OwningJobID, job.ID)
	}

	eventsForJob, err := store.BlockEventStorage().ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("listing block events: %v", err)
	}
	if len(eventsForJob) != 1 || eventsForJob[0].Reason != "url:datadome" {
		t.Errorf("block events = %+v, want one with the detection reason", eventsForJob)
	}

	state, err := svc.BlockedState(ctx)
	if err != nil {
		t.Fatalf("BlockedState() error = %v", err)
	}
	if !state.Blocked || state.JobID != job.ID {
		t.Errorf("BlockedState = %+v, want blocked for job %s", state, job.ID)
	}
	if state.WaitDeadline.IsZero() {
		t.Error("WaitDeadline should be armed after Suspend")
	}
	if state.Reason != "url:datadome" {
		t.Errorf("Reason = %q, want the detection reason", state.Reason)
	}
}

func TestSuspendRequiresRunning(t *testing.T) {
	svc, store, _ := newTestCoordinator(t, "5s")
	ctx := context.Background()

	job := &models.Job{
		ID:        uuid.New().String(),
		Kind:      models.JobKindSearch,
		Query:     "lait",
		Limit:     20,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
	if err := store.JobStorage().Create(ctx, job); err != nil {
		t.Fatalf("creating job: %v", err)
	}

	if err := svc.Suspend(ctx, job, "https://shop.example", "url:datadome"); err == nil {
		t.Error("Suspend() of a PENDING job should fail")
	}

	loaded, _ := store.JobStorage().Get(ctx, job.ID)
	if loaded.Status != models.JobStatusPending {
		t.Errorf("Status = %s, want PENDING untouched", loaded.Status)
	}
}

func TestAwaitResumeAfterSignal(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "10s")
	ctx := context.Background()
	session := cfg.Retailer.SessionID()
	job := startLockedJob(t, store, session)

	if err := svc.Suspend(ctx, job, "https://shop.example", "url:datadome"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	// Human resolves the challenge: release the hold, then signal. The
	// signal buffers, so delivery before AwaitResume starts is fine.
	if err := store.LockStorage().Release(ctx, session, models.LockHolderHuman, job.ID); err != nil {
		t.Fatalf("releasing human hold: %v", err)
	}
	if !svc.Signal(job.ID) {
		t.Fatal("Signal() should reach the armed waiter")
	}

	resumed, err := svc.AwaitResume(ctx, job.ID)
	if err != nil {
		t.Fatalf("AwaitResume() error = %v", err)
	}
	if !resumed {
		t.Fatal("AwaitResume() = false, want resumed")
	}

	running, _ := store.JobStorage().Get(ctx, job.ID)
	if running.Status != models.JobStatusRunning {
		t.Errorf("Status = %s, want RUNNING after resume", running.Status)
	}
	if running.BlockedURL != "" {
		t.Errorf("BlockedURL = %q, want cleared after resume", running.BlockedURL)
	}

	lock, _ := store.LockStorage().Status(ctx, session)
	if lock.Holder != models.LockHolderAutomation || lock.OwningJobID != job.ID {
		t.Errorf("lock = %s/%s, want AUTOMATION/%s", lock.Holder, lock.OwningJobID, job.ID)
	}
}

func TestAwaitResumePrematureSignalRearms(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "10s")
	ctx := context.Background()
	session := cfg.Retailer.SessionID()
	job := startLockedJob(t, store, session)

	if err := svc.Suspend(ctx, job, "https://shop.example", "url:datadome"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	// Signal without releasing: the human still holds the session.
	if !svc.Signal(job.ID) {
		t.Fatal("Signal() should reach the armed waiter")
	}

	results := make(chan awaitResult, 1)
	go func() {
		resumed, err := svc.AwaitResume(ctx, job.ID)
		results <- awaitResult{resumed, err}
	}()

	select {
	case r := <-results:
		t.Fatalf("AwaitResume() returned %+v on a premature signal, want re-arm", r)
	case <-time.After(300 * time.Millisecond):
	}

	still, _ := store.JobStorage().Get(ctx, job.ID)
	if still.Status != models.JobStatusBlocked {
		t.Fatalf("Status = %s, want still BLOCKED after premature signal", still.Status)
	}

	// Now do it properly.
	if err := store.LockStorage().Release(ctx, session, models.LockHolderHuman, job.ID); err != nil {
		t.Fatalf("releasing human hold: %v", err)
	}
	svc.Signal(job.ID)

	select {
	case r := <-results:
		if r.err != nil || !r.resumed {
			t.Fatalf("AwaitResume() = %+v, want resumed", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitResume() did not return after a valid signal")
	}
}

func TestAwaitResumeTimeout(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "100ms")
	ctx := context.Background()
	session := cfg.Retailer.SessionID()
	job := startLockedJob(t, store, session)

	if err := svc.Suspend(ctx, job, "https://shop.example", "url:datadome"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	resumed, err := svc.AwaitResume(ctx, job.ID)
	if err != nil {
		t.Fatalf("AwaitResume() error = %v", err)
	}
	if resumed {
		t.Fatal("AwaitResume() = true, want timeout")
	}

	failed, _ := store.JobStorage().Get(ctx, job.ID)
	if failed.Status != models.JobStatusFailed {
		t.Fatalf("Status = %s, want FAILED after deadline", failed.Status)
	}
	if failed.ErrorCode != models.ErrCodeUnblockTimeout {
		t.Errorf("ErrorCode = %q, want UNBLOCK_TIMEOUT", failed.ErrorCode)
	}
	if failed.BlockedURL != "" {
		t.Errorf("BlockedURL = %q, want cleared on the way out of BLOCKED", failed.BlockedURL)
	}
	if failed.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set on a terminal status")
	}

	lock, _ := store.LockStorage().Status(ctx, session)
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s, want NONE after timeout release", lock.Holder)
	}

	// The waiter is gone; a late signal has nowhere to land.
	if svc.Signal(job.ID) {
		t.Error("Signal() after timeout should report no waiter")
	}
}

func TestAwaitResumeCancelled(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "10s")
	session := cfg.Retailer.SessionID()
	job := startLockedJob(t, store, session)

	if err := svc.Suspend(context.Background(), job, "https://shop.example", "url:datadome"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	resumed, err := svc.AwaitResume(ctx, job.ID)
	if resumed {
		t.Error("AwaitResume() = true on cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AwaitResume() error = %v, want context.Canceled", err)
	}

	// Cancellation is shutdown, not an outcome: the job stays BLOCKED.
	still, _ := store.JobStorage().Get(context.Background(), job.ID)
	if still.Status != models.JobStatusBlocked {
		t.Errorf("Status = %s, want BLOCKED preserved on shutdown", still.Status)
	}
}

func TestClearBlockedWakesWaiter(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "10s")
	ctx := context.Background()
	session := cfg.Retailer.SessionID()
	job := startLockedJob(t, store, session)

	if err := svc.Suspend(ctx, job, "https://shop.example", "url:datadome"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	svc.SetGUIActive(true)

	results := make(chan awaitResult, 1)
	go func() {
		resumed, err := svc.AwaitResume(ctx, job.ID)
		results <- awaitResult{resumed, err}
	}()
	time.Sleep(50 * time.Millisecond)

	if err := svc.ClearBlocked(ctx); err != nil {
		t.Fatalf("ClearBlocked() error = %v", err)
	}

	select {
	case r := <-results:
		if r.resumed || r.err != nil {
			t.Errorf("AwaitResume() = %+v, want (false, nil) after clear", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitResume() did not wake on ClearBlocked")
	}

	failed, _ := store.JobStorage().Get(ctx, job.ID)
	if failed.Status != models.JobStatusFailed {
		t.Errorf("Status = %s, want FAILED after clear", failed.Status)
	}
	if !strings.Contains(failed.ErrorMessage, "operator") {
		t.Errorf("ErrorMessage = %q, want the operator clear recorded", failed.ErrorMessage)
	}

	lock, _ := store.LockStorage().Status(ctx, session)
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s, want NONE after force release", lock.Holder)
	}
	if svc.GUIActive() {
		t.Error("GUIActive should reset on clear")
	}

	state, err := svc.BlockedState(ctx)
	if err != nil {
		t.Fatalf("BlockedState() error = %v", err)
	}
	if state.Blocked {
		t.Error("BlockedState should report unblocked after clear")
	}
}

func TestReportBlocked(t *testing.T) {
	svc, store, cfg := newTestCoordinator(t, "5s")
	ctx := context.Background()
	job := startLockedJob(t, store, cfg.Retailer.SessionID())

	if err := svc.ReportBlocked(ctx, job.ID, "https://shop.example/page", "reported by operator"); err != nil {
		t.Fatalf("ReportBlocked() error = %v", err)
	}

	blocked, _ := store.JobStorage().Get(ctx, job.ID)
	if blocked.Status != models.JobStatusBlocked {
		t.Errorf("Status = %s, want BLOCKED", blocked.Status)
	}

	// Already BLOCKED; a second report has nothing to suspend.
	if err := svc.ReportBlocked(ctx, job.ID, "https://shop.example", "again"); err == nil {
		t.Error("ReportBlocked() on a non-running job should fail")
	}
}

func TestSignalWithoutWaiter(t *testing.T) {
	svc, _, _ := newTestCoordinator(t, "5s")

	if svc.Signal("no-such-job") {
		t.Error("Signal() with no waiter should return false")
	}
}

func TestBlockedStateIdle(t *testing.T) {
	svc, _, _ := newTestCoordinator(t, "5s")

	state, err := svc.BlockedState(context.Background())
	if err != nil {
		t.Fatalf("BlockedState() error = %v", err)
	}
	if state.Blocked {
		t.Error("fresh system should not report blocked")
	}
	if state.LockHolder != models.LockHolderNone {
		t.Errorf("LockHolder = %s, want NONE", state.LockHolder)
	}

	svc.SetGUIActive(true)
	state, _ = svc.BlockedState(context.Background())
	if !state.GUIActive {
		t.Error("GUIActive should surface in the blocked state")
	}
}
