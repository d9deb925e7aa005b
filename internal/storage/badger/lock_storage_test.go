package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/models"
)

const testSession = "browser"

func newTestLockStorage(t *testing.T, staleAfter time.Duration) (*LockStorage, *BadgerDB) {
	t.Helper()
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	return NewLockStorage(db, jobs, staleAfter, logger).(*LockStorage), db
}

func TestLockMutualExclusion(t *testing.T) {
	storage, _ := newTestLockStorage(t, 0)
	ctx := context.Background()

	ok, err := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected free lock to be granted")
	}

	// Held by automation: human denied, other automation jobs denied
	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderHuman, "job-1"); ok {
		t.Error("Expected HUMAN to be denied while AUTOMATION holds")
	}
	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-2"); ok {
		t.Error("Expected a different job to be denied while job-1 holds")
	}

	// Same holder, same job is re-entrant
	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1"); !ok {
		t.Error("Expected re-entrant acquire to succeed")
	}
}

func TestLockReleaseMatching(t *testing.T) {
	storage, _ := newTestLockStorage(t, 0)
	ctx := context.Background()

	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1"); !ok {
		t.Fatal("Expected acquire to succeed")
	}

	// Mismatched release is a no-op, the hold survives
	if err := storage.Release(ctx, testSession, models.LockHolderHuman, "job-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if err := storage.Release(ctx, testSession, models.LockHolderAutomation, "job-9"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	lock, err := storage.Status(ctx, testSession)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if lock.Holder != models.LockHolderAutomation {
		t.Errorf("Expected hold to survive mismatched release, got %s", lock.Holder)
	}

	// Matching release frees the session
	if err := storage.Release(ctx, testSession, models.LockHolderAutomation, "job-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	lock, _ = storage.Status(ctx, testSession)
	if lock.Holder != models.LockHolderNone {
		t.Errorf("Expected NONE after release, got %s", lock.Holder)
	}
	if lock.OwningJobID != "" {
		t.Errorf("Expected empty owning job after release, got %s", lock.OwningJobID)
	}

	// Releasing an unheld lock stays idempotent
	if err := storage.Release(ctx, testSession, models.LockHolderAutomation, "job-1"); err != nil {
		t.Fatalf("Idempotent release failed: %v", err)
	}
}

func TestLockTransferToHuman(t *testing.T) {
	storage, _ := newTestLockStorage(t, 0)
	ctx := context.Background()

	// Transfer without an automation hold fails
	if err := storage.TransferToHuman(ctx, testSession, "job-1"); err == nil {
		t.Error("Expected transfer of unheld lock to fail")
	}

	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1"); !ok {
		t.Fatal("Expected acquire to succeed")
	}

	// Wrong job refuses the transfer
	if err := storage.TransferToHuman(ctx, testSession, "job-2"); err == nil {
		t.Error("Expected transfer with mismatched job to fail")
	}

	if err := storage.TransferToHuman(ctx, testSession, "job-1"); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	lock, err := storage.Status(ctx, testSession)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if lock.Holder != models.LockHolderHuman {
		t.Errorf("Expected HUMAN holder, got %s", lock.Holder)
	}
	if lock.OwningJobID != "job-1" {
		t.Errorf("Expected owning job to stay job-1, got %s", lock.OwningJobID)
	}

	// Automation cannot jump back in while the human holds
	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1"); ok {
		t.Error("Expected AUTOMATION to be denied while HUMAN holds")
	}

	// Human hands back, automation re-acquires
	if err := storage.Release(ctx, testSession, models.LockHolderHuman, "job-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1"); !ok {
		t.Error("Expected AUTOMATION to re-acquire after human release")
	}
}

func TestLockForceRelease(t *testing.T) {
	storage, _ := newTestLockStorage(t, 0)
	ctx := context.Background()

	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-1"); !ok {
		t.Fatal("Expected acquire to succeed")
	}
	if err := storage.TransferToHuman(ctx, testSession, "job-1"); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if err := storage.ForceRelease(ctx, testSession); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	lock, _ := storage.Status(ctx, testSession)
	if lock.Holder != models.LockHolderNone {
		t.Errorf("Expected NONE after force release, got %s", lock.Holder)
	}
}

func TestLockStaleReclaim(t *testing.T) {
	storage, db := newTestLockStorage(t, 30*time.Minute)
	ctx := context.Background()

	// Backdate a hold whose owning job no longer exists - a crashed run
	stale := models.SessionLock{
		SessionID:   testSession,
		Holder:      models.LockHolderAutomation,
		OwningJobID: "job-crashed",
		AcquiredAt:  time.Now().Add(-time.Hour),
		UpdatedAt:   time.Now().Add(-time.Hour),
	}
	if err := db.Store().Upsert(stale.SessionID, stale); err != nil {
		t.Fatalf("Failed to seed stale lock: %v", err)
	}

	ok, err := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-new")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected stale hold to be reclaimed by automation")
	}

	lock, _ := storage.Status(ctx, testSession)
	if lock.OwningJobID != "job-new" {
		t.Errorf("Expected job-new to own the lock, got %s", lock.OwningJobID)
	}
}

func TestLockStaleReclaimRespectsActiveJobs(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	jobs := NewJobStorage(db, logger)
	storage := NewLockStorage(db, jobs, 30*time.Minute, logger).(*LockStorage)
	ctx := context.Background()

	// The owning job is RUNNING, so even an hour-old hold is not stale
	if err := jobs.Create(ctx, newTestJob("job-live", "riz", time.Now().Add(-2*time.Hour))); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if _, err := jobs.ClaimNextPending(ctx); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	old := models.SessionLock{
		SessionID:   testSession,
		Holder:      models.LockHolderAutomation,
		OwningJobID: "job-live",
		AcquiredAt:  time.Now().Add(-time.Hour),
		UpdatedAt:   time.Now().Add(-time.Hour),
	}
	if err := db.Store().Upsert(old.SessionID, old); err != nil {
		t.Fatalf("Failed to seed lock: %v", err)
	}

	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderAutomation, "job-other"); ok {
		t.Error("Expected hold for an active job to be kept")
	}

	// Humans never reclaim stale automation holds either way
	if ok, _ := storage.TryAcquire(ctx, testSession, models.LockHolderHuman, ""); ok {
		t.Error("Expected HUMAN to be denied a held lock regardless of age")
	}
}

func TestLockConcurrentAcquire(t *testing.T) {
	storage, _ := newTestLockStorage(t, 0)
	ctx := context.Background()

	var granted int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	holders := []models.LockHolder{
		models.LockHolderAutomation,
		models.LockHolderHuman,
		models.LockHolderAutomation,
		models.LockHolderHuman,
	}
	for i, holder := range holders {
		wg.Add(1)
		go func(holder models.LockHolder, jobID string) {
			defer wg.Done()
			<-start
			ok, err := storage.TryAcquire(ctx, testSession, holder, jobID)
			if err != nil {
				t.Errorf("TryAcquire failed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&granted, 1)
			}
		}(holder, "job-"+string(rune('a'+i)))
	}

	close(start)
	wg.Wait()

	if granted != 1 {
		t.Errorf("Expected exactly one grant, got %d", granted)
	}
}
