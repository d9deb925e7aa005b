package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
	"github.com/ternarybob/mercor/internal/services/artifacts"
	"github.com/ternarybob/mercor/internal/services/detector"
	"github.com/ternarybob/mercor/internal/services/events"
	"github.com/ternarybob/mercor/internal/services/search"
	"github.com/ternarybob/mercor/internal/services/unblock"
	"github.com/ternarybob/mercor/internal/storage/badger"
)

const resultsPageHTML = `
<!DOCTYPE html>
<html>
<body>
<div id="divWCRS310_ListeProduits">
  <ul>
    <li class="liWCRS310_Product">
      <a href="/fiche-produits-87001.aspx" title="Perrier Eau gazeuse 6x1L">
        <img src="/images/produits/87001.jpg" alt="Perrier">
      </a>
      <p class="pWCRS310_Desc">Perrier Eau gazeuse 6x1L</p>
      <p class="pWCRS310_Marque">PERRIER</p>
      <div class="divWCRS310_PrixUnitaire">4,15 &euro;</div>
      <div class="divWCRS310_PrixParQuantite">0,69 &euro; / L</div>
    </li>
    <li class="liWCRS310_Product">
      <p class="pWCRS310_Desc">San Pellegrino Eau gazeuse 1L</p>
      <p class="pWCRS310_Marque">SAN PELLEGRINO</p>
      <div class="divWCRS310_PrixUnitaire">0,93 &euro;</div>
    </li>
  </ul>
</div>
</body>
</html>`

const noResultsPageHTML = `
<!DOCTYPE html>
<html>
<body>
<div class="divWCRS310_Message">Aucun produit ne correspond &agrave; votre recherche.</div>
</body>
</html>`

// fakeBrowser replays scripted navigation outcomes in order; the last one
// repeats. Everything else about the session is healthy unless reachable
// is false.
type fakeBrowser struct {
	mu        sync.Mutex
	reachable bool
	outcomes  []*models.NavigationOutcome
	navErr    error
	navCount  int
	detached  int
}

func (f *fakeBrowser) Health(ctx context.Context) error {
	if !f.reachable {
		return errors.New("dial tcp 127.0.0.1:9222: connection refused")
	}
	return nil
}

func (f *fakeBrowser) Version(ctx context.Context) (string, error) {
	if err := f.Health(ctx); err != nil {
		return "", err
	}
	return "TestBrowser/1.0", nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) (*models.NavigationOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.navErr != nil {
		return nil, f.navErr
	}
	if len(f.outcomes) == 0 {
		return nil, errors.New("no scripted outcome")
	}

	f.navCount++
	next := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}

	out := *next
	out.RequestedURL = url
	if out.FinalURL == "" {
		out.FinalURL = url
	}
	return &out, nil
}

func (f *fakeBrowser) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return []byte("fake-png"), nil
}

func (f *fakeBrowser) Detach() {
	f.mu.Lock()
	f.detached++
	f.mu.Unlock()
}

func (f *fakeBrowser) Close() error { return nil }

func (f *fakeBrowser) navigations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.navCount
}

func (f *fakeBrowser) detaches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

func resultsOutcome() *models.NavigationOutcome {
	return &models.NavigationOutcome{
		Status:        200,
		Title:         "E.Leclerc DRIVE Seclin",
		HTML:          resultsPageHTML,
		RequestCount:  40,
		ResponseCount: 40,
	}
}

func emptyOutcome() *models.NavigationOutcome {
	return &models.NavigationOutcome{
		Status: 200,
		Title:  "E.Leclerc DRIVE Seclin",
		HTML:   noResultsPageHTML,
	}
}

func challengeOutcome() *models.NavigationOutcome {
	return &models.NavigationOutcome{
		FinalURL: "https://geo.captcha-delivery.com/captcha/?initialCid=AHrlqAAA",
		Status:   403,
		Title:    "Attention Required",
		HTML:     `<html><head><script src="https://ct.captcha-delivery.com/c.js"></script></head></html>`,
	}
}

func brokenOutcome() *models.NavigationOutcome {
	return &models.NavigationOutcome{
		Status: 200,
		Title:  "Maintenance",
		HTML:   "<html><body><h1>Site en maintenance</h1></body></html>",
	}
}

type fixture struct {
	cfg     *common.Config
	store   interfaces.StorageManager
	browser *fakeBrowser
	unblock interfaces.UnblockService
	worker  *Service
}

func newFixture(t *testing.T, browser *fakeBrowser) *fixture {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Artifacts.Dir = t.TempDir()
	cfg.Retailer.StoreLabel = "teststore"
	cfg.Worker.PollInterval = "20ms"
	cfg.Unblock.Timeout = "5s"

	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, cfg)
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	classifier, err := detector.NewService(cfg, logger)
	if err != nil {
		t.Fatalf("building classifier: %v", err)
	}
	artifactSvc, err := artifacts.NewService(cfg, store.ArtifactStorage(), logger)
	if err != nil {
		t.Fatalf("building artifact service: %v", err)
	}

	bus := events.NewService(logger)
	coordinator := unblock.NewService(cfg, store, bus, logger)
	searchSvc := search.NewService(cfg, logger)

	w := NewService(cfg, store, browser, searchSvc, classifier, coordinator, artifactSvc, bus, logger)
	return &fixture{cfg: cfg, store: store, browser: browser, unblock: coordinator, worker: w}
}

func (f *fixture) session() string {
	return f.cfg.Retailer.SessionID()
}

func enqueue(t *testing.T, store interfaces.StorageManager, query string) *models.Job {
	t.Helper()

	job := &models.Job{
		ID:        uuid.New().String(),
		Kind:      models.JobKindSearch,
		Query:     query,
		Limit:     20,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
	if err := store.JobStorage().Create(context.Background(), job); err != nil {
		t.Fatalf("creating job: %v", err)
	}
	return job
}

func waitForStatus(t *testing.T, store interfaces.StorageManager, jobID string, want models.JobStatus) *models.Job {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.JobStorage().Get(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

// signalResolved hands the session back the way the unblock endpoint does:
// release the human hold, then deliver the signal. The signal is retried
// briefly because the waiter is armed asynchronously to the test.
func signalResolved(t *testing.T, f *fixture, jobID string) {
	t.Helper()

	if err := f.store.LockStorage().Release(context.Background(), f.session(), models.LockHolderHuman, jobID); err != nil {
		t.Fatalf("releasing human hold: %v", err)
	}

	for i := 0; i < 200; i++ {
		if f.unblock.Signal(jobID) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("unblock signal never accepted")
}

func TestJobSucceeds(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{resultsOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "eau gazeuse")

	if err := fix.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := fix.store.JobStorage().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if got.Status != models.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED (error=%s %s)", got.Status, got.ErrorCode, got.ErrorMessage)
	}
	if got.Result == nil || got.Result.Count != 2 {
		t.Fatalf("Result = %+v, want 2 products", got.Result)
	}
	if got.Result.Products[0].Name != "Perrier Eau gazeuse 6x1L" {
		t.Errorf("first product = %q", got.Result.Products[0].Name)
	}
	if !strings.Contains(got.Result.SearchURL, "TexteRecherche=eau+gazeuse") {
		t.Errorf("SearchURL = %q", got.Result.SearchURL)
	}
	if got.ErrorCode != "" {
		t.Errorf("ErrorCode = %q on a succeeded job", got.ErrorCode)
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	lock, err := fix.store.LockStorage().Status(ctx, fix.session())
	if err != nil {
		t.Fatalf("lock status: %v", err)
	}
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s after completion, want NONE", lock.Holder)
	}
	if fb.detaches() != 1 {
		t.Errorf("detaches = %d, want 1", fb.detaches())
	}
}

func TestNoResultsIsEmptySuccess(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{emptyOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "xyzzy introuvable")

	if err := fix.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED (error=%s)", got.Status, got.ErrorMessage)
	}
	if got.Result == nil || got.Result.Count != 0 || len(got.Result.Products) != 0 {
		t.Fatalf("Result = %+v, want empty product list", got.Result)
	}

	arts, err := fix.store.ArtifactStorage().ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("listing artifacts: %v", err)
	}
	if len(arts) != 1 || arts[0].Kind != models.ArtifactKindNoResults {
		t.Fatalf("artifacts = %+v, want one no_results capture", arts)
	}
}

func TestUnreachableBrowserFailsWithoutLock(t *testing.T) {
	fb := &fakeBrowser{reachable: false}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "perrier")

	if err := fix.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorCode != models.ErrCodeCDPUnreachable {
		t.Fatalf("job = %s/%s, want FAILED/CDP_UNREACHABLE", got.Status, got.ErrorCode)
	}

	// The session must never have been held for this job.
	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderNone || lock.OwningJobID != "" {
		t.Errorf("lock = %s/%s, want untouched", lock.Holder, lock.OwningJobID)
	}
	if fb.navigations() != 0 {
		t.Errorf("navigations = %d, want 0", fb.navigations())
	}
}

func TestLockDeniedWhenHumanHoldsSession(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{resultsOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()

	granted, err := fix.store.LockStorage().TryAcquire(ctx, fix.session(), models.LockHolderHuman, "manual-browse")
	if err != nil || !granted {
		t.Fatalf("taking human hold: granted=%v err=%v", granted, err)
	}

	job := enqueue(t, fix.store, "perrier")
	if err := fix.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorCode != models.ErrCodeLockDenied {
		t.Fatalf("job = %s/%s, want FAILED/LOCK_DENIED", got.Status, got.ErrorCode)
	}

	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderHuman || lock.OwningJobID != "manual-browse" {
		t.Errorf("human hold disturbed: %s/%s", lock.Holder, lock.OwningJobID)
	}
	if fb.navigations() != 0 {
		t.Errorf("navigations = %d, want 0", fb.navigations())
	}
}

func TestChallengeResolvedByHuman(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{challengeOutcome(), resultsOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "perrier")

	done := make(chan error, 1)
	go func() { done <- fix.worker.tick() }()

	blocked := waitForStatus(t, fix.store, job.ID, models.JobStatusBlocked)
	if blocked.BlockedURL != "https://geo.captcha-delivery.com/captcha/?initialCid=AHrlqAAA" {
		t.Errorf("BlockedURL = %q", blocked.BlockedURL)
	}
	if blocked.BlockEpisodes != 1 {
		t.Errorf("BlockEpisodes = %d, want 1", blocked.BlockEpisodes)
	}

	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderHuman {
		t.Fatalf("lock holder = %s while blocked, want HUMAN", lock.Holder)
	}

	signalResolved(t, fix, job.ID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker never finished after resume")
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED (error=%s)", got.Status, got.ErrorMessage)
	}
	if got.Result == nil || got.Result.Count != 2 {
		t.Fatalf("Result = %+v, want 2 products after resume", got.Result)
	}
	if got.BlockedURL != "" {
		t.Errorf("BlockedURL = %q after resume, want empty", got.BlockedURL)
	}
	if got.BlockEpisodes != 1 {
		t.Errorf("BlockEpisodes = %d, want 1", got.BlockEpisodes)
	}
	if fb.navigations() != 2 {
		t.Errorf("navigations = %d, want 2", fb.navigations())
	}

	lock, _ = fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s after completion, want NONE", lock.Holder)
	}

	arts, _ := fix.store.ArtifactStorage().ListByJob(ctx, job.ID)
	if len(arts) != 1 || arts[0].Kind != models.ArtifactKindBlocked {
		t.Errorf("artifacts = %d, want one blocked capture", len(arts))
	}
	evts, _ := fix.store.EventStorage().ListByJob(ctx, job.ID)
	if len(evts) != 1 {
		t.Errorf("block events = %d, want 1", len(evts))
	}
}

func TestSecondChallengeIsTerminal(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{challengeOutcome(), challengeOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "perrier")

	done := make(chan error, 1)
	go func() { done <- fix.worker.tick() }()

	waitForStatus(t, fix.store, job.ID, models.JobStatusBlocked)
	signalResolved(t, fix, job.ID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker never finished")
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorCode != models.ErrCodeDataDomeBlocked {
		t.Fatalf("job = %s/%s, want FAILED/DATADOME_BLOCKED", got.Status, got.ErrorCode)
	}
	if !strings.Contains(got.ErrorMessage, "challenge reappeared") {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
	if got.BlockEpisodes != 1 {
		t.Errorf("BlockEpisodes = %d, want 1 (second challenge is not an episode)", got.BlockEpisodes)
	}

	// The challenge page stays on screen; the tab is never closed.
	if fb.detaches() != 0 {
		t.Errorf("detaches = %d, want 0", fb.detaches())
	}

	arts, _ := fix.store.ArtifactStorage().ListByJob(ctx, job.ID)
	if len(arts) != 2 {
		t.Errorf("artifacts = %d, want captures from both challenge sightings", len(arts))
	}

	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s, want NONE", lock.Holder)
	}
}

func TestUnblockTimeoutFailsJob(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{challengeOutcome()}}
	fix := newFixture(t, fb)
	fix.cfg.Unblock.Timeout = "150ms"
	ctx := context.Background()
	job := enqueue(t, fix.store, "perrier")

	if err := fix.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorCode != models.ErrCodeUnblockTimeout {
		t.Fatalf("job = %s/%s, want FAILED/UNBLOCK_TIMEOUT", got.Status, got.ErrorCode)
	}
	if got.BlockedURL != "" {
		t.Errorf("BlockedURL = %q on a terminal job, want empty", got.BlockedURL)
	}

	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s after timeout, want NONE", lock.Holder)
	}
}

func TestExtractionFailureCapturesEvidence(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{brokenOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "perrier")

	if err := fix.worker.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusFailed || got.ErrorCode != models.ErrCodeExtractionError {
		t.Fatalf("job = %s/%s, want FAILED/EXTRACTION_ERROR", got.Status, got.ErrorCode)
	}
	if got.Result != nil {
		t.Error("Result set on a failed job")
	}

	arts, err := fix.store.ArtifactStorage().ListByJob(ctx, job.ID)
	if err != nil || len(arts) != 1 {
		t.Fatalf("artifacts = %d err=%v, want one error capture", len(arts), err)
	}
	if arts[0].Kind != models.ArtifactKindError {
		t.Errorf("artifact kind = %s, want error", arts[0].Kind)
	}
	if arts[0].ScreenshotPath == "" || arts[0].HTMLPath == "" {
		t.Errorf("capture incomplete: screenshot=%q html=%q", arts[0].ScreenshotPath, arts[0].HTMLPath)
	}
}

func TestAdoptsExternallyBlockedJob(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{resultsOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "sirop menthe")

	// A job claimed and blocked outside the loop: the report endpoint path.
	claimed, err := fix.store.JobStorage().ClaimNextPending(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claiming: job=%v err=%v", claimed, err)
	}
	granted, err := fix.store.LockStorage().TryAcquire(ctx, fix.session(), models.LockHolderAutomation, job.ID)
	if err != nil || !granted {
		t.Fatalf("acquiring session: granted=%v err=%v", granted, err)
	}
	if err := fix.unblock.ReportBlocked(ctx, job.ID, "https://geo.captcha-delivery.com/captcha/", "url:captcha-delivery.com"); err != nil {
		t.Fatalf("reporting blocked: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- fix.worker.tick() }()

	signalResolved(t, fix, job.ID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker never adopted the blocked job")
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED (error=%s)", got.Status, got.ErrorMessage)
	}
	if got.Result == nil || got.Result.Count != 2 {
		t.Fatalf("Result = %+v, want 2 products", got.Result)
	}

	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s, want NONE", lock.Holder)
	}
}

func TestRerunsJobInterruptedByRestart(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{resultsOutcome()}}
	fix := newFixture(t, fb)
	ctx := context.Background()
	job := enqueue(t, fix.store, "perrier")

	// Simulate a crash mid-attempt: job RUNNING, automation hold left behind.
	if _, err := fix.store.JobStorage().ClaimNextPending(ctx); err != nil {
		t.Fatalf("claiming: %v", err)
	}
	if _, err := fix.store.LockStorage().TryAcquire(ctx, fix.session(), models.LockHolderAutomation, job.ID); err != nil {
		t.Fatalf("acquiring session: %v", err)
	}

	if err := fix.worker.resumeInterrupted(); err != nil {
		t.Fatalf("resumeInterrupted: %v", err)
	}

	got, _ := fix.store.JobStorage().Get(ctx, job.ID)
	if got.Status != models.JobStatusSucceeded {
		t.Fatalf("Status = %s, want SUCCEEDED (error=%s)", got.Status, got.ErrorMessage)
	}

	// The stale hold was reclaimed, not denied, and released at the end.
	lock, _ := fix.store.LockStorage().Status(ctx, fix.session())
	if lock.Holder != models.LockHolderNone {
		t.Errorf("lock holder = %s, want NONE", lock.Holder)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{resultsOutcome()}}
	fix := newFixture(t, fb)
	job := enqueue(t, fix.store, "eau plate")

	fix.worker.Start()
	waitForStatus(t, fix.store, job.ID, models.JobStatusSucceeded)
	fix.worker.Stop()

	if !fix.worker.Healthy() {
		t.Error("worker unhealthy after a clean run")
	}
}

func TestStopReleasesBlockedWait(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{challengeOutcome()}}
	fix := newFixture(t, fb)
	job := enqueue(t, fix.store, "perrier")

	fix.worker.Start()
	waitForStatus(t, fix.store, job.ID, models.JobStatusBlocked)

	stopped := make(chan struct{})
	go func() {
		fix.worker.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hung on a blocked wait")
	}

	// Shutdown is not an outcome: the job stays BLOCKED for the next start.
	got, _ := fix.store.JobStorage().Get(context.Background(), job.ID)
	if got.Status != models.JobStatusBlocked {
		t.Errorf("Status = %s after shutdown, want BLOCKED", got.Status)
	}
}

func TestDisabledWorkerDoesNothing(t *testing.T) {
	fb := &fakeBrowser{reachable: true, outcomes: []*models.NavigationOutcome{resultsOutcome()}}
	fix := newFixture(t, fb)
	fix.cfg.Worker.Enabled = false
	job := enqueue(t, fix.store, "perrier")

	fix.worker.Start()
	time.Sleep(100 * time.Millisecond)
	fix.worker.Stop()

	got, _ := fix.store.JobStorage().Get(context.Background(), job.ID)
	if got.Status != models.JobStatusPending {
		t.Errorf("Status = %s, want PENDING untouched", got.Status)
	}
	if !fix.worker.Healthy() {
		t.Error("disabled worker reports unhealthy")
	}
}
