package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

func newTestService(cdpURL string, perMinute int) interfaces.BrowserService {
	cfg := &common.Config{
		Browser: common.BrowserConfig{
			CDPURL:            cdpURL,
			NavigationTimeout: "5s",
			SettleWait:        "10ms",
			HealthTimeout:     "1s",
			NavPerMinute:      perMinute,
		},
	}
	return NewService(cfg, arbor.NewLogger())
}

func newVersionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Browser":"Chrome/127.0.6533.100","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthAndVersion(t *testing.T) {
	srv := newVersionServer(t)
	svc := newTestService(srv.URL, 0)

	if err := svc.Health(context.Background()); err != nil {
		t.Fatalf("Health() = %v, want nil", err)
	}

	version, err := svc.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != "Chrome/127.0.6533.100" {
		t.Errorf("Version() = %q, want %q", version, "Chrome/127.0.6533.100")
	}
}

func TestHealthUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := newTestService(url, 0)
	if err := svc.Health(context.Background()); err == nil {
		t.Error("Health() against a closed endpoint should fail")
	}
}

func TestHealthBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, 0)
	err := svc.Health(context.Background())
	if err == nil {
		t.Fatal("Health() should fail on a non-200 probe response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("Health() error = %v, want the status code mentioned", err)
	}
}

func TestNavigateFailsFastWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := newTestService(url, 0)
	if _, err := svc.Navigate(context.Background(), "https://example.com"); err == nil {
		t.Fatal("Navigate() should fail when the devtools endpoint is down")
	}

	// A failed probe must not leave tab state behind.
	if _, err := svc.CaptureScreenshot(context.Background()); err == nil {
		t.Error("CaptureScreenshot() should fail with no active tab")
	}
}

func TestNavigateRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	// 600/min = one navigation slot every 100ms.
	svc := newTestService(url, 600)

	started := time.Now()
	_, _ = svc.Navigate(context.Background(), "https://example.com")
	_, _ = svc.Navigate(context.Background(), "https://example.com")
	elapsed := time.Since(started)

	if elapsed < 100*time.Millisecond {
		t.Errorf("two navigations took %v, want at least 100ms between slots", elapsed)
	}
}

func TestCaptureScreenshotWithoutTab(t *testing.T) {
	svc := newTestService("http://127.0.0.1:1", 0)

	_, err := svc.CaptureScreenshot(context.Background())
	if err == nil {
		t.Fatal("CaptureScreenshot() without a tab should fail")
	}
	if !strings.Contains(err.Error(), "no active tab") {
		t.Errorf("CaptureScreenshot() error = %v, want no active tab", err)
	}
}

func TestDetachWithoutTabIsNoOp(t *testing.T) {
	svc := newTestService("http://127.0.0.1:1", 0)
	svc.Detach()
	svc.Detach()

	if err := svc.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
