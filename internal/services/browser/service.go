package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

const screenshotTimeout = 10 * time.Second

// Service attaches to an already running browser over the DevTools HTTP
// endpoint. The browser is shared with a human operator, so the service
// only ever drives tabs it opened itself: each navigation creates a tab
// via /json/new and attaches to it by target ID. The tab stays on screen
// after the navigation so a challenge page is visible to the human; it is
// closed on Detach, Close, or the next Navigate.
type Service struct {
	config  *common.Config
	logger  arbor.ILogger
	client  *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	tabID       string
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// NewService creates a browser service for the configured DevTools endpoint
func NewService(config *common.Config, logger arbor.ILogger) interfaces.BrowserService {
	limit := rate.Inf
	if config.Browser.NavPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.Browser.NavPerMinute))
	}

	return &Service{
		config:  config,
		logger:  logger,
		client:  &http.Client{Timeout: config.Browser.HealthTimeoutDuration()},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type versionInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	WebSocketURL    string `json:"webSocketDebuggerUrl"`
}

type tabInfo struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	URL          string `json:"url"`
	WebSocketURL string `json:"webSocketDebuggerUrl"`
}

// Health probes the DevTools version endpoint
func (s *Service) Health(ctx context.Context) error {
	_, err := s.probe(ctx)
	return err
}

// Version returns the remote browser's version string
func (s *Service) Version(ctx context.Context) (string, error) {
	info, err := s.probe(ctx)
	if err != nil {
		return "", err
	}
	return info.Browser, nil
}

func (s *Service) probe(ctx context.Context) (*versionInfo, error) {
	probeURL := s.endpoint("/json/version")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devtools endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools endpoint returned status %d", resp.StatusCode)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding version info: %w", err)
	}

	return &info, nil
}

// Navigate opens a fresh tab, drives it to url and collects the outcome.
// The tab is left open for the caller; a previous tab is closed first.
func (s *Service) Navigate(ctx context.Context, url string) (*models.NavigationOutcome, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for navigation slot: %w", err)
	}

	// Fail fast when the browser is gone instead of burning the
	// navigation timeout on a dead websocket.
	if _, err := s.probe(ctx); err != nil {
		return nil, err
	}

	s.Detach()

	tab, err := s.openTab(ctx)
	if err != nil {
		return nil, err
	}

	// The tab outlives this call, so its contexts hang off Background
	// rather than the per-job ctx. Close tears them down.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), s.config.Browser.CDPURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(tab.ID)))

	s.mu.Lock()
	s.tabID = tab.ID
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	s.allocCancel = allocCancel
	s.mu.Unlock()

	var (
		countersMu sync.Mutex
		requests   int
		responses  int
		failed     int
		status     int
		gotDoc     bool
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		countersMu.Lock()
		defer countersMu.Unlock()
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			requests++
		case *network.EventResponseReceived:
			responses++
			// The first document response carries the storefront's verdict
			// on the page itself; everything after is subresources.
			if !gotDoc && ev.Type == network.ResourceTypeDocument {
				gotDoc = true
				status = int(ev.Response.Status)
			}
		case *network.EventLoadingFailed:
			failed++
		}
	})

	runCtx, runCancel := context.WithTimeout(tabCtx, s.config.Browser.NavigationTimeoutDuration())
	defer runCancel()

	var finalURL, title, html string

	started := time.Now()
	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(s.config.Browser.SettleWaitDuration()),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		s.Detach()
		return nil, fmt.Errorf("navigating to %s: %w", url, err)
	}

	countersMu.Lock()
	outcome := &models.NavigationOutcome{
		RequestedURL:  url,
		FinalURL:      finalURL,
		Status:        status,
		Title:         title,
		HTML:          html,
		RequestCount:  requests,
		ResponseCount: responses,
		FailedCount:   failed,
		DurationMs:    time.Since(started).Milliseconds(),
	}
	countersMu.Unlock()

	s.logger.Info().
		Str("url", url).
		Str("final_url", outcome.FinalURL).
		Int("status", outcome.Status).
		Int("requests", outcome.RequestCount).
		Int64("duration_ms", outcome.DurationMs).
		Msg("Navigation complete")

	return outcome, nil
}

// CaptureScreenshot takes a viewport screenshot of the current tab
func (s *Service) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	tabCtx := s.tabCtx
	s.mu.Unlock()

	if tabCtx == nil {
		return nil, fmt.Errorf("no active tab")
	}

	runCtx, runCancel := context.WithTimeout(tabCtx, screenshotTimeout)
	defer runCancel()
	stop := context.AfterFunc(ctx, runCancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	return buf, nil
}

// Detach closes the automation's current tab, if any. The human's own
// tabs are never touched.
func (s *Service) Detach() {
	s.mu.Lock()
	tabID := s.tabID
	tabCancel := s.tabCancel
	allocCancel := s.allocCancel
	s.tabID = ""
	s.tabCtx = nil
	s.tabCancel = nil
	s.allocCancel = nil
	s.mu.Unlock()

	if tabID == "" {
		return
	}

	if err := s.closeTab(tabID); err != nil {
		s.logger.Debug().Err(err).Str("tab_id", tabID).Msg("Tab close failed")
	}
	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
}

// Close detaches from the browser. The browser itself keeps running; it
// belongs to the human.
func (s *Service) Close() error {
	s.Detach()
	return nil
}

func (s *Service) openTab(ctx context.Context) (*tabInfo, error) {
	// Chrome 111+ only accepts PUT here; older versions do not check the verb.
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.endpoint("/json/new?about:blank"), nil)
	if err != nil {
		return nil, fmt.Errorf("building new tab request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	defer resp.Body.Close()

	var tab tabInfo
	if err := json.NewDecoder(resp.Body).Decode(&tab); err != nil {
		return nil, fmt.Errorf("decoding new tab response: %w", err)
	}
	if tab.ID == "" {
		return nil, fmt.Errorf("devtools endpoint returned no tab id")
	}

	s.logger.Debug().Str("tab_id", tab.ID).Msg("Opened tab")
	return &tab, nil
}

func (s *Service) closeTab(id string) error {
	resp, err := s.client.Get(s.endpoint("/json/close/" + id))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("devtools endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) endpoint(path string) string {
	return strings.TrimRight(s.config.Browser.CDPURL, "/") + path
}
