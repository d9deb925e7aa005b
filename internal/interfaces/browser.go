package interfaces

import (
	"context"

	"github.com/ternarybob/mercor/internal/models"
)

// BrowserService drives the one long-lived remote browser session over
// the DevTools protocol. Each navigation opens a fresh tab in the remote
// process and leaves it on screen until Detach or the next Navigate, so
// a challenged page stays visible for the human operator to resolve.
type BrowserService interface {
	// Health probes the remote session's version endpoint. An error means
	// the session is unreachable (maps to CDP_UNREACHABLE on the job).
	Health(ctx context.Context) error

	// Version returns the remote browser version string from the probe
	Version(ctx context.Context) (string, error)

	// Navigate drives the session to url and collects the outcome: final
	// URL, document status, title, page markup and network counters. Any
	// tab left over from a previous navigation is closed first.
	Navigate(ctx context.Context, url string) (*models.NavigationOutcome, error)

	// CaptureScreenshot takes a viewport screenshot of the current tab.
	// Best effort; used only for artifacts.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// Detach closes the automation's current tab, if any. Skipped after a
	// challenge so the page stays up for the human.
	Detach()

	// Close detaches and releases the service
	Close() error
}
