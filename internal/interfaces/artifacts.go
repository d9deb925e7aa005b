package interfaces

import (
	"context"

	"github.com/ternarybob/mercor/internal/models"
)

// CaptureContext carries whatever diagnostic material was available at
// capture time. Any field may be empty; the artifact service writes what
// it has and skips the rest.
type CaptureContext struct {
	Outcome    *models.NavigationOutcome
	Screenshot []byte
	Reason     string
}

// ArtifactService persists diagnostic captures (screenshot, markup,
// network summary) keyed by job and kind. Capture failures are logged and
// never surfaced as job failures; the job's outcome is already decided by
// the time artifacts are written.
type ArtifactService interface {
	// Capture writes the artifact files and persists their metadata
	Capture(ctx context.Context, jobID string, kind models.ArtifactKind, cctx *CaptureContext) (*models.Artifact, error)

	// List returns artifact metadata for a job, newest first
	List(ctx context.Context, jobID string) ([]*models.Artifact, error)

	// Sweep removes artifact files older than the retention window,
	// keeping the metadata records. Returns the number of files removed.
	Sweep(ctx context.Context) (int, error)
}
