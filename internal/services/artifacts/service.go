// -----------------------------------------------------------------------
// Artifact Service
// Persists diagnostic captures (screenshot, markup, network summary)
// keyed by job and capture kind
// -----------------------------------------------------------------------

package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

// Service writes capture files under the configured artifacts directory
// and records their metadata in storage. Files are write-once; the sweep
// is the only thing that ever removes them.
type Service struct {
	config *common.Config
	store  interfaces.ArtifactStorage
	logger arbor.ILogger
}

// networkSummary is the structured record written alongside each capture
type networkSummary struct {
	JobID         string    `json:"job_id"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason,omitempty"`
	RequestedURL  string    `json:"requested_url"`
	FinalURL      string    `json:"final_url"`
	Status        int       `json:"status"`
	RequestCount  int       `json:"request_count"`
	ResponseCount int       `json:"response_count"`
	FailedCount   int       `json:"failed_count"`
	DurationMs    int64     `json:"duration_ms"`
	CapturedAt    time.Time `json:"captured_at"`
}

// NewService creates a new artifact service
func NewService(config *common.Config, store interfaces.ArtifactStorage, logger arbor.ILogger) (interfaces.ArtifactService, error) {
	if err := os.MkdirAll(config.Artifacts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	return &Service{
		config: config,
		store:  store,
		logger: logger,
	}, nil
}

// Capture writes whatever diagnostic material the context carries and
// persists the artifact record. Individual file failures degrade to a
// partial capture rather than an error; the job's outcome is already
// decided by the time this runs.
func (s *Service) Capture(ctx context.Context, jobID string, kind models.ArtifactKind, cctx *interfaces.CaptureContext) (*models.Artifact, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("invalid artifact kind: %s", kind)
	}
	if cctx == nil {
		cctx = &interfaces.CaptureContext{}
	}

	now := time.Now()
	dir := filepath.Join(s.config.Artifacts.Dir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Deterministic naming: job directory, kind plus capture timestamp
	base := fmt.Sprintf("%s_%d", kind, now.Unix())

	artifact := &models.Artifact{
		ID:        common.NewArtifactID(),
		JobID:     jobID,
		Kind:      kind,
		CreatedAt: now,
	}

	if len(cctx.Screenshot) > 0 {
		path := filepath.Join(dir, base+".png")
		if err := os.WriteFile(path, cctx.Screenshot, 0644); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write screenshot artifact")
		} else {
			artifact.ScreenshotPath = path
		}
	}

	if cctx.Outcome != nil && cctx.Outcome.HTML != "" {
		path := filepath.Join(dir, base+".html")
		if err := os.WriteFile(path, []byte(cctx.Outcome.HTML), 0644); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write markup artifact")
		} else {
			artifact.HTMLPath = path
		}
	}

	if cctx.Outcome != nil {
		summary := networkSummary{
			JobID:         jobID,
			Kind:          kind.String(),
			Reason:        cctx.Reason,
			RequestedURL:  cctx.Outcome.RequestedURL,
			FinalURL:      cctx.Outcome.FinalURL,
			Status:        cctx.Outcome.Status,
			RequestCount:  cctx.Outcome.RequestCount,
			ResponseCount: cctx.Outcome.ResponseCount,
			FailedCount:   cctx.Outcome.FailedCount,
			DurationMs:    cctx.Outcome.DurationMs,
			CapturedAt:    now,
		}
		data, err := json.MarshalIndent(summary, "", "  ")
		if err == nil {
			path := filepath.Join(dir, base+"_network.json")
			if err := os.WriteFile(path, data, 0644); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write network summary artifact")
			} else {
				artifact.NetworkPath = path
			}
		}
	}

	if err := s.store.Save(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact record: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("kind", kind.String()).
		Str("dir", dir).
		Msg("Artifacts captured")

	return artifact, nil
}

// List returns artifact metadata for a job, newest first
func (s *Service) List(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	return s.store.ListByJob(ctx, jobID)
}

// Sweep removes capture files older than the retention window. Metadata
// records stay behind so the job history still shows that a capture
// happened. Returns the number of files removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	retention := s.config.Artifacts.RetentionDuration()
	if retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-retention)
	expired, err := s.store.ListOlderThan(ctx, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired artifacts: %w", err)
	}

	removed := 0
	for _, artifact := range expired {
		for _, path := range []string{artifact.ScreenshotPath, artifact.HTMLPath, artifact.NetworkPath} {
			if path == "" {
				continue
			}
			if err := os.Remove(path); err != nil {
				if !os.IsNotExist(err) {
					s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove expired artifact file")
				}
				continue
			}
			removed++
		}
		// Remove fails on non-empty directories, so only emptied job
		// dirs actually go.
		_ = os.Remove(filepath.Join(s.config.Artifacts.Dir, artifact.JobID))
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("retention", retention.String()).
			Msg("Artifact sweep complete")
	}

	return removed, nil
}
