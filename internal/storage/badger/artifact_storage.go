package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArtifactStorage implements the ArtifactStorage interface for Badger
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

// Save persists artifact metadata
func (s *ArtifactStorage) Save(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("artifact ID is required")
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(artifact.ID, *artifact); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// ListByJob returns artifacts for a job, newest first
func (s *ArtifactStorage) ListByJob(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&artifacts, query); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	result := make([]*models.Artifact, len(artifacts))
	for i := range artifacts {
		result[i] = &artifacts[i]
	}
	return result, nil
}

// ListOlderThan returns artifacts created before the cutoff
func (s *ArtifactStorage) ListOlderThan(ctx context.Context, cutoffUnix int64) ([]*models.Artifact, error) {
	cutoff := time.Unix(cutoffUnix, 0)

	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}

	var result []*models.Artifact
	for i := range artifacts {
		if artifacts[i].CreatedAt.Before(cutoff) {
			result = append(result, &artifacts[i])
		}
	}
	return result, nil
}
