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

// BlockEventStorage implements the BlockEventStorage interface for Badger
type BlockEventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBlockEventStorage creates a new BlockEventStorage instance
func NewBlockEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BlockEventStorage {
	return &BlockEventStorage{
		db:     db,
		logger: logger,
	}
}

// Record persists a new block event
func (s *BlockEventStorage) Record(ctx context.Context, event *models.BlockEvent) error {
	if event.ID == "" {
		return fmt.Errorf("block event ID is required")
	}
	if event.JobID == "" {
		return fmt.Errorf("block event job ID is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if err := s.db.Store().Insert(event.ID, *event); err != nil {
		return fmt.Errorf("failed to record block event: %w", err)
	}

	s.logger.Debug().
		Str("event_id", event.ID).
		Str("job_id", event.JobID).
		Str("reason", event.Reason).
		Msg("Block event recorded")

	return nil
}

// ListByJob returns events for a job, newest first
func (s *BlockEventStorage) ListByJob(ctx context.Context, jobID string) ([]*models.BlockEvent, error) {
	var events []models.BlockEvent
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list block events: %w", err)
	}

	result := make([]*models.BlockEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

// Latest returns the most recent event across all jobs, nil when none
func (s *BlockEventStorage) Latest(ctx context.Context) (*models.BlockEvent, error) {
	var events []models.BlockEvent
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to load latest block event: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}
