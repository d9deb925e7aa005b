package badger

import (
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

// errStoreClosed is returned by Healthy when the database is not open
var errStoreClosed = errors.New("badger store is not open")

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	lock     interfaces.LockStorage
	event    interfaces.BlockEventStorage
	artifact interfaces.ArtifactStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	jobStorage := NewJobStorage(db, logger)

	manager := &Manager{
		db:       db,
		job:      jobStorage,
		lock:     NewLockStorage(db, jobStorage, config.Lock.StaleAfterDuration(), logger),
		event:    NewBlockEventStorage(db, logger),
		artifact: NewArtifactStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// LockStorage returns the SessionLock storage interface
func (m *Manager) LockStorage() interfaces.LockStorage {
	return m.lock
}

// BlockEventStorage returns the BlockEvent storage interface
func (m *Manager) BlockEventStorage() interfaces.BlockEventStorage {
	return m.event
}

// ArtifactStorage returns the Artifact storage interface
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// Healthy reports whether the underlying store is usable
func (m *Manager) Healthy() error {
	if m.db == nil || m.db.Store() == nil {
		return errStoreClosed
	}
	return nil
}

// RunGC performs one round of value log garbage collection
func (m *Manager) RunGC() error {
	if m.db == nil {
		return errStoreClosed
	}
	return m.db.RunGC()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
