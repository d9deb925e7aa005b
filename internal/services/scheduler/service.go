package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// TaskStatus is the reportable state of one registered maintenance task
type TaskStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

type task struct {
	name      string
	schedule  string
	handler   func() error
	cronID    cron.EntryID
	lastRun   *time.Time
	lastError string
	runs      int
}

// Service runs background maintenance on cron schedules: the artifact
// retention sweep, storage value-log GC and the session lock audit.
type Service struct {
	cron   *cron.Cron
	logger arbor.ILogger

	mu      sync.Mutex
	runMu   sync.Mutex // serializes task bodies; maintenance shares the store
	tasks   map[string]*task
	running bool
}

// NewService creates a new maintenance scheduler
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Register adds a named task on a cron schedule. Tasks registered after
// Start are picked up immediately.
func (s *Service) Register(name, schedule string, handler func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { s.execute(name) })
	if err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}

	s.tasks[name] = &task{
		name:     name,
		schedule: schedule,
		handler:  handler,
		cronID:   id,
	}

	s.logger.Info().
		Str("task", name).
		Str("schedule", schedule).
		Msg("Maintenance task registered")

	return nil
}

// Start begins cron dispatch
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("tasks", len(s.tasks)).Msg("Scheduler started")
}

// Stop halts dispatch and waits for a running task to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether dispatch is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow runs a registered task immediately, outside its schedule
func (s *Service) TriggerNow(name string) error {
	s.mu.Lock()
	_, exists := s.tasks[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("task %s is not registered", name)
	}
	go s.execute(name)
	return nil
}

// TaskStatuses returns the state of every registered task, sorted by name
func (s *Service) TaskStatuses() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		status := TaskStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			LastRun:   entry.lastRun,
			LastError: entry.lastError,
			Runs:      entry.runs,
		}
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			status.NextRun = &next
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *Service) execute(name string) {
	s.mu.Lock()
	entry := s.tasks[name]
	s.mu.Unlock()
	if entry == nil {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	err := entry.handler()

	s.mu.Lock()
	entry.lastRun = &started
	entry.runs++
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("task", name).Msg("Maintenance task failed")
		return
	}

	s.logger.Debug().
		Str("task", name).
		Str("duration", time.Since(started).String()).
		Msg("Maintenance task completed")
}
