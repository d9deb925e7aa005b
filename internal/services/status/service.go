package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

// AppState represents the application state
type AppState string

const (
	StateIdle      AppState = "idle"
	StateSearching AppState = "searching"
	StateBlocked   AppState = "blocked"
	StateOffline   AppState = "offline"
)

// Service tracks the application state for the operator surface. It holds
// no durable data; job and lock detail comes from storage at request time.
type Service struct {
	mu        sync.RWMutex
	state     AppState
	metadata  map[string]interface{}
	startedAt time.Time

	eventService interfaces.EventService
	logger       arbor.ILogger
}

// NewService creates a new StatusService
func NewService(eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		metadata:     make(map[string]interface{}),
		startedAt:    time.Now(),
		eventService: eventService,
		logger:       logger,
	}
}

// GetState returns the current application state
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the application state and broadcasts the change
func (s *Service) SetState(state AppState, metadata map[string]interface{}) {
	s.mu.Lock()
	oldState := s.state
	s.state = state
	if metadata != nil {
		s.metadata = metadata
	} else {
		s.metadata = make(map[string]interface{})
	}
	s.mu.Unlock()

	if oldState == state {
		return
	}

	s.logger.Info().
		Str("old_state", string(oldState)).
		Str("new_state", string(state)).
		Msg("Application state changed")

	if s.eventService != nil {
		s.eventService.Publish(context.Background(), interfaces.Event{
			Type: interfaces.EventStatusChanged,
			Payload: map[string]interface{}{
				"state":     string(state),
				"metadata":  metadata,
				"timestamp": time.Now(),
			},
		})
	}
}

// GetStatus returns the full status snapshot: state, metadata, uptime and
// version
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metadataCopy := make(map[string]interface{})
	for k, v := range s.metadata {
		metadataCopy[k] = v
	}

	return map[string]interface{}{
		"state":          string(s.state),
		"metadata":       metadataCopy,
		"version":        common.GetVersion(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now(),
	}
}

// SubscribeToJobEvents wires the state to the job lifecycle: searching
// while a job runs, blocked while a challenge waits on the human, idle
// otherwise.
func (s *Service) SubscribeToJobEvents() {
	jobID := func(event interfaces.Event) map[string]interface{} {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}
		if id, ok := payload["job_id"].(string); ok {
			return map[string]interface{}{"active_job_id": id}
		}
		return nil
	}

	s.eventService.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, event interfaces.Event) error {
		s.SetState(StateSearching, jobID(event))
		return nil
	})
	s.eventService.Subscribe(interfaces.EventJobResumed, func(ctx context.Context, event interfaces.Event) error {
		s.SetState(StateSearching, jobID(event))
		return nil
	})
	s.eventService.Subscribe(interfaces.EventJobBlocked, func(ctx context.Context, event interfaces.Event) error {
		s.SetState(StateBlocked, jobID(event))
		return nil
	})
	s.eventService.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		s.SetState(StateIdle, nil)
		return nil
	})
	s.eventService.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		s.SetState(StateIdle, nil)
		return nil
	})
	s.eventService.Subscribe(interfaces.EventBlockedCleared, func(ctx context.Context, event interfaces.Event) error {
		s.SetState(StateIdle, nil)
		return nil
	})

	s.logger.Info().Msg("StatusService subscribed to job events")
}
