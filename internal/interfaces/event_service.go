package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated     EventType = "job_created"
	EventJobStarted     EventType = "job_started"
	EventJobBlocked     EventType = "job_blocked"
	EventJobResumed     EventType = "job_resumed"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	EventLockChanged    EventType = "lock_changed"
	EventBlockedCleared EventType = "blocked_cleared"
	EventStatusChanged  EventType = "status_changed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
