package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame sent to the operator UI
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HelloUpdate is the first frame on every new connection. Clients compare
// ServerInstanceID against their stored value to detect a server restart
// and clear local state.
type HelloUpdate struct {
	State            string `json:"state"`
	Version          string `json:"version"`
	ServerInstanceID string `json:"serverInstanceId"`
}

// JobUpdate notifies the UI of a job lifecycle change
type JobUpdate struct {
	JobID     string    `json:"job_id"`
	Event     string    `json:"event"`
	Query     string    `json:"query,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Count     int       `json:"count,omitempty"`
	RetryOf   string    `json:"retry_of,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockedUpdate tells the UI a challenge needs human attention
type BlockedUpdate struct {
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// LockUpdate reflects a session lock change
type LockUpdate struct {
	SessionID string    `json:"session_id,omitempty"`
	Holder    string    `json:"holder"`
	Forced    bool      `json:"forced,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AppStatusUpdate mirrors the status service state for the UI header
type AppStatusUpdate struct {
	State     string                 `json:"state"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp time.Time              `json:"timestamp"`
}

// LogEntry is one streamed log line
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	allowedEvents    map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers       map[string]*rate.Limiter // Per-event-type rate limiters from config
	serverInstanceID string                   // Unique ID generated on startup - clients use to detect server restart
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	// Whitelist pattern: empty list means allow all events
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	// Throttlers only for explicitly configured event types; everything
	// else broadcasts unthrottled.
	if config != nil {
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - throttler disabled")
				continue
			}
			h.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("event_type", eventType).
				Str("interval", intervalStr).
				Msg("Throttler initialized")
		}
	}

	if eventService != nil {
		h.SubscribeToJobEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", h.ClientCount())

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", clientCount)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendHello sends the connection greeting to a single client
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: HelloUpdate{
			State:            "online",
			Version:          common.GetVersion(),
			ServerInstanceID: h.serverInstanceID,
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send hello")
		}
	}
}

// broadcast marshals the message once and writes it to every connected
// client, serialized per connection.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// BroadcastJobUpdate sends a job lifecycle change to all clients
func (h *WebSocketHandler) BroadcastJobUpdate(update JobUpdate) {
	h.broadcast(WSMessage{Type: "job_update", Payload: update})
}

// BroadcastBlocked sends a challenge notification to all clients
func (h *WebSocketHandler) BroadcastBlocked(update BlockedUpdate) {
	h.broadcast(WSMessage{Type: "blocked", Payload: update})
}

// BroadcastLockUpdate sends a session lock change to all clients
func (h *WebSocketHandler) BroadcastLockUpdate(update LockUpdate) {
	h.broadcast(WSMessage{Type: "lock", Payload: update})
}

// BroadcastAppStatus sends an application state change to all clients
func (h *WebSocketHandler) BroadcastAppStatus(update AppStatusUpdate) {
	h.broadcast(WSMessage{Type: "app_status", Payload: update})
}

// BroadcastLog streams a log line to all clients
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	if !h.allowed("log") {
		return
	}
	if t := h.throttlers["log"]; t != nil && !t.Allow() {
		return
	}
	h.broadcast(WSMessage{Type: "log", Payload: entry})
}

// allowed checks the event whitelist (empty whitelist = allow all)
func (h *WebSocketHandler) allowed(eventType string) bool {
	if len(h.allowedEvents) == 0 {
		return true
	}
	return h.allowedEvents[eventType]
}

// pass applies whitelist and throttle for one event type
func (h *WebSocketHandler) pass(eventType string) bool {
	if !h.allowed(eventType) {
		return false
	}
	if t := h.throttlers[eventType]; t != nil && !t.Allow() {
		return false
	}
	return true
}

// SubscribeToJobEvents bridges the internal event bus onto the websocket.
// Job lifecycle, block and lock events become typed frames for the UI.
func (h *WebSocketHandler) SubscribeToJobEvents() {
	if h.eventService == nil {
		return
	}

	jobEvents := []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStarted,
		interfaces.EventJobResumed,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
	}
	for _, eventType := range jobEvents {
		eventType := eventType
		h.eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			payload, ok := event.Payload.(map[string]interface{})
			if !ok {
				h.logger.Warn().Str("event_type", string(eventType)).Msg("Invalid job event payload type")
				return nil
			}
			if !h.pass(string(eventType)) {
				return nil
			}

			h.BroadcastJobUpdate(JobUpdate{
				JobID:     getString(payload, "job_id"),
				Event:     string(eventType),
				Query:     getString(payload, "query"),
				ErrorCode: getString(payload, "error_code"),
				Count:     getInt(payload, "count"),
				RetryOf:   getString(payload, "retry_of"),
				Timestamp: time.Now(),
			})
			return nil
		})
	}

	h.eventService.Subscribe(interfaces.EventJobBlocked, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid blocked event payload type")
			return nil
		}
		if !h.pass(string(interfaces.EventJobBlocked)) {
			return nil
		}

		h.BroadcastBlocked(BlockedUpdate{
			JobID:     getString(payload, "job_id"),
			URL:       getString(payload, "url"),
			Reason:    getString(payload, "reason"),
			Timestamp: time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventBlockedCleared, func(ctx context.Context, event interfaces.Event) error {
		if !h.pass(string(interfaces.EventBlockedCleared)) {
			return nil
		}
		h.broadcast(WSMessage{Type: "blocked_cleared", Payload: map[string]interface{}{
			"timestamp": time.Now(),
		}})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventLockChanged, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid lock event payload type")
			return nil
		}
		if !h.pass(string(interfaces.EventLockChanged)) {
			return nil
		}

		h.BroadcastLockUpdate(LockUpdate{
			SessionID: getString(payload, "session_id"),
			Holder:    getString(payload, "holder"),
			Forced:    getBool(payload, "forced"),
			Timestamp: time.Now(),
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid status changed event payload type")
			return nil
		}
		if !h.pass(string(interfaces.EventStatusChanged)) {
			return nil
		}

		update := AppStatusUpdate{
			State:     getString(payload, "state"),
			Metadata:  make(map[string]interface{}),
			Timestamp: time.Now(),
		}
		if metadata, ok := payload["metadata"].(map[string]interface{}); ok {
			update.Metadata = metadata
		}

		h.BroadcastAppStatus(update)
		return nil
	})
}

// Helper functions for safe type conversion from map[string]interface{}
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func getBool(m map[string]interface{}, key string) bool {
	if val, ok := m[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
