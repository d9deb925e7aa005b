package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

// LockHandler exposes the session lock record for operator visibility and
// recovery
type LockHandler struct {
	config *common.Config
	store  interfaces.StorageManager
	events interfaces.EventService
	logger arbor.ILogger
}

// NewLockHandler creates a new lock handler
func NewLockHandler(config *common.Config, store interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) *LockHandler {
	return &LockHandler{
		config: config,
		store:  store,
		events: events,
		logger: logger,
	}
}

// StatusHandler returns the current session lock record
// GET /api/lock
func (h *LockHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	lock, err := h.store.LockStorage().Status(r.Context(), h.config.Retailer.SessionID())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read session lock")
		WriteError(w, http.StatusInternalServerError, "failed to read session lock")
		return
	}

	WriteJSON(w, http.StatusOK, lock)
}

// ForceReleaseHandler unconditionally clears the session lock. Operator
// recovery only; a job mid-flight will fail its next lock-dependent step.
// POST /api/lock/force-release
func (h *LockHandler) ForceReleaseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()
	session := h.config.Retailer.SessionID()

	if err := h.store.LockStorage().ForceRelease(ctx, session); err != nil {
		h.logger.Error().Err(err).Msg("Failed to force-release session lock")
		WriteError(w, http.StatusInternalServerError, "failed to force-release session lock")
		return
	}

	h.logger.Warn().Str("session_id", session).Msg("Session lock force-released by operator")

	if h.events != nil {
		_ = h.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventLockChanged,
			Payload: map[string]interface{}{
				"session_id": session,
				"holder":     "NONE",
				"forced":     true,
			},
		})
	}

	WriteSuccess(w, "session lock released")
}
