package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

// BlockedReport is the POST /api/unblock/blocked payload
type BlockedReport struct {
	JobID  string `json:"job_id" validate:"required"`
	URL    string `json:"url" validate:"required,url"`
	Reason string `json:"reason"`
}

// UnblockDone is the POST /api/unblock/done payload
type UnblockDone struct {
	JobID string `json:"job_id" validate:"required"`
}

// UnblockHandler exposes the block/unblock arbitration to the human
// operator surface
type UnblockHandler struct {
	config  *common.Config
	store   interfaces.StorageManager
	unblock interfaces.UnblockService
	logger  arbor.ILogger
}

// NewUnblockHandler creates a new unblock handler
func NewUnblockHandler(config *common.Config, store interfaces.StorageManager, unblock interfaces.UnblockService, logger arbor.ILogger) *UnblockHandler {
	return &UnblockHandler{
		config:  config,
		store:   store,
		unblock: unblock,
		logger:  logger,
	}
}

// ReportBlockedHandler reports a challenge detected outside the worker
// loop, moving the RUNNING job to BLOCKED.
// POST /api/unblock/blocked
func (h *UnblockHandler) ReportBlockedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req BlockedReport
	if !DecodeBody(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid blocked report: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "reported externally"
	}

	if err := h.unblock.ReportBlocked(ctx, req.JobID, req.URL, req.Reason); err != nil {
		h.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("Blocked report rejected")
		WriteError(w, http.StatusConflict, "blocked report rejected: "+err.Error())
		return
	}

	h.logger.Info().
		Str("job_id", req.JobID).
		Str("url", req.URL).
		Msg("External block reported")

	WriteSuccess(w, "job suspended for human unblock")
}

// DoneHandler delivers the human's "challenge resolved" signal. The HUMAN
// session hold is released first so the worker's reclaim cannot race the
// signal; the release is idempotent when the human never actually held it.
// POST /api/unblock/done
func (h *UnblockHandler) DoneHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req UnblockDone
	if !DecodeBody(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid unblock request: "+err.Error())
		return
	}

	session := h.config.Retailer.SessionID()
	if err := h.store.LockStorage().Release(ctx, session, models.LockHolderHuman, req.JobID); err != nil {
		h.logger.Error().Err(err).Str("job_id", req.JobID).Msg("Failed to release human hold")
		WriteError(w, http.StatusInternalServerError, "failed to release session lock")
		return
	}

	accepted := h.unblock.Signal(req.JobID)

	h.logger.Info().
		Str("job_id", req.JobID).
		Bool("accepted", accepted).
		Msg("Unblock signal delivered")

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   req.JobID,
		"accepted": accepted,
	})
}

// StatusHandler returns the operator-facing snapshot of the block state
// GET /api/unblock/status
func (h *UnblockHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	state, err := h.unblock.BlockedState(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read blocked state")
		WriteError(w, http.StatusInternalServerError, "failed to read blocked state")
		return
	}

	WriteJSON(w, http.StatusOK, state)
}

// ClearHandler is operator recovery for a wedged blocked state
// POST /api/unblock/clear
func (h *UnblockHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.unblock.ClearBlocked(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear blocked state")
		WriteError(w, http.StatusInternalServerError, "failed to clear blocked state")
		return
	}

	h.logger.Info().Msg("Blocked state cleared by operator")
	WriteSuccess(w, "blocked state cleared")
}

// GUIActiveHandler reads or sets the human presence flag
// GET/POST /api/gui/active
func (h *UnblockHandler) GUIActiveHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		WriteJSON(w, http.StatusOK, map[string]bool{
			"active": h.unblock.GUIActive(),
		})
	case "POST":
		var req struct {
			Active bool `json:"active"`
		}
		if !DecodeBody(w, r, &req) {
			return
		}
		h.unblock.SetGUIActive(req.Active)
		h.logger.Debug().Bool("active", req.Active).Msg("GUI presence updated")
		WriteJSON(w, http.StatusOK, map[string]bool{
			"active": req.Active,
		})
	default:
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
