package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
)

// WorkerHealth reports whether the job loop is live
type WorkerHealth interface {
	Healthy() bool
}

type APIHandler struct {
	store   interfaces.StorageManager
	browser interfaces.BrowserService
	worker  WorkerHealth
	logger  arbor.ILogger
}

func NewAPIHandler(store interfaces.StorageManager, browser interfaces.BrowserService, worker WorkerHealth, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		store:   store,
		browser: browser,
		worker:  worker,
		logger:  logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns liveness: 200 whenever the process is up
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ReadyHandler returns readiness: storage open, worker loop live and the
// remote browser session reachable. Degraded detail goes in the body with
// a 503.
func (h *APIHandler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	checks := map[string]string{
		"storage": "ok",
		"worker":  "ok",
		"browser": "ok",
	}
	ready := true

	if err := h.store.Healthy(); err != nil {
		checks["storage"] = err.Error()
		ready = false
	}

	if h.worker != nil && !h.worker.Healthy() {
		checks["worker"] = "halted"
		ready = false
	}

	if err := h.browser.Health(r.Context()); err != nil {
		checks["browser"] = err.Error()
		ready = false
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	WriteJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}

// CDPHealthHandler probes the remote session endpoint
// GET /api/cdp/health
func (h *APIHandler) CDPHealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	version, err := h.browser.Version(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"reachable": false,
			"error":     err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reachable": true,
		"version":   version,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
