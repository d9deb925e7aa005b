package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/services/scheduler"
	"github.com/ternarybob/mercor/internal/services/status"
)

// StatusHandler serves the aggregated application status
type StatusHandler struct {
	statusService *status.Service
	store         interfaces.StorageManager
	scheduler     *scheduler.Service
	worker        WorkerHealth
	logger        arbor.ILogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(statusService *status.Service, store interfaces.StorageManager, schedulerService *scheduler.Service, worker WorkerHealth, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		statusService: statusService,
		store:         store,
		scheduler:     schedulerService,
		worker:        worker,
		logger:        logger,
	}
}

// GetStatusHandler returns state, version, uptime, job counts, worker
// health and scheduled task state in one snapshot
// GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	snapshot := h.statusService.GetStatus()

	counts, err := h.store.JobStorage().Counts(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs for status")
	} else {
		jobCounts := make(map[string]int, len(counts))
		for st, n := range counts {
			jobCounts[st.String()] = n
		}
		snapshot["jobs"] = jobCounts
	}

	workerState := "running"
	if h.worker != nil && !h.worker.Healthy() {
		workerState = "halted"
	}
	snapshot["worker"] = workerState

	if h.scheduler != nil {
		snapshot["tasks"] = h.scheduler.TaskStatuses()
	}

	WriteJSON(w, http.StatusOK, snapshot)
}
