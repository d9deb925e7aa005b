package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mercor/internal/common"
	"github.com/ternarybob/mercor/internal/interfaces"
	"github.com/ternarybob/mercor/internal/models"
)

var validate = validator.New()

// SearchRequest is the POST /api/jobs/search payload
type SearchRequest struct {
	Query string `json:"query" validate:"required,min=1,max=200"`
	Limit int    `json:"limit" validate:"gte=0"`
}

// JobHandler handles job-related API requests
type JobHandler struct {
	config    *common.Config
	store     interfaces.StorageManager
	artifacts interfaces.ArtifactService
	events    interfaces.EventService
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(config *common.Config, store interfaces.StorageManager, artifacts interfaces.ArtifactService, events interfaces.EventService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		config:    config,
		store:     store,
		artifacts: artifacts,
		events:    events,
		logger:    logger,
	}
}

// SearchHandler enqueues a new product search job
// POST /api/jobs/search
func (h *JobHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req SearchRequest
	if !DecodeBody(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid search request: "+err.Error())
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = h.config.Retailer.ResultLimit
	}
	if limit > h.config.Retailer.ResultLimitMax {
		limit = h.config.Retailer.ResultLimitMax
	}

	now := time.Now()
	job := &models.Job{
		ID:        common.NewJobID(),
		Kind:      models.JobKindSearch,
		Query:     req.Query,
		Limit:     limit,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.JobStorage().Create(ctx, job); err != nil {
		h.logger.Error().Err(err).Str("query", req.Query).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("query", job.Query).
		Int("limit", job.Limit).
		Msg("Search job enqueued")

	h.publish(ctx, interfaces.EventJobCreated, map[string]interface{}{
		"job_id": job.ID,
		"query":  job.Query,
	})

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ListJobsHandler returns jobs newest first
// GET /api/jobs?status=FAILED&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	var status models.JobStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status = models.JobStatus(s)
		if !status.IsValid() {
			WriteError(w, http.StatusBadRequest, "unknown status: "+s)
			return
		}
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit: "+l)
			return
		}
		limit = parsed
	}

	jobs, err := h.store.JobStorage().List(ctx, status, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler returns a single job by ID
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	jobID := PathID(r, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found: "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// RetryJobHandler clones a FAILED or BLOCKED job into a fresh PENDING one.
// The original record is left untouched; retries never mutate history.
// POST /api/jobs/{id}/retry
func (h *JobHandler) RetryJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	jobID := PathID(r, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found: "+jobID)
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job for retry")
		WriteError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusBlocked {
		WriteError(w, http.StatusConflict, "job is "+job.Status.String()+"; only FAILED or BLOCKED jobs can be retried")
		return
	}

	now := time.Now()
	retry := &models.Job{
		ID:        common.NewJobID(),
		Kind:      job.Kind,
		Query:     job.Query,
		Limit:     job.Limit,
		Status:    models.JobStatusPending,
		RetryOf:   job.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.JobStorage().Create(ctx, retry); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to create retry job")
		WriteError(w, http.StatusInternalServerError, "failed to create retry job")
		return
	}

	h.logger.Info().
		Str("job_id", retry.ID).
		Str("retry_of", job.ID).
		Str("query", retry.Query).
		Msg("Retry job enqueued")

	h.publish(ctx, interfaces.EventJobCreated, map[string]interface{}{
		"job_id":   retry.ID,
		"query":    retry.Query,
		"retry_of": job.ID,
	})

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"job_id":   retry.ID,
		"retry_of": job.ID,
		"status":   retry.Status,
	})
}

// ArtifactsHandler returns artifact metadata captured for a job
// GET /api/jobs/{id}/artifacts
func (h *JobHandler) ArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	jobID := PathID(r, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	artifacts, err := h.artifacts.List(ctx, jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list artifacts")
		WriteError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// EventsHandler returns block events recorded for a job
// GET /api/jobs/{id}/events
func (h *JobHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	jobID := PathID(r, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	events, err := h.store.BlockEventStorage().ListByJob(ctx, jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list block events")
		WriteError(w, http.StatusInternalServerError, "failed to list block events")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"events": events,
		"count":  len(events),
	})
}

func (h *JobHandler) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if h.events == nil {
		return
	}
	_ = h.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload})
}
