package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/search", s.app.JobHandler.SearchHandler) // POST - submit a search job
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)      // GET - list jobs, ?status= filter
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)                    // Handles /api/jobs/{id} and subpaths

	// API routes - Unblock arbitration
	mux.HandleFunc("/api/unblock/blocked", s.app.UnblockHandler.ReportBlockedHandler) // POST - report a blocked job
	mux.HandleFunc("/api/unblock/done", s.app.UnblockHandler.DoneHandler)             // POST - human finished unblocking
	mux.HandleFunc("/api/unblock/status", s.app.UnblockHandler.StatusHandler)         // GET - blocked state snapshot
	mux.HandleFunc("/api/unblock/clear", s.app.UnblockHandler.ClearHandler)           // POST - operator reset
	mux.HandleFunc("/api/gui/active", s.app.UnblockHandler.GUIActiveHandler)          // GET/POST - human presence flag

	// API routes - Session lock
	mux.HandleFunc("/api/lock", s.app.LockHandler.StatusHandler)                      // GET - lock record
	mux.HandleFunc("/api/lock/force-release", s.app.LockHandler.ForceReleaseHandler) // POST - operator recovery

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - application status
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/cdp/health", s.app.APIHandler.CDPHealthHandler)

	// Probes for process supervisors
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/ready", s.app.APIHandler.ReadyHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/jobs/{id}/retry
	if r.Method == "POST" && strings.HasSuffix(path, "/retry") {
		s.app.JobHandler.RetryJobHandler(w, r)
		return
	}

	if r.Method == "GET" && len(path) > len("/api/jobs/") {
		// GET /api/jobs/{id}/artifacts
		if strings.HasSuffix(path, "/artifacts") {
			s.app.JobHandler.ArtifactsHandler(w, r)
			return
		}

		// GET /api/jobs/{id}/events
		if strings.HasSuffix(path, "/events") {
			s.app.JobHandler.EventsHandler(w, r)
			return
		}

		// Otherwise it's /api/jobs/{id}
		s.app.JobHandler.GetJobHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
