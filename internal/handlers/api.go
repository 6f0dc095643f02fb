package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/common"
)

type APIHandler struct {
	tasks  TaskLister
	logger arbor.ILogger
}

func NewAPIHandler(tasks TaskLister, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		tasks:  tasks,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	tracked := 0
	if h.tasks != nil {
		tracked = len(h.tasks.Snapshot())
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"tracked_tasks": tracked,
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
