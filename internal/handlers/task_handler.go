package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
)

const tasksPathPrefix = "/api/tasks/"

// TaskHandler exposes the task tracker over REST
type TaskHandler struct {
	tracker  interfaces.TaskTracker
	archive  interfaces.TaskArchive // optional
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewTaskHandler creates a new task handler. archive may be nil.
func NewTaskHandler(tracker interfaces.TaskTracker, archive interfaces.TaskArchive, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{
		tracker:  tracker,
		archive:  archive,
		validate: validator.New(),
		logger:   logger,
	}
}

// TrackRequest starts tracking a job. When JobID is empty the job is first
// submitted with TaskType and Params.
type TrackRequest struct {
	Key            string                 `json:"key" validate:"omitempty,max=256"`
	TaskType       string                 `json:"task_type" validate:"required,max=128"`
	JobID          string                 `json:"job_id" validate:"omitempty,max=256"`
	NotificationID string                 `json:"notification_id" validate:"omitempty,max=256"`
	Params         map[string]interface{} `json:"params"`
	Extra          map[string]interface{} `json:"extra"`
}

// TrackTaskHandler submits (if needed) and starts tracking a job
// POST /api/tasks
func (h *TaskHandler) TrackTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			WriteError(w, http.StatusBadRequest, "Invalid field: "+validationErrs[0].Field())
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := req.JobID
	submitted := false
	if jobID == "" {
		id, err := h.tracker.Submit(r.Context(), req.TaskType, req.Params)
		if err != nil {
			h.logger.Error().Err(err).Str("task_type", req.TaskType).Msg("Failed to submit job")
			WriteError(w, http.StatusBadGateway, "Failed to submit job: "+err.Error())
			return
		}
		jobID = id
		submitted = true
	}

	key := req.Key
	if key == "" {
		key = req.TaskType + ":" + jobID
	}

	params := models.JobParams{
		JobID:          jobID,
		NotificationID: req.NotificationID,
		Extra:          req.Extra,
	}
	if err := h.tracker.Start(key, req.TaskType, params); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("key", key).
		Str("job_id", jobID).
		Bool("submitted", submitted).
		Msg("Task tracking requested")

	snapshot, ok := h.tracker.Get(key)
	if !ok {
		// Released before we could read it back
		WriteJSON(w, http.StatusAccepted, map[string]interface{}{"key": key, "job_id": jobID})
		return
	}
	WriteJSON(w, http.StatusAccepted, snapshot)
}

// ListTasksHandler returns every tracked task
// GET /api/tasks
func (h *TaskHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snapshots := h.tracker.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": snapshots,
		"count": len(snapshots),
	})
}

// GetTaskHandler returns a single tracked task
// GET /api/tasks/{key}
func (h *TaskHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	key, ok := taskKeyFromPath(w, r)
	if !ok {
		return
	}

	snapshot, found := h.tracker.Get(key)
	if !found {
		WriteError(w, http.StatusNotFound, "Task not found")
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// StopTaskHandler stops tracking a task. Unknown keys succeed.
// DELETE /api/tasks/{key}
func (h *TaskHandler) StopTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	key, ok := taskKeyFromPath(w, r)
	if !ok {
		return
	}

	h.tracker.Stop(key)
	WriteSuccess(w, "Task tracking stopped")
}

// ClearTasksHandler stops tracking every task
// DELETE /api/tasks
func (h *TaskHandler) ClearTasksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	h.tracker.ClearAll()
	WriteSuccess(w, "All tasks cleared")
}

// HistoryHandler returns archived outcomes, newest first
// GET /api/history?limit=50
func (h *TaskHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if h.archive == nil {
		WriteError(w, http.StatusNotFound, "Task history is not enabled")
		return
	}

	limit := GetLimitParam(r, 50, 500)
	outcomes, err := h.archive.ListOutcomes(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list task history")
		WriteError(w, http.StatusInternalServerError, "Failed to list task history")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// taskKeyFromPath extracts the unescaped {key} from /api/tasks/{key}
func taskKeyFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), tasksPathPrefix)
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" || raw == r.URL.EscapedPath() {
		WriteError(w, http.StatusBadRequest, "Task key is required")
		return "", false
	}
	return key, true
}
