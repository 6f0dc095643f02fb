package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/models"
)

// fakeTracker is an in-memory TaskTracker
type fakeTracker struct {
	mu        sync.Mutex
	tasks     map[string]*models.TaskSnapshot
	submitted []string
	submitErr error
	stopped   []string
	cleared   int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{tasks: make(map[string]*models.TaskSnapshot)}
}

func (f *fakeTracker) Submit(ctx context.Context, taskType string, params map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, taskType)
	return "job-new", nil
}

func (f *fakeTracker) Start(key, taskType string, params models.JobParams) error {
	if params.JobID == "" {
		return errors.New("job id is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[key] = &models.TaskSnapshot{
		Key:            key,
		TaskType:       taskType,
		JobID:          params.JobID,
		State:          models.TaskStatePending,
		NotificationID: params.NotificationID,
		StartedAt:      time.Now(),
	}
	return nil
}

func (f *fakeTracker) Stop(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, key)
	f.stopped = append(f.stopped, key)
}

func (f *fakeTracker) StopIfFinished(key string, startedAt time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.tasks[key]
	if !ok || !s.Finished || !s.StartedAt.Equal(startedAt) {
		return false
	}
	delete(f.tasks, key)
	return true
}

func (f *fakeTracker) ClearAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = make(map[string]*models.TaskSnapshot)
	f.cleared++
}

func (f *fakeTracker) GetStatus(key string) *models.JobResult { return nil }
func (f *fakeTracker) IsFinished(key string) bool             { return false }

func (f *fakeTracker) Get(key string) (*models.TaskSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.tasks[key]
	return s, ok
}

func (f *fakeTracker) Snapshot() []*models.TaskSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.TaskSnapshot, 0, len(f.tasks))
	for _, s := range f.tasks {
		out = append(out, s)
	}
	return out
}

type stubArchive struct {
	outcomes  []*models.TaskOutcome
	lastLimit int
}

func (a *stubArchive) SaveOutcome(ctx context.Context, outcome *models.TaskOutcome) error {
	return nil
}

func (a *stubArchive) ListOutcomes(ctx context.Context, limit int) ([]*models.TaskOutcome, error) {
	a.lastLimit = limit
	return a.outcomes, nil
}

func (a *stubArchive) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func TestTrackTaskHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
		wantJobID  string
		submitted  bool
	}{
		{
			name:       "existing job",
			body:       `{"task_type":"export","job_id":"job-1","key":"nightly"}`,
			wantStatus: http.StatusAccepted,
			wantKey:    "nightly",
			wantJobID:  "job-1",
		},
		{
			name:       "derived key",
			body:       `{"task_type":"export","job_id":"job-2"}`,
			wantStatus: http.StatusAccepted,
			wantKey:    "export:job-2",
			wantJobID:  "job-2",
		},
		{
			name:       "submit then track",
			body:       `{"task_type":"export","params":{"format":"csv"}}`,
			wantStatus: http.StatusAccepted,
			wantKey:    "export:job-new",
			wantJobID:  "job-new",
			submitted:  true,
		},
		{
			name:       "missing task type",
			body:       `{"job_id":"job-3"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newFakeTracker()
			handler := NewTaskHandler(tracker, nil, arbor.NewLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.TrackTaskHandler(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusAccepted {
				assert.Empty(t, tracker.tasks)
				return
			}

			var snapshot models.TaskSnapshot
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
			assert.Equal(t, tt.wantKey, snapshot.Key)
			assert.Equal(t, tt.wantJobID, snapshot.JobID)
			assert.Equal(t, tt.submitted, len(tracker.submitted) == 1)
		})
	}
}

func TestTrackTaskHandler_SubmitFailure(t *testing.T) {
	tracker := newFakeTracker()
	tracker.submitErr = errors.New("upstream down")
	handler := NewTaskHandler(tracker, nil, arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"task_type":"export"}`))
	rec := httptest.NewRecorder()
	handler.TrackTaskHandler(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream down")
}

func TestGetAndStopTaskHandler(t *testing.T) {
	tracker := newFakeTracker()
	require.NoError(t, tracker.Start("export:job-1", "export", models.JobParams{JobID: "job-1"}))
	handler := NewTaskHandler(tracker, nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.GetTaskHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/export:job-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.TaskSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, "job-1", snapshot.JobID)

	rec = httptest.NewRecorder()
	handler.StopTaskHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/tasks/export:job-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"export:job-1"}, tracker.stopped)

	rec = httptest.NewRecorder()
	handler.GetTaskHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/export:job-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Stopping an unknown key still succeeds
	rec = httptest.NewRecorder()
	handler.StopTaskHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/tasks/unknown", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTaskHandler_EscapedKey(t *testing.T) {
	tracker := newFakeTracker()
	require.NoError(t, tracker.Start("reports/q1", "export", models.JobParams{JobID: "job-1"}))
	handler := NewTaskHandler(tracker, nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.GetTaskHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/reports%2Fq1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndClearTasksHandler(t *testing.T) {
	tracker := newFakeTracker()
	require.NoError(t, tracker.Start("a", "export", models.JobParams{JobID: "1"}))
	require.NoError(t, tracker.Start("b", "export", models.JobParams{JobID: "2"}))
	handler := NewTaskHandler(tracker, nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.ListTasksHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tasks []models.TaskSnapshot `json:"tasks"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)

	rec = httptest.NewRecorder()
	handler.ClearTasksHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/tasks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, tracker.cleared)
	assert.Empty(t, tracker.Snapshot())
}

func TestHistoryHandler(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		handler := NewTaskHandler(newFakeTracker(), nil, arbor.NewLogger())
		rec := httptest.NewRecorder()
		handler.HistoryHandler(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("limit", func(t *testing.T) {
		archive := &stubArchive{outcomes: []*models.TaskOutcome{{ID: "out_1", Key: "a"}}}
		handler := NewTaskHandler(newFakeTracker(), archive, arbor.NewLogger())

		rec := httptest.NewRecorder()
		handler.HistoryHandler(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 5, archive.lastLimit)
		assert.Contains(t, rec.Body.String(), "out_1")
	})
}

func TestTaskHandler_MethodNotAllowed(t *testing.T) {
	handler := NewTaskHandler(newFakeTracker(), nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.ClearTasksHandler(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetLimitParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-3", 50},
		{"limit=abc", 50},
		{"limit=1000", 500},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/history?"+tt.query, nil)
			assert.Equal(t, tt.want, GetLimitParam(req, 50, 500))
		})
	}
}
