package jobsource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/jobwatch/internal/models"
)

func TestSubmit(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantID   string
		wantErr  bool
	}{
		{name: "job_id field", response: `{"job_id":"abc"}`, wantID: "abc"},
		{name: "id field", response: `{"id":"def"}`, wantID: "def"},
		{name: "numeric id", response: `{"id":17}`, wantID: "17"},
		{name: "missing id", response: `{"status":"queued"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/jobs", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var body submitRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "export", body.Type)
				assert.Equal(t, "csv", body.Params["format"])

				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.response))
			}))
			defer server.Close()

			client := NewClient(server.URL)
			id, err := client.Submit(context.Background(), "export", map[string]interface{}{"format": "csv"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestFetchStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/jobs/job-1/status", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"RUNNING","message":"half way","progress":50,"rows":10}`))
	}))
	defer server.Close()

	client := NewClient(server.URL,
		WithPaths("", "/v2/jobs/{id}/status"),
		WithAPIKey("secret"),
	)

	result, err := client.FetchStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, models.JobStatusRunning, result.Status)
	assert.Equal(t, "half way", result.Message)
	assert.InDelta(t, 0.5, result.Progress, 0.0001)
	assert.Equal(t, float64(10), result.Data["rows"])
	assert.False(t, result.IsError())
}

func TestFetchStatus_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.FetchStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "no such job", apiErr.Message)
}

func TestFetchStatus_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).FetchStatus(context.Background(), "j")
	assert.Error(t, err)
}

func TestFetchStatus_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(server.URL).FetchStatus(ctx, "j")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithMinInterval(t *testing.T) {
	var hits []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, time.Now())
		w.Write([]byte(`{"status":"running"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMinInterval(50*time.Millisecond))
	for i := 0; i < 3; i++ {
		_, err := client.FetchStatus(context.Background(), "j")
		require.NoError(t, err)
	}

	require.Len(t, hits, 3)
	assert.GreaterOrEqual(t, hits[2].Sub(hits[0]), 90*time.Millisecond)
}

func TestTerminalStatusPredicate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		status   models.JobStatus
		want     bool
	}{
		{"default completed", nil, models.JobStatusCompleted, true},
		{"default failed", nil, models.JobStatusFailed, true},
		{"default running", nil, models.JobStatusRunning, false},
		{"custom match is case-insensitive", []string{"DONE"}, "done", true},
		{"custom ignores defaults", []string{"done"}, models.JobStatusCompleted, false},
		{"empty status", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predicate := TerminalStatusPredicate(tt.statuses)
			assert.Equal(t, tt.want, predicate(&models.JobResult{Status: tt.status}))
		})
	}

	assert.False(t, TerminalStatusPredicate(nil)(nil))
}
