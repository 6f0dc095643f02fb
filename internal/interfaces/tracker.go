package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/jobwatch/internal/models"
)

// JobStatusSource fetches the current status payload of a remote job
type JobStatusSource interface {
	FetchStatus(ctx context.Context, jobID string) (*models.JobResult, error)
}

// StatusSourceFunc adapts a plain function to JobStatusSource
type StatusSourceFunc func(ctx context.Context, jobID string) (*models.JobResult, error)

// FetchStatus calls f(ctx, jobID)
func (f StatusSourceFunc) FetchStatus(ctx context.Context, jobID string) (*models.JobResult, error) {
	return f(ctx, jobID)
}

// JobSubmitter starts a remote job and returns its identifier
type JobSubmitter interface {
	Submit(ctx context.Context, taskType string, params map[string]interface{}) (string, error)
}

// SubmitterFunc adapts a plain function to JobSubmitter
type SubmitterFunc func(ctx context.Context, taskType string, params map[string]interface{}) (string, error)

// Submit calls f(ctx, taskType, params)
func (f SubmitterFunc) Submit(ctx context.Context, taskType string, params map[string]interface{}) (string, error) {
	return f(ctx, taskType, params)
}

// CompletionPredicate decides whether a status payload represents a finished job
type CompletionPredicate func(result *models.JobResult) bool

// NotificationSink presents task outcomes to the user.
// HandleResult and HandleError are each called at most once per started task,
// never both.
type NotificationSink interface {
	HandleResult(result *models.JobResult, jobID string)
	HandleError(err error, jobID string)
}

// ProgressNotifier is implemented by sinks that open a "job started" notice.
// The returned id is later passed to CloseNotification; an empty id selects
// the caller-supplied fallback.
type ProgressNotifier interface {
	StartNotification(jobID, taskType string, extra map[string]interface{}) string
}

// ProgressUpdater is implemented by sinks that refresh an open notice after
// each poll that did not finish the job
type ProgressUpdater interface {
	UpdateNotification(notificationID string, result *models.JobResult)
}

// NotificationCloser is implemented by sinks that can dismiss an open notice
type NotificationCloser interface {
	CloseNotification(notificationID string)
}

// TaskArchive persists terminal task outcomes for later inspection
type TaskArchive interface {
	SaveOutcome(ctx context.Context, outcome *models.TaskOutcome) error
	ListOutcomes(ctx context.Context, limit int) ([]*models.TaskOutcome, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TaskTracker is the orchestrator surface used by the HTTP API, MCP tools and
// the retention sweep
type TaskTracker interface {
	Start(key, taskType string, params models.JobParams) error
	Stop(key string)
	StopIfFinished(key string, startedAt time.Time) bool
	ClearAll()
	GetStatus(key string) *models.JobResult
	IsFinished(key string) bool
	Get(key string) (*models.TaskSnapshot, bool)
	Snapshot() []*models.TaskSnapshot
	Submit(ctx context.Context, taskType string, params map[string]interface{}) (string, error)
}
