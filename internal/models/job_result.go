// -----------------------------------------------------------------------
// Job Result - Status payloads returned by the job status source
// -----------------------------------------------------------------------

package models

import (
	"strings"
	"time"
)

// JobStatus is the server-reported status of a remote job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// DefaultTerminalStatuses are the remote statuses treated as finished when no
// explicit list is configured
var DefaultTerminalStatuses = []string{
	string(JobStatusCompleted),
	string(JobStatusFailed),
	string(JobStatusCancelled),
}

// ResultKind distinguishes payloads reported by the status source from
// results synthesised by the tracker
type ResultKind string

const (
	// ResultKindStatus is a payload returned by the job status source
	ResultKindStatus ResultKind = ""
	// ResultKindError is a synthetic result recorded when polling fails
	ResultKindError ResultKind = "ERROR"
)

// JobParams carries what the tracker needs to poll a job and render its notification
type JobParams struct {
	JobID          string                 `json:"job_id" validate:"required"`
	NotificationID string                 `json:"notification_id,omitempty"` // Fallback id when the sink does not return one
	Extra          map[string]interface{} `json:"extra,omitempty"`           // Passed through to the notification sink
}

// JobResult is a single status payload for a remote job.
// Data holds the raw payload; Status/Message/Progress are lifted from it when present.
type JobResult struct {
	JobID    string                 `json:"job_id"`
	Status   JobStatus              `json:"status,omitempty"`
	Kind     ResultKind             `json:"kind,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Progress float64                `json:"progress,omitempty"` // 0.0 to 1.0 when reported
	Data     map[string]interface{} `json:"data,omitempty"`
}

// NewErrorResult builds the synthetic result stored when a task fails client-side
func NewErrorResult(jobID string, err error) *JobResult {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &JobResult{
		JobID:   jobID,
		Status:  JobStatusFailed,
		Kind:    ResultKindError,
		Message: message,
	}
}

// IsError reports whether the result was synthesised from a polling failure
func (r *JobResult) IsError() bool {
	return r != nil && r.Kind == ResultKindError
}

// Clone returns a shallow copy so callers cannot mutate tracker-owned state
func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Data != nil {
		c.Data = make(map[string]interface{}, len(r.Data))
		for k, v := range r.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// IsTerminalStatus reports whether status matches one of terminal (case-insensitive)
func IsTerminalStatus(status JobStatus, terminal []string) bool {
	for _, t := range terminal {
		if strings.EqualFold(string(status), t) {
			return true
		}
	}
	return false
}

// TaskState is the client-side lifecycle state of a tracked task
type TaskState string

const (
	TaskStatePending         TaskState = "pending"
	TaskStateFinishedSuccess TaskState = "finished_success"
	TaskStateFinishedError   TaskState = "finished_error"
)

// TaskSnapshot is a read-only copy of a tracked task record
type TaskSnapshot struct {
	Key            string     `json:"key"`
	TaskType       string     `json:"task_type"`
	JobID          string     `json:"job_id"`
	State          TaskState  `json:"state"`
	Finished       bool       `json:"finished"`
	Result         *JobResult `json:"result,omitempty"`
	LastStatus     *JobResult `json:"last_status,omitempty"` // Most recent non-terminal payload
	NotificationID string     `json:"notification_id,omitempty"`
	PollCount      int        `json:"poll_count"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// TaskOutcome is the archived record of a task that reached a terminal state
type TaskOutcome struct {
	ID         string     `json:"id" badgerhold:"key"`
	Key        string     `json:"key"`
	TaskType   string     `json:"task_type"`
	JobID      string     `json:"job_id"`
	State      TaskState  `json:"state"`
	Result     *JobResult `json:"result,omitempty"`
	PollCount  int        `json:"poll_count"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns the client-observed tracking time
func (o *TaskOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
