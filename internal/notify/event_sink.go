// Package notify provides NotificationSink implementations for tracked tasks.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/common"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
)

// openNotification remembers what a notification id refers to
type openNotification struct {
	jobID    string
	taskType string
	opened   time.Time
}

// EventSink turns tracker callbacks into task events on the event bus.
// It implements every optional notification capability.
type EventSink struct {
	events interfaces.EventService
	logger arbor.ILogger

	mu   sync.Mutex
	open map[string]openNotification
}

var (
	_ interfaces.NotificationSink   = (*EventSink)(nil)
	_ interfaces.ProgressNotifier   = (*EventSink)(nil)
	_ interfaces.ProgressUpdater    = (*EventSink)(nil)
	_ interfaces.NotificationCloser = (*EventSink)(nil)
)

// NewEventSink creates a sink publishing to events
func NewEventSink(events interfaces.EventService, logger arbor.ILogger) *EventSink {
	return &EventSink{
		events: events,
		logger: logger,
		open:   make(map[string]openNotification),
	}
}

// StartNotification opens a progress notification and returns its id
func (s *EventSink) StartNotification(jobID, taskType string, extra map[string]interface{}) string {
	id := common.NewNotificationID()

	s.mu.Lock()
	s.open[id] = openNotification{jobID: jobID, taskType: taskType, opened: time.Now()}
	s.mu.Unlock()

	payload := map[string]interface{}{
		"notification_id": id,
		"job_id":          jobID,
		"task_type":       taskType,
		"status":          string(models.JobStatusPending),
	}
	if len(extra) > 0 {
		payload["extra"] = extra
	}
	s.publish(interfaces.EventTaskStarted, payload)

	return id
}

// UpdateNotification publishes an intermediate status for an open notification
func (s *EventSink) UpdateNotification(id string, result *models.JobResult) {
	if result == nil {
		return
	}
	s.mu.Lock()
	note, ok := s.open[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	s.publish(interfaces.EventTaskProgress, map[string]interface{}{
		"notification_id": id,
		"job_id":          note.jobID,
		"task_type":       note.taskType,
		"status":          string(result.Status),
		"message":         result.Message,
		"progress":        result.Progress,
	})
}

// CloseNotification dismisses an open notification. Unknown ids are ignored.
func (s *EventSink) CloseNotification(id string) {
	s.mu.Lock()
	note, ok := s.open[id]
	delete(s.open, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.publish(interfaces.EventNotificationDismissed, map[string]interface{}{
		"notification_id": id,
		"job_id":          note.jobID,
		"task_type":       note.taskType,
		"open_ms":         time.Since(note.opened).Milliseconds(),
	})
}

// HandleResult publishes the terminal result of a job
func (s *EventSink) HandleResult(result *models.JobResult, jobID string) {
	payload := map[string]interface{}{
		"job_id": jobID,
	}
	if result != nil {
		payload["status"] = string(result.Status)
		payload["message"] = result.Message
		payload["result"] = result.Data
	}
	s.publish(interfaces.EventTaskCompleted, payload)
}

// HandleError publishes a client-side tracking failure
func (s *EventSink) HandleError(err error, jobID string) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	s.publish(interfaces.EventTaskFailed, map[string]interface{}{
		"job_id": jobID,
		"status": string(models.JobStatusFailed),
		"error":  message,
	})
}

// OpenCount returns the number of notifications not yet dismissed
func (s *EventSink) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// publish delivers synchronously so subscribers see a job's events in the
// order the tracker raised them
func (s *EventSink) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if err := s.events.PublishSync(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish task event")
	}
}
