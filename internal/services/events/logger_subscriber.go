package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		var jobID, taskType, status string
		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["job_id"].(string); ok {
				jobID = id
			}
			if tt, ok := payload["task_type"].(string); ok {
				taskType = tt
			}
			if s, ok := payload["status"].(string); ok {
				status = s
			}
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if jobID != "" {
			logEvent = logEvent.Str("job_id", jobID)
		}
		if taskType != "" {
			logEvent = logEvent.Str("task_type", taskType)
		}
		if status != "" {
			logEvent = logEvent.Str("status", status)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all task event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range interfaces.AllTaskEvents {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
