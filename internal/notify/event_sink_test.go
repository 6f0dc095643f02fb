package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
	"github.com/ternarybob/jobwatch/internal/services/events"
)

// recordingBus captures published events synchronously
type recordingBus struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (b *recordingBus) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (b *recordingBus) Publish(ctx context.Context, event interfaces.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) PublishSync(ctx context.Context, event interfaces.Event) error {
	return b.Publish(ctx, event)
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) types() []interfaces.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]interfaces.EventType, len(b.events))
	for i, e := range b.events {
		types[i] = e.Type
	}
	return types
}

func (b *recordingBus) payload(i int) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[i].Payload.(map[string]interface{})
}

func TestEventSink_Lifecycle(t *testing.T) {
	bus := &recordingBus{}
	sink := NewEventSink(bus, arbor.NewLogger())

	id := sink.StartNotification("job-1", "export", map[string]interface{}{"label": "Nightly"})
	require.True(t, strings.HasPrefix(id, "ntf_"))
	assert.Equal(t, 1, sink.OpenCount())

	sink.UpdateNotification(id, &models.JobResult{JobID: "job-1", Status: models.JobStatusRunning, Progress: 0.5})
	sink.CloseNotification(id)
	sink.HandleResult(&models.JobResult{JobID: "job-1", Status: models.JobStatusCompleted, Data: map[string]interface{}{"rows": 3}}, "job-1")

	assert.Equal(t, []interfaces.EventType{
		interfaces.EventTaskStarted,
		interfaces.EventTaskProgress,
		interfaces.EventNotificationDismissed,
		interfaces.EventTaskCompleted,
	}, bus.types())

	started := bus.payload(0)
	assert.Equal(t, id, started["notification_id"])
	assert.Equal(t, "export", started["task_type"])
	assert.Equal(t, map[string]interface{}{"label": "Nightly"}, started["extra"])

	progress := bus.payload(1)
	assert.Equal(t, "job-1", progress["job_id"])
	assert.Equal(t, 0.5, progress["progress"])

	completed := bus.payload(3)
	assert.Equal(t, "completed", completed["status"])
	assert.Equal(t, map[string]interface{}{"rows": 3}, completed["result"])

	assert.Equal(t, 0, sink.OpenCount())
}

func TestEventSink_UnknownNotificationIgnored(t *testing.T) {
	bus := &recordingBus{}
	sink := NewEventSink(bus, arbor.NewLogger())

	sink.UpdateNotification("export:job-1", &models.JobResult{Status: models.JobStatusRunning})
	sink.CloseNotification("export:job-1")

	assert.Empty(t, bus.types())
}

func TestEventSink_CloseIsIdempotent(t *testing.T) {
	bus := &recordingBus{}
	sink := NewEventSink(bus, arbor.NewLogger())

	id := sink.StartNotification("job-1", "export", nil)
	sink.CloseNotification(id)
	sink.CloseNotification(id)

	assert.Equal(t, []interfaces.EventType{
		interfaces.EventTaskStarted,
		interfaces.EventNotificationDismissed,
	}, bus.types())
}

func TestEventSink_HandleError(t *testing.T) {
	bus := &recordingBus{}
	sink := NewEventSink(bus, arbor.NewLogger())

	sink.HandleError(errors.New("network down"), "job-2")

	require.Equal(t, []interfaces.EventType{interfaces.EventTaskFailed}, bus.types())
	payload := bus.payload(0)
	assert.Equal(t, "job-2", payload["job_id"])
	assert.Equal(t, "network down", payload["error"])
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(arbor.NewLogger())

	assert.NotPanics(t, func() {
		sink.HandleResult(&models.JobResult{Status: models.JobStatusCompleted, Message: "ok"}, "job-1")
		sink.HandleResult(nil, "job-1")
		sink.HandleError(errors.New("boom"), "job-1")
	})
}

func TestEventSink_OrderedOnEventService(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	defer eventService.Close()

	var mu sync.Mutex
	seen := make(map[string][]interfaces.EventType)
	record := func(ctx context.Context, event interfaces.Event) error {
		payload := event.Payload.(map[string]interface{})
		mu.Lock()
		defer mu.Unlock()
		jobID := payload["job_id"].(string)
		seen[jobID] = append(seen[jobID], event.Type)
		return nil
	}
	for _, eventType := range interfaces.AllTaskEvents {
		require.NoError(t, eventService.Subscribe(eventType, record))
	}

	sink := NewEventSink(eventService, arbor.NewLogger())
	const jobs = 200
	for i := 0; i < jobs; i++ {
		jobID := fmt.Sprintf("job-%d", i)
		id := sink.StartNotification(jobID, "export", nil)
		sink.CloseNotification(id)
		sink.HandleResult(&models.JobResult{JobID: jobID, Status: models.JobStatusCompleted}, jobID)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, jobs)
	want := []interfaces.EventType{
		interfaces.EventTaskStarted,
		interfaces.EventNotificationDismissed,
		interfaces.EventTaskCompleted,
	}
	for jobID, got := range seen {
		assert.Equal(t, want, got, jobID)
	}
}
