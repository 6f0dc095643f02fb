package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/common"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
	"github.com/ternarybob/jobwatch/internal/services/events"
)

func dialHandler(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketHandler_InitialState(t *testing.T) {
	tracker := newFakeTracker()
	require.NoError(t, tracker.Start("export:job-1", "export", models.JobParams{JobID: "job-1"}))

	handler := NewWebSocketHandler(nil, tracker, arbor.NewLogger(), &common.WebSocketConfig{})
	conn := dialHandler(t, handler)

	status := readMessage(t, conn)
	assert.Equal(t, "status", status.Type)
	payload := status.Payload.(map[string]interface{})
	assert.Equal(t, float64(1), payload["trackedTasks"])
	assert.NotEmpty(t, payload["serverInstanceId"])

	tasks := readMessage(t, conn)
	assert.Equal(t, "tasks", tasks.Type)
	assert.Len(t, tasks.Payload, 1)

	assert.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_BroadcastsTaskEvents(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, nil, logger, &common.WebSocketConfig{})
	conn := dialHandler(t, handler)
	readMessage(t, conn) // status
	readMessage(t, conn) // tasks

	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventTaskCompleted,
		Payload: map[string]interface{}{
			"job_id": "job-1",
			"status": "completed",
			"result": map[string]interface{}{"rows": 3},
		},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, string(interfaces.EventTaskCompleted), msg.Type)

	data, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var update TaskEventUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	assert.Equal(t, "job-1", update.JobID)
	assert.Equal(t, "completed", update.Status)
	assert.Equal(t, float64(3), update.Result["rows"])
}

func TestWebSocketHandler_Whitelist(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	handler := NewWebSocketHandler(eventService, nil, logger, &common.WebSocketConfig{
		AllowedEvents: []string{string(interfaces.EventTaskFailed)},
	})
	conn := dialHandler(t, handler)
	readMessage(t, conn)
	readMessage(t, conn)

	ctx := context.Background()
	require.NoError(t, eventService.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventTaskStarted,
		Payload: map[string]interface{}{"job_id": "job-1"},
	}))
	require.NoError(t, eventService.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventTaskFailed,
		Payload: map[string]interface{}{"job_id": "job-1", "error": "network down"},
	}))

	// The started event is filtered, so the first message is the failure
	msg := readMessage(t, conn)
	assert.Equal(t, string(interfaces.EventTaskFailed), msg.Type)
}

func TestWebSocketHandler_ProgressThrottlePerJob(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, arbor.NewLogger(), &common.WebSocketConfig{
		ProgressThrottle: "1h",
	})

	assert.True(t, handler.allowProgress("job-1"))
	assert.False(t, handler.allowProgress("job-1"))
	assert.True(t, handler.allowProgress("job-2"), "jobs are throttled independently")

	handler.releaseThrottler("job-1")
	assert.True(t, handler.allowProgress("job-1"))
}

func TestWebSocketHandler_NoThrottleByDefault(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, arbor.NewLogger(), nil)
	for i := 0; i < 5; i++ {
		assert.True(t, handler.allowProgress("job-1"))
	}
}

func TestWebSocketHandler_DismissReleasesThrottler(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, arbor.NewLogger(), &common.WebSocketConfig{
		ProgressThrottle: "1h",
	})

	handler.handleTaskEvent(interfaces.Event{
		Type:    interfaces.EventTaskProgress,
		Payload: map[string]interface{}{"job_id": "job-1", "progress": 0.5},
	})
	handler.throttleMu.Lock()
	assert.Len(t, handler.throttlers, 1)
	handler.throttleMu.Unlock()

	// A stopped job only emits notification_dismissed
	handler.handleTaskEvent(interfaces.Event{
		Type:    interfaces.EventNotificationDismissed,
		Payload: map[string]interface{}{"job_id": "job-1"},
	})
	handler.throttleMu.Lock()
	defer handler.throttleMu.Unlock()
	assert.Empty(t, handler.throttlers)
}
