package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobwatch/internal/common"
	"github.com/ternarybob/jobwatch/internal/interfaces"
	"github.com/ternarybob/jobwatch/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// TaskLister provides the tracked tasks sent to newly connected clients
type TaskLister interface {
	Snapshot() []*models.TaskSnapshot
}

type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	tasks            TaskLister
	progressInterval time.Duration            // Minimum spacing of task_progress per job, 0 = no throttling
	throttlers       map[string]*rate.Limiter // Progress limiters keyed by job id
	throttleMu       sync.Mutex
	allowedEvents    map[string]bool // Whitelist of events to broadcast (empty = allow all)
	serverInstanceID string          // Unique ID generated on startup - clients use to detect server restart
}

// Message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	Service          string `json:"service"`
	Status           string `json:"status"`
	TrackedTasks     int    `json:"trackedTasks"`
	ServerInstanceID string `json:"serverInstanceId"` // Unique ID per server startup - clients clear state on change
}

// TaskEventUpdate is the client-facing form of a task event
type TaskEventUpdate struct {
	NotificationID string                 `json:"notification_id,omitempty"`
	JobID          string                 `json:"job_id"`
	TaskType       string                 `json:"task_type,omitempty"`
	Status         string                 `json:"status,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Progress       float64                `json:"progress,omitempty"` // 0.0 to 1.0
	Error          string                 `json:"error,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

func NewWebSocketHandler(eventService interfaces.EventService, tasks TaskLister, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		tasks:            tasks,
		throttlers:       make(map[string]*rate.Limiter),
		allowedEvents:    make(map[string]bool),
		serverInstanceID: common.NewInstanceID(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	// Empty list means allow all events
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	if config != nil && config.ProgressThrottle != "" {
		if duration, err := time.ParseDuration(config.ProgressThrottle); err == nil {
			h.progressInterval = duration
			logger.Debug().
				Str("event_type", string(interfaces.EventTaskProgress)).
				Str("interval", config.ProgressThrottle).
				Msg("Throttler initialized for task_progress events")
		} else {
			logger.Warn().
				Err(err).
				Str("interval", config.ProgressThrottle).
				Msg("Failed to parse task_progress throttle interval - throttler disabled")
		}
	}

	if eventService != nil {
		h.SubscribeToTaskEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	// Send initial status and the current task list
	h.sendInitialState(conn)

	// Handle client disconnection
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
}

func (h *WebSocketHandler) sendInitialState(conn *websocket.Conn) {
	var snapshots []*models.TaskSnapshot
	if h.tasks != nil {
		snapshots = h.tasks.Snapshot()
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	messages := []WSMessage{
		{
			Type: "status",
			Payload: StatusUpdate{
				Service:          "ONLINE",
				Status:           "ONLINE",
				TrackedTasks:     len(snapshots),
				ServerInstanceID: h.serverInstanceID,
			},
		},
		{Type: "tasks", Payload: snapshots},
	}

	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal initial message")
			continue
		}
		mutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send initial message")
			return
		}
	}
}

// writeWait bounds a single write to a client
const writeWait = 5 * time.Second

// Broadcast sends msg to all connected clients
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		// A stalled client must not hold up the task events publishing to it
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// SubscribeToTaskEvents forwards task events from the event bus to clients
func (h *WebSocketHandler) SubscribeToTaskEvents() {
	if h.eventService == nil {
		return
	}

	for _, eventType := range interfaces.AllTaskEvents {
		eventType := eventType
		if err := h.eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			h.handleTaskEvent(event)
			return nil
		}); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe to task event")
		}
	}
}

func (h *WebSocketHandler) handleTaskEvent(event interfaces.Event) {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		h.logger.Warn().Str("event_type", string(event.Type)).Msg("Invalid task event payload type")
		return
	}

	// Check whitelist (empty allowedEvents = allow all)
	if len(h.allowedEvents) > 0 && !h.allowedEvents[string(event.Type)] {
		return
	}

	jobID := getString(payload, "job_id")
	switch event.Type {
	case interfaces.EventTaskProgress:
		if !h.allowProgress(jobID) {
			return
		}
	case interfaces.EventTaskCompleted, interfaces.EventTaskFailed, interfaces.EventNotificationDismissed:
		h.releaseThrottler(jobID)
	}

	update := TaskEventUpdate{
		NotificationID: getString(payload, "notification_id"),
		JobID:          jobID,
		TaskType:       getString(payload, "task_type"),
		Status:         getString(payload, "status"),
		Message:        getString(payload, "message"),
		Progress:       getFloat64(payload, "progress"),
		Error:          getString(payload, "error"),
		Timestamp:      time.Now(),
	}
	if result, ok := payload["result"].(map[string]interface{}); ok {
		update.Result = result
	}

	h.Broadcast(WSMessage{Type: string(event.Type), Payload: update})
}

// allowProgress throttles task_progress per job so one chatty job cannot starve the others
func (h *WebSocketHandler) allowProgress(jobID string) bool {
	if h.progressInterval <= 0 {
		return true
	}

	h.throttleMu.Lock()
	defer h.throttleMu.Unlock()

	limiter, ok := h.throttlers[jobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.progressInterval), 1)
		h.throttlers[jobID] = limiter
	}
	return limiter.Allow()
}

func (h *WebSocketHandler) releaseThrottler(jobID string) {
	h.throttleMu.Lock()
	delete(h.throttlers, jobID)
	h.throttleMu.Unlock()
}

// Helper functions for safe type conversion from map[string]interface{}
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0.0
}
