package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Task tracking
	mux.HandleFunc("/api/tasks", s.handleTasksRoute)  // GET (list), POST (track), DELETE (clear all)
	mux.HandleFunc("/api/tasks/", s.handleTaskRoutes) // GET/DELETE /{key}
	mux.HandleFunc("/api/history", s.app.TaskHandler.HistoryHandler)

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/config", s.app.ConfigHandler.GetConfig)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleTasksRoute routes /api/tasks by method
func (s *Server) handleTasksRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.TaskHandler.ListTasksHandler,
		http.MethodPost:   s.app.TaskHandler.TrackTaskHandler,
		http.MethodDelete: s.app.TaskHandler.ClearTasksHandler,
	})
}

// handleTaskRoutes routes /api/tasks/{key} by method
func (s *Server) handleTaskRoutes(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.TaskHandler.GetTaskHandler,
		http.MethodDelete: s.app.TaskHandler.StopTaskHandler,
	})
}

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// RouteByMethod routes requests based on HTTP method with standardized error handling
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler(w, r)
}
