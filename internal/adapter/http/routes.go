package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries handlers that live outside the API group.
type RouteOptions struct {
	Metrics http.Handler // nil disables /metrics
	// Mutating applies to POST, PATCH and DELETE routes (idempotency).
	Mutating []func(http.Handler) http.Handler
}

// MountRoutes registers all routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"service": "missioncontrol", "version": "0.1.0"})
		})

		// Reads
		r.Get("/workspaces/{id}/tasks", h.ListTasks)
		r.Get("/workspaces/{id}/agents", h.ListAgents)
		r.Get("/workspaces/{id}/stats", h.WorkspaceStats)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/sessions", h.ListTaskSessions)
		r.Get("/agents/{id}", h.GetAgent)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/events", h.ListEvents)
		r.Get("/events/stream", h.StreamEvents)
		r.Get("/ws", h.Hub.HandleWS)
		r.Get("/gateway/status", h.GatewayStatus)
		r.Get("/debug/logs", h.DebugLogs)

		// Mutations
		r.Group(func(r chi.Router) {
			r.Use(opts.Mutating...)

			r.Post("/workspaces/{id}/tasks", h.CreateTask)
			r.Patch("/tasks/{id}", h.TransitionTask)
			r.Post("/tasks/{id}/assign", h.AssignTask)
			r.Post("/tasks/{id}/dispatch", h.DispatchTask)

			r.Post("/workspaces/{id}/agents", h.CreateAgent)
			r.Patch("/agents/{id}", h.UpdateAgent)

			r.Patch("/sessions/{id}", h.UpdateSession)
			r.Delete("/sessions/{id}", h.DeleteSession)
		})
	})
}
