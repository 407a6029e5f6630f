package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/logger"
	"github.com/Strob0t/MissionControl/internal/service"
)

// HealthCheck is a named dependency probe reported by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds the services behind the HTTP API.
type Handlers struct {
	Tasks    *service.TaskService
	Agents   *service.AgentService
	Sessions *service.SessionRegistry
	Feed     *service.Feed
	Stats    *service.StatsService
	Gateway  *service.GatewayProbe
	Hub      *ws.Hub
	Debug    *logger.DebugSink // nil disables /debug/logs
	Checks   []HealthCheck

	// Heartbeat is the keep-alive interval of SSE streams, measured on Clock.
	Heartbeat time.Duration
	Clock     clock.Clock // nil means wall time
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// ListTasks handles GET /api/v1/workspaces/{id}/tasks?status=
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := task.ListFilter{Status: task.Status(r.URL.Query().Get("status"))}
	tasks, err := h.Tasks.List(r.Context(), urlParam(r, "id"), filter)
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask handles POST /api/v1/workspaces/{id}/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	handleCreateInWorkspace(func(ctx context.Context, workspaceID string, req *task.CreateRequest) (*task.Task, error) {
		req.WorkspaceID = workspaceID
		return h.Tasks.Create(ctx, *req)
	})(w, r)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Tasks.Get, "task not found")(w, r)
}

// transitionRequest is the body of PATCH /tasks/{id}.
type transitionRequest struct {
	Status task.Status `json:"status"`
}

// transitionResponse carries the moved task and the event it produced.
type transitionResponse struct {
	Task  *task.Task   `json:"task"`
	Event *event.Event `json:"event"`
}

// TransitionTask handles PATCH /api/v1/tasks/{id}. The response is sent once
// the status is stored; any dispatch it triggers continues in the background.
func (h *Handlers) TransitionTask(w http.ResponseWriter, r *http.Request) {
	handleUpdate(func(ctx context.Context, id string, req transitionRequest) (*transitionResponse, error) {
		t, ev, err := h.Tasks.Transition(ctx, id, req.Status)
		if err != nil {
			return nil, err
		}
		return &transitionResponse{Task: t, Event: ev}, nil
	}, "task not found")(w, r)
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

// AssignTask handles POST /api/v1/tasks/{id}/assign
func (h *Handlers) AssignTask(w http.ResponseWriter, r *http.Request) {
	handleUpdate(func(ctx context.Context, id string, req assignRequest) (*task.Task, error) {
		return h.Tasks.Assign(ctx, id, req.AgentID)
	}, "task or agent not found")(w, r)
}

// DispatchTask handles POST /api/v1/tasks/{id}/dispatch. Unlike automatic
// dispatch it waits for the Gateway and reports its failure.
func (h *Handlers) DispatchTask(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Tasks.Dispatch(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListTaskSessions handles GET /api/v1/tasks/{id}/sessions
func (h *Handlers) ListTaskSessions(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Sessions.ListByTask, "task not found")(w, r)
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// ListAgents handles GET /api/v1/workspaces/{id}/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Agents.List, "workspace not found")(w, r)
}

// CreateAgent handles POST /api/v1/workspaces/{id}/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	handleCreateInWorkspace(func(ctx context.Context, workspaceID string, req *agent.CreateRequest) (*agent.Agent, error) {
		req.WorkspaceID = workspaceID
		return h.Agents.Create(ctx, *req)
	})(w, r)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Agents.Get, "agent not found")(w, r)
}

type agentStatusRequest struct {
	Status agent.Status `json:"status"`
}

// UpdateAgent handles PATCH /api/v1/agents/{id}
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	handleUpdate(func(ctx context.Context, id string, req agentStatusRequest) (*agent.Agent, error) {
		return h.Agents.UpdateStatus(ctx, id, req.Status)
	}, "agent not found")(w, r)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// WorkspaceStats handles GET /api/v1/workspaces/{id}/stats
func (h *Handlers) WorkspaceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.Stats(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
