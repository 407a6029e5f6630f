// Package client is the dashboard-side view of Mission Control: an API client
// and a local store that applies moves optimistically and reconciles with the
// server through the live feed and periodic polls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// APIError is a non-2xx answer from the Mission Control API.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api %d (%s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// API is a thin HTTP/JSON client for the /api/v1 surface.
type API struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPI creates a client for the service at baseURL (for example
// "http://localhost:8080").
func NewAPI(baseURL string, timeout time.Duration) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: mcotel.Transport(http.DefaultTransport),
		},
	}
}

// FeedURL returns the WebSocket URL of the live feed.
func (a *API) FeedURL() string {
	u := a.baseURL + "/api/v1/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// ListTasks returns the workspace's tasks.
func (a *API) ListTasks(ctx context.Context, workspaceID string) ([]task.Task, error) {
	var out []task.Task
	err := a.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(workspaceID)+"/tasks", nil, &out)
	return out, err
}

// ListAgents returns the workspace's agents.
func (a *API) ListAgents(ctx context.Context, workspaceID string) ([]agent.Agent, error) {
	var out []agent.Agent
	err := a.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(workspaceID)+"/agents", nil, &out)
	return out, err
}

// ListEvents returns up to limit feed events, newest first.
func (a *API) ListEvents(ctx context.Context, limit int) ([]event.Event, error) {
	var out []event.Event
	err := a.do(ctx, http.MethodGet, "/events?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// TransitionTask moves a task to status and returns the server's copy.
func (a *API) TransitionTask(ctx context.Context, taskID string, status task.Status) (*task.Task, error) {
	var out struct {
		Task task.Task `json:"task"`
	}
	body := map[string]task.Status{"status": status}
	if err := a.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(taskID), body, &out); err != nil {
		return nil, err
	}
	return &out.Task, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+"/api/v1"+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			apiErr.Message, apiErr.Reason = eb.Error, eb.Reason
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
