// Package session defines the Gateway session entity tracked by the registry.
package session

import (
	"fmt"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain"
)

// Type distinguishes a primary agent session from a per-task sub-agent.
type Type string

const (
	TypePrimary  Type = "primary"
	TypeSubagent Type = "subagent"
)

// Status represents a session's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known session status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusFailed
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is a unit of Gateway-tracked execution, optionally linked to a task and agent.
type Session struct {
	ID               string     `json:"id"`
	GatewaySessionID string     `json:"gateway_session_id"`
	WorkspaceID      string     `json:"workspace_id,omitempty"`
	TaskID           string     `json:"task_id,omitempty"`
	AgentID          string     `json:"agent_id,omitempty"`
	Type             Type       `json:"session_type"`
	Status           Status     `json:"status"`
	Channel          string     `json:"channel,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Key identifies the (task, agent) pair guarded by the one-active-session invariant.
type Key struct {
	TaskID  string
	AgentID string
}

// Key returns the pair key for s.
func (s *Session) Key() Key {
	return Key{TaskID: s.TaskID, AgentID: s.AgentID}
}

// String renders the key for logging and lock maps.
func (k Key) String() string {
	return k.TaskID + "/" + k.AgentID
}

// Filter narrows session listings. Empty fields match everything.
type Filter struct {
	Type        Type   `json:"session_type,omitempty"`
	Status      Status `json:"status,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// Match reports whether s satisfies f.
func (f Filter) Match(s *Session) bool {
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.AgentID != "" && s.AgentID != f.AgentID {
		return false
	}
	if f.WorkspaceID != "" && s.WorkspaceID != f.WorkspaceID {
		return false
	}
	return true
}

// UpdateRequest is the body of a terminal transition request.
type UpdateRequest struct {
	Status  Status     `json:"status"`
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Validate checks that the request targets a terminal status.
func (r *UpdateRequest) Validate() error {
	if !r.Status.Terminal() {
		return fmt.Errorf("%w: status must be completed or failed, got %q", domain.ErrValidation, r.Status)
	}
	return nil
}
