// Package gateway defines the boundary contract toward the external execution
// Gateway that runs agent sessions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reason is a machine-readable Gateway failure mode.
type Reason string

const (
	ReasonUnreachable Reason = "gateway_unreachable"
	ReasonRejected    Reason = "gateway_rejected"
	ReasonTimeout     Reason = "gateway_timeout"
)

// Error describes a failed Gateway call.
type Error struct {
	Reason  Reason
	Status  int    // HTTP status for rejected calls, 0 otherwise
	Message string // remote or transport message
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Reason, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return string(e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, or "" when err is not a Gateway error.
func ReasonOf(err error) Reason {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Reason
	}
	return ""
}

// CreateSessionRequest carries the context the Gateway needs to initialize an agent.
type CreateSessionRequest struct {
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name,omitempty"`
	TaskID      string `json:"task_id"`
	TaskTitle   string `json:"task_title"`
	WorkspaceID string `json:"workspace_id"`
}

// CreateSessionResponse is the Gateway's acknowledgement of a new session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Channel   string `json:"channel,omitempty"`
}

// SessionRecord is a session as reported by the Gateway.
type SessionRecord struct {
	SessionID   string     `json:"session_id"`
	AgentID     string     `json:"agent_id,omitempty"`
	TaskID      string     `json:"task_id,omitempty"`
	SessionType string     `json:"session_type,omitempty"`
	Status      string     `json:"status"`
	Channel     string     `json:"channel,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// ListFilter narrows a Gateway session listing.
type ListFilter struct {
	SessionType string
	Status      string
}

// UpdateSessionRequest moves a Gateway session to a terminal state.
type UpdateSessionRequest struct {
	Status  string     `json:"status"`
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Gateway is the narrow interface the orchestrator needs from the execution backend.
type Gateway interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]SessionRecord, error)
	Health(ctx context.Context) error
	URL() string
}

// SessionAdmin adds the Gateway's PATCH and DELETE session endpoints. The
// service never calls them: local session updates and deletes stay local and
// never cancel Gateway work. They exist for operator tooling that has to
// settle the Gateway's own records, such as sweeping orphaned sessions.
type SessionAdmin interface {
	Gateway
	UpdateSession(ctx context.Context, sessionID string, req UpdateSessionRequest) error
	DeleteSession(ctx context.Context, sessionID string) error
}
