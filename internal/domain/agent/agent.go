// Package agent defines the Agent entity referenced by tasks and sessions.
package agent

import (
	"fmt"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain"
)

// Status represents an agent's availability.
type Status string

const (
	StatusStandby Status = "standby"
	StatusWorking Status = "working"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known agent status.
func (s Status) Valid() bool {
	return s == StatusStandby || s == StatusWorking || s == StatusOffline
}

// Agent is a dispatchable worker profile scoped to a workspace.
type Agent struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Role        string    `json:"role,omitempty"`
	AvatarEmoji string    `json:"avatar_emoji,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to register an agent.
type CreateRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	AvatarEmoji string `json:"avatar_emoji,omitempty"`
	Status      Status `json:"status,omitempty"`
}

// Validate fills defaults and checks the request.
func (r *CreateRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace_id is required", domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if r.Status == "" {
		r.Status = StatusStandby
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: invalid agent status %q", domain.ErrValidation, r.Status)
	}
	return nil
}
