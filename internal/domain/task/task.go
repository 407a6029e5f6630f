// Package task defines the Task domain entity and its status pipeline.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain"
)

// Status represents a task's position in the pipeline.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusInbox      Status = "inbox"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusTesting    Status = "testing"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Statuses lists the pipeline in board order.
var Statuses = []Status{
	StatusPlanning,
	StatusInbox,
	StatusAssigned,
	StatusInProgress,
	StatusTesting,
	StatusReview,
	StatusDone,
}

// Valid reports whether s is one of the pipeline statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusInbox, StatusAssigned, StatusInProgress,
		StatusTesting, StatusReview, StatusDone:
		return true
	}
	return false
}

// Queued reports whether a task in status s counts toward the work queue.
func (s Status) Queued() bool {
	return s != StatusDone && s != StatusReview
}

// Priority is advisory and only affects external sorting.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ErrNoop is returned when a transition targets the task's current status.
var ErrNoop = errors.New("task already in target status")

// ReasonNoop is the machine-readable reason reported to API clients for ErrNoop.
const ReasonNoop = "already_in_target_state"

// Task is a unit of work moving through the pipeline.
type Task struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Status          Status    `json:"status"`
	Priority        Priority  `json:"priority"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	WorkspaceID     string   `json:"workspace_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          Status   `json:"status,omitempty"`
	Priority        Priority `json:"priority,omitempty"`
	AssignedAgentID string   `json:"assigned_agent_id,omitempty"`
}

// Validate fills defaults and checks the request.
func (r *CreateRequest) Validate() error {
	if r.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace_id is required", domain.ErrValidation)
	}
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if r.Status == "" {
		r.Status = StatusInbox
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, r.Status)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", domain.ErrValidation, r.Priority)
	}
	return nil
}

// ListFilter narrows a task listing within a workspace.
type ListFilter struct {
	Status Status `json:"status,omitempty"`
}
