// Package event defines the immutable live-feed Event entity.
package event

import (
	"fmt"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain"
)

// Type identifies the kind of feed event.
type Type string

const (
	TypeTaskCreated        Type = "task_created"
	TypeTaskAssigned       Type = "task_assigned"
	TypeTaskStatusChanged  Type = "task_status_changed"
	TypeTaskCompleted      Type = "task_completed"
	TypeAgentJoined        Type = "agent_joined"
	TypeAgentStatusChanged Type = "agent_status_changed"
	TypeMessageSent        Type = "message_sent"
	TypeSystem             Type = "system"
)

// Types lists every event type.
var Types = []Type{
	TypeTaskCreated,
	TypeTaskAssigned,
	TypeTaskStatusChanged,
	TypeTaskCompleted,
	TypeAgentJoined,
	TypeAgentStatusChanged,
	TypeMessageSent,
	TypeSystem,
}

// Event is an immutable record of a state change. The log's canonical order is
// insertion order.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects a view of the feed.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterTasks  Filter = "tasks"
	FilterAgents Filter = "agents"
)

var membership = map[Filter]map[Type]bool{
	FilterTasks: {
		TypeTaskCreated:       true,
		TypeTaskAssigned:      true,
		TypeTaskStatusChanged: true,
		TypeTaskCompleted:     true,
	},
	FilterAgents: {
		TypeAgentJoined:        true,
		TypeAgentStatusChanged: true,
		TypeMessageSent:        true,
	},
}

// ParseFilter maps a query value to a Filter. Empty means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterTasks, FilterAgents:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown feed filter %q", domain.ErrValidation, s)
	}
}

// Match reports whether an event of type t belongs to the filtered view.
func (f Filter) Match(t Type) bool {
	if f == FilterAll || f == "" {
		return true
	}
	return membership[f][t]
}

// Apply returns the events of evs that match f, preserving order.
func (f Filter) Apply(evs []Event) []Event {
	out := make([]Event, 0, len(evs))
	for i := range evs {
		if f.Match(evs[i].Type) {
			out = append(out, evs[i])
		}
	}
	return out
}
