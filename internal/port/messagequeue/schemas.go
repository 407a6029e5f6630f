package messagequeue

import "time"

// FeedEventPayload is the schema for feed.events messages.
type FeedEventPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionEndedPayload is the schema for gateway.sessions.ended messages.
// Delivery is at-least-once; consumers must treat repeats as no-ops.
type SessionEndedPayload struct {
	SessionID string     `json:"session_id"`
	Status    string     `json:"status"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

