// Package eventstore defines the port interface for the append-only feed log.
package eventstore

import (
	"context"

	"github.com/Strob0t/MissionControl/internal/domain/event"
)

// Store is the port interface for persisting feed events.
type Store interface {
	// Append persists a new event. Events are never updated or deleted individually.
	Append(ctx context.Context, ev *event.Event) error

	// Recent returns up to limit of the newest events in insertion order
	// (oldest first).
	Recent(ctx context.Context, limit int) ([]event.Event, error)

	// ListByTask returns all events for the task in insertion order.
	ListByTask(ctx context.Context, taskID string) ([]event.Event, error)
}
