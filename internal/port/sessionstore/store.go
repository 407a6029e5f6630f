// Package sessionstore defines the persistence port behind the session registry.
package sessionstore

import (
	"context"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain/session"
)

// Store persists Gateway sessions. Implementations must answer FindActive
// without scanning every session in the system.
type Store interface {
	// Create inserts s, assigning ID and timestamps when empty. Returns
	// domain.ErrConflict if an active session already exists for s.Key().
	Create(ctx context.Context, s *session.Session) error

	// Get returns a session by local ID or Gateway session ID.
	Get(ctx context.Context, id string) (*session.Session, error)

	// FindActive returns the active session for the pair, or domain.ErrNotFound.
	FindActive(ctx context.Context, key session.Key) (*session.Session, error)

	// ListByTask returns every session linked to taskID, newest first.
	ListByTask(ctx context.Context, taskID string) ([]session.Session, error)

	// List returns sessions matching the filter, newest first.
	List(ctx context.Context, filter session.Filter) ([]session.Session, error)

	// SetTerminal moves an active session to a terminal status. It returns the
	// stored session unchanged when it is already terminal.
	SetTerminal(ctx context.Context, id string, status session.Status, endedAt time.Time) (*session.Session, error)

	// Delete removes the session record regardless of status.
	Delete(ctx context.Context, id string) error
}
