package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
	"github.com/Strob0t/MissionControl/internal/port/sessionstore"
	"github.com/Strob0t/MissionControl/internal/syncutil"
)

// SessionRegistry tracks Gateway sessions and their lifecycle. Every mutation
// of a (task, agent) pair runs under that pair's lock, so the "active session
// exists" check and the write that follows are atomic.
type SessionRegistry struct {
	store   sessionstore.Store
	clock   clock.Clock
	pairs   *syncutil.KeyedMutex
	metrics *mcotel.Metrics
}

// NewSessionRegistry creates a registry backed by store.
func NewSessionRegistry(store sessionstore.Store, clk clock.Clock) *SessionRegistry {
	return &SessionRegistry{
		store: store,
		clock: clk,
		pairs: syncutil.NewKeyedMutex(),
	}
}

// SetMetrics enables session counters.
func (r *SessionRegistry) SetMetrics(m *mcotel.Metrics) { r.metrics = m }

// lockPair serializes work on one (task, agent) pair.
func (r *SessionRegistry) lockPair(key session.Key) func() {
	return r.pairs.Lock(key.String())
}

// Create registers s. Returns domain.ErrConflict if the pair already has an
// active session.
func (r *SessionRegistry) Create(ctx context.Context, s *session.Session) error {
	unlock := r.lockPair(s.Key())
	defer unlock()
	return r.createLocked(ctx, s)
}

// createLocked must be called with the pair lock for s.Key() held.
func (r *SessionRegistry) createLocked(ctx context.Context, s *session.Session) error {
	if s.Type == "" {
		s.Type = session.TypeSubagent
	}
	if s.Status == "" {
		s.Status = session.StatusActive
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: invalid session status %q", domain.ErrValidation, s.Status)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.clock.Now().UTC()
	}
	s.UpdatedAt = s.CreatedAt

	if s.Status == session.StatusActive && s.TaskID != "" {
		existing, err := r.store.FindActive(ctx, s.Key())
		switch {
		case err == nil:
			return fmt.Errorf("%w: session %s already active for %s", domain.ErrConflict, existing.ID, s.Key())
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("find active session: %w", err)
		}
	}
	if err := r.store.Create(ctx, s); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns a session by local ID or Gateway session ID.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*session.Session, error) {
	return r.store.Get(ctx, id)
}

// FindActive returns the active session for the pair, or domain.ErrNotFound.
func (r *SessionRegistry) FindActive(ctx context.Context, taskID, agentID string) (*session.Session, error) {
	return r.store.FindActive(ctx, session.Key{TaskID: taskID, AgentID: agentID})
}

// ListByTask returns every session linked to taskID, newest first.
func (r *SessionRegistry) ListByTask(ctx context.Context, taskID string) ([]session.Session, error) {
	return r.store.ListByTask(ctx, taskID)
}

// ListActive returns active sessions matching filter.
func (r *SessionRegistry) ListActive(ctx context.Context, filter session.Filter) ([]session.Session, error) {
	filter.Status = session.StatusActive
	return r.store.List(ctx, filter)
}

// List returns sessions matching filter.
func (r *SessionRegistry) List(ctx context.Context, filter session.Filter) ([]session.Session, error) {
	return r.store.List(ctx, filter)
}

// MarkTerminal moves an active session to completed or failed. Calling it on
// a session that is already terminal succeeds without changing it, so
// completion notifications may be delivered more than once. A zero endedAt
// means now.
func (r *SessionRegistry) MarkTerminal(ctx context.Context, id string, status session.Status, endedAt time.Time) (*session.Session, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %q is not a terminal session status", domain.ErrValidation, status)
	}

	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return s, nil
	}

	unlock := r.lockPair(s.Key())
	defer unlock()

	if endedAt.IsZero() {
		endedAt = r.clock.Now()
	}
	updated, err := r.store.SetTerminal(ctx, s.ID, status, endedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("mark session terminal: %w", err)
	}

	if r.metrics != nil && updated.EndedAt != nil && updated.EndedAt.Equal(endedAt.UTC()) {
		r.metrics.SessionsTerminated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
		))
	}
	return updated, nil
}

// Delete removes a session regardless of status. The Gateway is not asked to
// cancel any work.
func (r *SessionRegistry) Delete(ctx context.Context, id string) error {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	unlock := r.lockPair(s.Key())
	defer unlock()

	return r.store.Delete(ctx, s.ID)
}

// StartSessionEndedSubscriber consumes Gateway completion notifications and
// applies them with MarkTerminal. Unknown sessions are acknowledged and skipped.
func (r *SessionRegistry) StartSessionEndedSubscriber(ctx context.Context, queue messagequeue.Queue) (cancel func(), err error) {
	return queue.Subscribe(ctx, messagequeue.SubjectSessionEnded, func(msgCtx context.Context, _ string, data []byte) error {
		var msg messagequeue.SessionEndedPayload
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("unmarshal session ended: %w", err)
		}

		var endedAt time.Time
		if msg.EndedAt != nil {
			endedAt = *msg.EndedAt
		}

		_, err := r.MarkTerminal(msgCtx, msg.SessionID, session.Status(msg.Status), endedAt)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			slog.Warn("session ended for unknown session", "session_id", msg.SessionID)
			return nil
		case err != nil:
			return err
		}
		slog.Info("session ended", "session_id", msg.SessionID, "status", msg.Status)
		return nil
	})
}
