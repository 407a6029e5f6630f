package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/session"
)

type sessionRow struct {
	seq uint64
	s   session.Session
}

func (r *sessionRow) copy() *session.Session {
	out := r.s
	if r.s.EndedAt != nil {
		t := *r.s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// Create inserts a session, enforcing one active session per (task, agent).
func (s *Store) Create(_ context.Context, sess *session.Session) error {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.GatewaySessionID == "" {
		sess.GatewaySessionID = sess.ID
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("create session %s: %w", sess.ID, domain.ErrConflict)
	}
	if _, ok := s.byGateway[sess.GatewaySessionID]; ok {
		return fmt.Errorf("create session: gateway session %s: %w", sess.GatewaySessionID, domain.ErrConflict)
	}
	key := sess.Key().String()
	if sess.Status == session.StatusActive && sess.TaskID != "" {
		if id, ok := s.active[key]; ok {
			return fmt.Errorf("create session: %s already active for %s: %w", id, key, domain.ErrConflict)
		}
	}

	row := &sessionRow{seq: s.nextSeq(), s: *sess}
	s.sessions[sess.ID] = row
	s.byGateway[sess.GatewaySessionID] = sess.ID
	if sess.TaskID != "" {
		s.byTask[sess.TaskID] = append(s.byTask[sess.TaskID], sess.ID)
		if sess.Status == session.StatusActive {
			s.active[key] = sess.ID
		}
	}
	return nil
}

// resolve must be called with s.mu held.
func (s *Store) resolve(id string) (*sessionRow, bool) {
	if r, ok := s.sessions[id]; ok {
		return r, true
	}
	if local, ok := s.byGateway[id]; ok {
		r, ok := s.sessions[local]
		return r, ok
	}
	return nil, false
}

func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resolve(id)
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
	}
	return r.copy(), nil
}

func (s *Store) FindActive(_ context.Context, key session.Key) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[key.String()]
	if !ok {
		return nil, fmt.Errorf("active session for %s: %w", key, domain.ErrNotFound)
	}
	return s.sessions[id].copy(), nil
}

func (s *Store) ListByTask(_ context.Context, taskID string) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTask[taskID]
	rows := make([]*sessionRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, s.sessions[id])
	}
	return newestFirst(rows), nil
}

func (s *Store) List(_ context.Context, filter session.Filter) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*sessionRow, 0)
	for _, r := range s.sessions {
		if filter.Match(&r.s) {
			rows = append(rows, r)
		}
	}
	return newestFirst(rows), nil
}

func (s *Store) SetTerminal(_ context.Context, id string, status session.Status, endedAt time.Time) (*session.Session, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resolve(id)
	if !ok {
		return nil, fmt.Errorf("set terminal %s: %w", id, domain.ErrNotFound)
	}
	if r.s.Status.Terminal() {
		return r.copy(), nil
	}

	ended := endedAt
	r.s.Status = status
	r.s.EndedAt = &ended
	r.s.UpdatedAt = now
	if r.s.TaskID != "" {
		key := r.s.Key().String()
		if s.active[key] == r.s.ID {
			delete(s.active, key)
		}
	}
	return r.copy(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resolve(id)
	if !ok {
		return fmt.Errorf("delete session %s: %w", id, domain.ErrNotFound)
	}
	delete(s.sessions, r.s.ID)
	delete(s.byGateway, r.s.GatewaySessionID)
	if r.s.TaskID != "" {
		key := r.s.Key().String()
		if s.active[key] == r.s.ID {
			delete(s.active, key)
		}
		ids := slices.DeleteFunc(s.byTask[r.s.TaskID], func(v string) bool { return v == r.s.ID })
		if len(ids) == 0 {
			delete(s.byTask, r.s.TaskID)
		} else {
			s.byTask[r.s.TaskID] = ids
		}
	}
	return nil
}

func newestFirst(rows []*sessionRow) []session.Session {
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	out := make([]session.Session, len(rows))
	for i, r := range rows {
		out[i] = *r.copy()
	}
	return out
}
