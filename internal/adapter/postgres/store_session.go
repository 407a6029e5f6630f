package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/MissionControl/internal/domain/session"
)

const sessionColumns = `id, gateway_session_id, workspace_id, task_id, agent_id, session_type, status, channel, created_at, ended_at, updated_at`

func scanSession(row scannable) (session.Session, error) {
	var s session.Session
	err := row.Scan(&s.ID, &s.GatewaySessionID, &s.WorkspaceID, &s.TaskID, &s.AgentID,
		&s.Type, &s.Status, &s.Channel, &s.CreatedAt, &s.EndedAt, &s.UpdatedAt)
	return s, err
}

func collectSessions(rows pgx.Rows) ([]session.Session, error) {
	defer rows.Close()
	var out []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return orEmpty(out), rows.Err()
}

// Create inserts a session. The partial unique index on (task_id, agent_id)
// rejects a second active session for the pair with domain.ErrConflict.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.GatewaySessionID == "" {
		sess.GatewaySessionID = sess.ID
	}
	var createdAt any
	if !sess.CreatedAt.IsZero() {
		createdAt = sess.CreatedAt
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, gateway_session_id, workspace_id, task_id, agent_id, session_type, status, channel, created_at, ended_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()), $10, COALESCE($9, now()))
		 RETURNING created_at, updated_at`,
		sess.ID, sess.GatewaySessionID, sess.WorkspaceID, sess.TaskID, sess.AgentID,
		string(sess.Type), string(sess.Status), sess.Channel, createdAt, sess.EndedAt)
	if err := row.Scan(&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return constraintWrap(err, "create session")
	}
	return nil
}

// Get returns a session by local ID, falling back to the Gateway session ID.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE id = $1 OR gateway_session_id = $1
		 ORDER BY (id = $1) DESC LIMIT 1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}
	return &sess, nil
}

// FindActive is served by the partial unique index.
func (s *Store) FindActive(ctx context.Context, key session.Key) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE task_id = $1 AND agent_id = $2 AND status = 'active' AND task_id <> ''`,
		key.TaskID, key.AgentID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "find active session %s", key)
	}
	return &sess, nil
}

func (s *Store) ListByTask(ctx context.Context, taskID string) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE task_id = $1 ORDER BY created_at DESC, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for task %s: %w", taskID, err)
	}
	return collectSessions(rows)
}

func (s *Store) List(ctx context.Context, filter session.Filter) ([]session.Session, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	add("session_type", string(filter.Type))
	add("status", string(filter.Status))
	add("agent_id", filter.AgentID)
	add("workspace_id", filter.WorkspaceID)

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collectSessions(rows)
}

// SetTerminal only updates active rows, so the first terminal transition wins
// and later ones return the stored session unchanged.
func (s *Store) SetTerminal(ctx context.Context, id string, status session.Status, endedAt time.Time) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE sessions SET status = $2, ended_at = $3, updated_at = now()
		 WHERE (id = $1 OR gateway_session_id = $1) AND status = 'active'
		 RETURNING `+sessionColumns,
		id, string(status), endedAt)
	sess, err := scanSession(row)
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("set session %s terminal: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 OR gateway_session_id = $1`, id)
	return execExpectOne(tag, err, "delete session %s", id)
}
