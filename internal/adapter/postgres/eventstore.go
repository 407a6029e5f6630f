package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/MissionControl/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the feed_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feed_events (id, event_type, task_id, agent_id, session_id, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, string(ev.Type), ev.TaskID, ev.AgentID, ev.SessionID, ev.Message, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for feed_events queries.
const eventColumns = `id, event_type, task_id, agent_id, session_id, message, created_at`

func collectEvents(rows pgx.Rows) ([]event.Event, error) {
	defer rows.Close()
	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.TaskID, &ev.AgentID, &ev.SessionID, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return orEmpty(events), rows.Err()
}

// Recent returns the newest limit events, oldest first. A non-positive limit
// returns everything.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM (
			SELECT seq, %s FROM feed_events ORDER BY seq DESC LIMIT $1
		) newest ORDER BY seq ASC`, eventColumns, eventColumns), lim)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return collectEvents(rows)
}

// ListByTask returns all events for the given task in insertion order.
func (s *EventStore) ListByTask(ctx context.Context, taskID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM feed_events WHERE task_id = $1 ORDER BY seq ASC`, eventColumns), taskID)
	if err != nil {
		return nil, fmt.Errorf("load events by task %s: %w", taskID, err)
	}
	return collectEvents(rows)
}
