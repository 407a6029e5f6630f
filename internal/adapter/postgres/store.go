package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// Store implements database.Store and sessionstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Tasks ---

const taskColumns = `id, workspace_id, title, description, status, priority, COALESCE(assigned_agent_id, ''), created_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AssignedAgentID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) ListTasks(ctx context.Context, workspaceID string, filter task.ListFilter) ([]task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE workspace_id = $1`
	args := []any{workspaceID}
	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return orEmpty(tasks), rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (workspace_id, title, description, status, priority, assigned_agent_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+taskColumns,
		req.WorkspaceID, req.Title, req.Description, string(req.Status), string(req.Priority), nullIfEmpty(req.AssignedAgentID))

	t, err := scanTask(row)
	if err != nil {
		return nil, constraintWrap(err, "create task")
	}
	return &t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+taskColumns,
		id, string(status))
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "update task %s", id)
	}
	return &t, nil
}

func (s *Store) AssignTask(ctx context.Context, id, agentID string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET assigned_agent_id = $2, updated_at = now() WHERE id = $1 RETURNING `+taskColumns,
		id, agentID)
	t, err := scanTask(row)
	if err != nil {
		return nil, constraintWrap(err, "assign task %s", id)
	}
	return &t, nil
}

// --- Agents ---

const agentColumns = `id, workspace_id, name, role, avatar_emoji, status, created_at, updated_at`

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Role, &a.AvatarEmoji, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) ListAgents(ctx context.Context, workspaceID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE workspace_id = $1 ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return orEmpty(agents), rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (workspace_id, name, role, avatar_emoji, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+agentColumns,
		req.WorkspaceID, req.Name, req.Role, req.AvatarEmoji, string(req.Status))
	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return &a, nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update agent %s", id)
}
