package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/MissionControl/internal/adapter/postgres"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/database"
	"github.com/Strob0t/MissionControl/internal/port/eventstore"
	"github.com/Strob0t/MissionControl/internal/port/sessionstore"
)

var (
	_ database.Store     = (*postgres.Store)(nil)
	_ sessionstore.Store = (*postgres.Store)(nil)
	_ eventstore.Store   = (*postgres.EventStore)(nil)
)

// setupPool connects, runs all migrations and returns a pool closed via
// t.Cleanup.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	// Run goose migrations first (uses embedded SQL files).
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// workspace returns a unique workspace id so tests never see each other's rows.
func workspace() string { return "ws-" + uuid.NewString() }

func TestStoreTasksAndAgents(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	ctx := context.Background()
	ws := workspace()

	a, err := store.CreateAgent(ctx, agent.CreateRequest{WorkspaceID: ws, Name: "Ada"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if a.Status != agent.StatusStandby {
		t.Errorf("expected standby, got %s", a.Status)
	}

	tk, err := store.CreateTask(ctx, task.CreateRequest{WorkspaceID: ws, Title: "Write docs"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.Status != task.StatusInbox || tk.AssignedAgentID != "" {
		t.Errorf("unexpected defaults %+v", tk)
	}

	assigned, err := store.AssignTask(ctx, tk.ID, a.ID)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if assigned.AssignedAgentID != a.ID {
		t.Errorf("expected %s, got %s", a.ID, assigned.AssignedAgentID)
	}
	if _, err := store.AssignTask(ctx, tk.ID, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown agent, got %v", err)
	}

	moved, err := store.UpdateTaskStatus(ctx, tk.ID, task.StatusAssigned)
	if err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if moved.Status != task.StatusAssigned {
		t.Errorf("expected assigned, got %s", moved.Status)
	}

	list, err := store.ListTasks(ctx, ws, task.ListFilter{Status: task.StatusAssigned})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTasks = %d, %v", len(list), err)
	}

	if err := store.UpdateAgentStatus(ctx, a.ID, agent.StatusWorking); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	if err := store.UpdateAgentStatus(ctx, "ghost", agent.StatusWorking); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSessions(t *testing.T) {
	store := postgres.NewStore(setupPool(t))
	ctx := context.Background()
	ws := workspace()
	taskID := uuid.NewString()

	first := &session.Session{GatewaySessionID: "gw-" + uuid.NewString(), WorkspaceID: ws, TaskID: taskID, AgentID: "a1",
		Type: session.TypeSubagent, Status: session.StatusActive}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &session.Session{WorkspaceID: ws, TaskID: taskID, AgentID: "a1", Type: session.TypeSubagent, Status: session.StatusActive}
	if err := store.Create(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict from the partial unique index, got %v", err)
	}

	byGateway, err := store.Get(ctx, first.GatewaySessionID)
	if err != nil || byGateway.ID != first.ID {
		t.Fatalf("Get by gateway id = %+v, %v", byGateway, err)
	}

	ended := time.Now().UTC().Truncate(time.Millisecond)
	done, err := store.SetTerminal(ctx, first.ID, session.StatusCompleted, ended)
	if err != nil {
		t.Fatalf("SetTerminal: %v", err)
	}
	again, err := store.SetTerminal(ctx, first.ID, session.StatusFailed, ended.Add(time.Hour))
	if err != nil {
		t.Fatalf("second SetTerminal: %v", err)
	}
	if again.Status != session.StatusCompleted || !again.EndedAt.Equal(*done.EndedAt) {
		t.Errorf("terminal session changed: %+v", again)
	}

	if _, err := store.FindActive(ctx, first.Key()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected no active session, got %v", err)
	}

	active, err := store.List(ctx, session.Filter{WorkspaceID: ws, Status: session.StatusActive})
	if err != nil || len(active) != 0 {
		t.Errorf("List active = %d, %v", len(active), err)
	}

	if err := store.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	left, _ := store.ListByTask(ctx, taskID)
	if len(left) != 0 {
		t.Errorf("expected no sessions after delete, got %d", len(left))
	}
}

func TestEventStore(t *testing.T) {
	es := postgres.NewEventStore(setupPool(t))
	ctx := context.Background()
	taskID := uuid.NewString()

	for i := range 3 {
		ev := event.Event{
			ID:        uuid.NewString(),
			Type:      event.TypeTaskStatusChanged,
			TaskID:    taskID,
			Message:   "step",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := es.Append(ctx, &ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	byTask, err := es.ListByTask(ctx, taskID)
	if err != nil || len(byTask) != 3 {
		t.Fatalf("ListByTask = %d, %v", len(byTask), err)
	}

	recent, err := es.Recent(ctx, 2)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Recent = %d, %v", len(recent), err)
	}
	if recent[1].ID != byTask[2].ID {
		t.Errorf("expected newest event last, got %s", recent[1].ID)
	}
}
