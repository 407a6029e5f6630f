package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/dispatch"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/domain/workspace"
	"github.com/Strob0t/MissionControl/internal/port/cache"
	"github.com/Strob0t/MissionControl/internal/port/database"
	"github.com/Strob0t/MissionControl/internal/syncutil"
)

const unknownAgentName = "Unknown Agent"

// TaskService owns task status transitions and triggers automatic dispatch.
// Transitions of one task are applied in the order they are received;
// different tasks proceed concurrently.
type TaskService struct {
	store      database.Store
	feed       *Feed
	dispatcher *Dispatcher
	locks      *syncutil.KeyedMutex

	autoDispatch atomic.Bool
	workspaces   workspace.Directory
	cache        cache.Cache
	cacheTTL     time.Duration
	metrics      *mcotel.Metrics

	inflight sync.WaitGroup
}

// NewTaskService creates a TaskService. A nil dispatcher disables dispatch.
func NewTaskService(store database.Store, feed *Feed, dispatcher *Dispatcher) *TaskService {
	s := &TaskService{
		store:      store,
		feed:       feed,
		dispatcher: dispatcher,
		locks:      syncutil.NewKeyedMutex(),
	}
	s.autoDispatch.Store(dispatcher != nil)
	return s
}

// SetAutoDispatch enables or disables dispatch on transitions. It is safe to
// call while requests are served.
func (s *TaskService) SetAutoDispatch(enabled bool) {
	s.autoDispatch.Store(enabled && s.dispatcher != nil)
}

// SetWorkspaces limits tasks to the workspaces in d.
func (s *TaskService) SetWorkspaces(d workspace.Directory) { s.workspaces = d }

// SetCache attaches a snapshot cache used by Get.
func (s *TaskService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.cacheTTL = ttl
}

// SetMetrics enables transition counters.
func (s *TaskService) SetMetrics(m *mcotel.Metrics) { s.metrics = m }

// List returns the tasks of a workspace.
func (s *TaskService) List(ctx context.Context, workspaceID string, filter task.ListFilter) ([]task.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, filter.Status)
	}
	return s.store.ListTasks(ctx, workspaceID, filter)
}

// Get returns a task by ID, served from the snapshot cache when possible.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cache.TaskKey(id)); err == nil && ok {
			var t task.Task
			if err := json.Unmarshal(data, &t); err == nil {
				return &t, nil
			}
		}
	}

	// Filling under the task lock keeps a concurrent transition from being
	// shadowed by a stale snapshot.
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, t)
	return t, nil
}

// Create persists a new task and records a task_created event. Creation is not
// a transition and never dispatches.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !s.workspaces.Known(req.WorkspaceID) {
		return nil, fmt.Errorf("%w: unknown workspace %q", domain.ErrValidation, req.WorkspaceID)
	}
	t, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.feed.Publish(ctx, event.Event{
		Type:    event.TypeTaskCreated,
		TaskID:  t.ID,
		AgentID: t.AssignedAgentID,
		Message: fmt.Sprintf("Task %q created", t.Title),
	})
	return t, nil
}

// Assign links the task to an agent and records a task_assigned event.
func (s *TaskService) Assign(ctx context.Context, id, agentID string) (*task.Task, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", domain.ErrValidation)
	}
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.store.AssignTask(ctx, id, agentID)
	if err != nil {
		return nil, err
	}
	s.forget(ctx, id)

	s.feed.Publish(ctx, event.Event{
		Type:    event.TypeTaskAssigned,
		TaskID:  t.ID,
		AgentID: agentID,
		Message: fmt.Sprintf("Task %q assigned to %s", t.Title, a.Name),
	})
	return t, nil
}

// Transition moves a task to newStatus and returns the updated task with the
// event it produced. Moving to the current status is rejected with
// task.ErrNoop and has no effect. When the move should hand the task to its
// agent, dispatch runs in the background; its outcome never undoes the
// transition.
func (s *TaskService) Transition(ctx context.Context, id string, newStatus task.Status) (*task.Task, *event.Event, error) {
	if !newStatus.Valid() {
		return nil, nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, newStatus)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !s.workspaces.Known(current.WorkspaceID) {
		return nil, nil, fmt.Errorf("%w: task %s belongs to unknown workspace %q", domain.ErrValidation, id, current.WorkspaceID)
	}
	oldStatus := current.Status
	if oldStatus == newStatus {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrConflict, task.ErrNoop)
	}

	ctx, span := mcotel.StartTransitionSpan(ctx, id, string(oldStatus), string(newStatus))
	defer span.End()

	updated, err := s.store.UpdateTaskStatus(ctx, id, newStatus)
	if err != nil {
		return nil, nil, fmt.Errorf("transition task: %w", err)
	}
	s.forget(ctx, id)

	evType := event.TypeTaskStatusChanged
	if newStatus == task.StatusDone {
		evType = event.TypeTaskCompleted
	}
	ev := s.feed.Publish(ctx, event.Event{
		Type:    evType,
		TaskID:  updated.ID,
		AgentID: updated.AssignedAgentID,
		Message: fmt.Sprintf("Task %q moved to %s", updated.Title, newStatus),
	})

	if s.metrics != nil {
		s.metrics.Transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(oldStatus)),
			attribute.String("to", string(newStatus)),
		))
	}

	if s.autoDispatch.Load() && dispatch.ShouldDispatch(oldStatus, newStatus, updated.AssignedAgentID) {
		s.dispatchAsync(ctx, updated)
	}
	return updated, &ev, nil
}

// Dispatch hands the task to its assigned agent now, regardless of status.
// Operators use it to re-trigger a dispatch that failed.
func (s *TaskService) Dispatch(ctx context.Context, id string) (*session.Session, error) {
	if s.dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatch is not configured", domain.ErrValidation)
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.AssignedAgentID == "" {
		return nil, fmt.Errorf("%w: task %s has no assigned agent", domain.ErrValidation, id)
	}
	return s.dispatcher.Dispatch(ctx, s.dispatchRequest(ctx, t))
}

// Wait blocks until background dispatches started so far have finished.
func (s *TaskService) Wait() {
	s.inflight.Wait()
}

func (s *TaskService) dispatchAsync(ctx context.Context, t *task.Task) {
	detached := context.WithoutCancel(ctx)
	snapshot := *t

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		req := s.dispatchRequest(detached, &snapshot)
		sess, err := s.dispatcher.Dispatch(detached, req)
		if err != nil {
			slog.Error("auto-dispatch failed", "task_id", snapshot.ID, "agent_id", snapshot.AssignedAgentID, "error", err)
			return
		}
		slog.Info("auto-dispatch completed", "task_id", snapshot.ID, "session_id", sess.ID)
	}()
}

func (s *TaskService) dispatchRequest(ctx context.Context, t *task.Task) DispatchRequest {
	name := unknownAgentName
	if a, err := s.store.GetAgent(ctx, t.AssignedAgentID); err == nil {
		name = a.Name
	} else if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("agent lookup for dispatch failed", "agent_id", t.AssignedAgentID, "error", err)
	}
	return DispatchRequest{
		TaskID:      t.ID,
		TaskTitle:   t.Title,
		AgentID:     t.AssignedAgentID,
		AgentName:   name,
		WorkspaceID: t.WorkspaceID,
	}
}

func (s *TaskService) remember(ctx context.Context, t *task.Task) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.TaskKey(t.ID), data, s.cacheTTL); err != nil {
		slog.Debug("task cache set failed", "task_id", t.ID, "error", err)
	}
}

func (s *TaskService) forget(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.TaskKey(id)); err != nil {
		slog.Warn("task cache invalidation failed", "task_id", id, "error", err)
	}
}
