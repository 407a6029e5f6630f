// Package memory implements the persistence ports in process memory. It backs
// storage.driver "memory" and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// Store holds tasks, agents and sessions behind one lock.
type Store struct {
	clock clock.Clock

	mu     sync.RWMutex
	seq    uint64
	tasks  map[string]*taskRow
	agents map[string]*agentRow

	sessions  map[string]*sessionRow
	byGateway map[string]string   // gateway session id -> id
	active    map[string]string   // session.Key -> id of the active session
	byTask    map[string][]string // task id -> session ids
}

type taskRow struct {
	seq uint64
	t   task.Task
}

type agentRow struct {
	seq uint64
	a   agent.Agent
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:     clk,
		tasks:     make(map[string]*taskRow),
		agents:    make(map[string]*agentRow),
		sessions:  make(map[string]*sessionRow),
		byGateway: make(map[string]string),
		active:    make(map[string]string),
		byTask:    make(map[string][]string),
	}
}

// nextSeq must be called with s.mu held.
func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// --- Tasks ---

func (s *Store) ListTasks(_ context.Context, workspaceID string, filter task.ListFilter) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*taskRow, 0)
	for _, r := range s.tasks {
		if r.t.WorkspaceID != workspaceID {
			continue
		}
		if filter.Status != "" && r.t.Status != filter.Status {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	out := make([]task.Task, len(rows))
	for i, r := range rows {
		out[i] = r.t
	}
	return out, nil
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
	}
	t := r.t
	return &t, nil
}

func (s *Store) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.AssignedAgentID != "" {
		if _, ok := s.agents[req.AssignedAgentID]; !ok {
			return nil, fmt.Errorf("create task: agent %s: %w", req.AssignedAgentID, domain.ErrNotFound)
		}
	}
	t := task.Task{
		ID:              uuid.NewString(),
		WorkspaceID:     req.WorkspaceID,
		Title:           req.Title,
		Description:     req.Description,
		Status:          req.Status,
		Priority:        req.Priority,
		AssignedAgentID: req.AssignedAgentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.tasks[t.ID] = &taskRow{seq: s.nextSeq(), t: t}
	return &t, nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, id string, status task.Status) (*task.Task, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("update task %s: %w", id, domain.ErrNotFound)
	}
	r.t.Status = status
	r.t.UpdatedAt = now
	t := r.t
	return &t, nil
}

func (s *Store) AssignTask(_ context.Context, id, agentID string) (*task.Task, error) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("assign task %s: %w", id, domain.ErrNotFound)
	}
	if _, ok := s.agents[agentID]; !ok {
		return nil, fmt.Errorf("assign task %s: agent %s: %w", id, agentID, domain.ErrNotFound)
	}
	r.t.AssignedAgentID = agentID
	r.t.UpdatedAt = now
	t := r.t
	return &t, nil
}

// --- Agents ---

func (s *Store) ListAgents(_ context.Context, workspaceID string) ([]agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*agentRow, 0)
	for _, r := range s.agents {
		if r.a.WorkspaceID == workspaceID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]agent.Agent, len(rows))
	for i, r := range rows {
		out[i] = r.a
	}
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
	}
	a := r.a
	return &a, nil
}

func (s *Store) CreateAgent(_ context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	a := agent.Agent{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Role:        req.Role,
		AvatarEmoji: req.AvatarEmoji,
		Status:      req.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.agents[a.ID] = &agentRow{seq: s.nextSeq(), a: a}
	return &a, nil
}

func (s *Store) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("update agent %s: %w", id, domain.ErrNotFound)
	}
	r.a.Status = status
	r.a.UpdatedAt = now
	return nil
}
