package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/domain/workspace"
	"github.com/Strob0t/MissionControl/internal/port/database"
)

// StatsService derives workspace header counters. The active subagent count
// is refreshed periodically rather than on every request.
type StatsService struct {
	store    database.Store
	registry *SessionRegistry
	clock    clock.Clock
	interval time.Duration
	group    singleflight.Group

	mu          sync.RWMutex
	subagents   map[string]int
	refreshedAt time.Time
}

// NewStatsService creates a StatsService refreshing every interval.
func NewStatsService(store database.Store, registry *SessionRegistry, clk clock.Clock, interval time.Duration) *StatsService {
	return &StatsService{
		store:     store,
		registry:  registry,
		clock:     clk,
		interval:  interval,
		subagents: make(map[string]int),
	}
}

// Refresh recounts active subagent sessions per workspace. Concurrent callers
// share one registry query.
func (s *StatsService) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("subagents", func() (any, error) {
		active, err := s.registry.ListActive(ctx, session.Filter{Type: session.TypeSubagent})
		if err != nil {
			return nil, fmt.Errorf("count active subagents: %w", err)
		}
		counts := make(map[string]int)
		for i := range active {
			counts[active[i].WorkspaceID]++
		}

		s.mu.Lock()
		s.subagents = counts
		s.refreshedAt = s.clock.Now().UTC()
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Run refreshes immediately and then on every tick until ctx is done.
func (s *StatsService) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Refresh(ctx); err != nil {
		slog.Warn("subagent count refresh failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := s.Refresh(ctx); err != nil {
				slog.Warn("subagent count refresh failed", "error", err)
			}
		}
	}
}

// ActiveSubagents returns the last refreshed count for a workspace and when it
// was taken.
func (s *StatsService) ActiveSubagents(workspaceID string) (int, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subagents[workspaceID], s.refreshedAt
}

// Stats computes the header counters for a workspace.
func (s *StatsService) Stats(ctx context.Context, workspaceID string) (*workspace.Stats, error) {
	agents, err := s.store.ListAgents(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	tasks, err := s.store.ListTasks(ctx, workspaceID, task.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	st := &workspace.Stats{WorkspaceID: workspaceID, TotalTasks: len(tasks)}
	for i := range agents {
		if agents[i].Status == agent.StatusWorking {
			st.WorkingAgents++
		}
	}
	for i := range tasks {
		if tasks[i].Status.Queued() {
			st.TasksInQueue++
		}
	}
	st.ActiveSubagents, st.RefreshedAt = s.ActiveSubagents(workspaceID)
	st.ActiveAgents = st.WorkingAgents + st.ActiveSubagents
	return st, nil
}
