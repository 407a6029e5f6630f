package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/port/database"
)

// AgentService handles agent registration and availability.
type AgentService struct {
	store database.Store
	feed  *Feed
}

// NewAgentService creates a new AgentService.
func NewAgentService(store database.Store, feed *Feed) *AgentService {
	return &AgentService{store: store, feed: feed}
}

// List returns all agents of a workspace.
func (s *AgentService) List(ctx context.Context, workspaceID string) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx, workspaceID)
}

// Get returns an agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// Create registers an agent and records an agent_joined event.
func (s *AgentService) Create(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := s.store.CreateAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	s.feed.Publish(ctx, event.Event{
		Type:    event.TypeAgentJoined,
		AgentID: a.ID,
		Message: fmt.Sprintf("%s joined the team", a.Name),
	})
	return a, nil
}

// UpdateStatus changes an agent's availability. Setting the current status
// returns the agent without recording an event.
func (s *AgentService) UpdateStatus(ctx context.Context, id string, status agent.Status) (*agent.Agent, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid agent status %q", domain.ErrValidation, status)
	}
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == status {
		return a, nil
	}

	if err := s.store.UpdateAgentStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update agent status: %w", err)
	}
	a.Status = status

	s.feed.Publish(ctx, event.Event{
		Type:    event.TypeAgentStatusChanged,
		AgentID: a.ID,
		Message: fmt.Sprintf("%s is now %s", a.Name, status),
	})
	return a, nil
}
