// Package database defines the task and agent persistence port.
package database

import (
	"context"

	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// Store is the port interface for task and agent CRUD.
type Store interface {
	// Tasks
	ListTasks(ctx context.Context, workspaceID string, filter task.ListFilter) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error)
	AssignTask(ctx context.Context, id, agentID string) (*task.Task, error)

	// Agents
	ListAgents(ctx context.Context, workspaceID string) ([]agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error
}
