// Package workspace holds derived, read-only views over a workspace.
package workspace

import "time"

// Stats summarizes a workspace for dashboard headers.
type Stats struct {
	WorkspaceID     string    `json:"workspace_id"`
	WorkingAgents   int       `json:"working_agents"`
	ActiveSubagents int       `json:"active_subagents"`
	ActiveAgents    int       `json:"active_agents"`
	TasksInQueue    int       `json:"tasks_in_queue"`
	TotalTasks      int       `json:"total_tasks"`
	RefreshedAt     time.Time `json:"subagents_refreshed_at,omitempty"`
}
