// Package dispatch holds the pure auto-dispatch decision for task transitions.
package dispatch

import "github.com/Strob0t/MissionControl/internal/domain/task"

// ShouldDispatch reports whether moving a task from oldStatus to newStatus must
// hand it to the Gateway. Only an actual move into assigned or in_progress with
// an assigned agent qualifies.
func ShouldDispatch(oldStatus, newStatus task.Status, assignedAgentID string) bool {
	if newStatus == oldStatus || assignedAgentID == "" {
		return false
	}
	return Triggers(newStatus)
}

// Triggers reports whether entering s means an agent should now act.
func Triggers(s task.Status) bool {
	return s == task.StatusAssigned || s == task.StatusInProgress
}
