package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain/session"
)

// ListSessions handles GET /api/v1/sessions?session_type=&status=&agent_id=&workspace_id=
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := session.Filter{
		Type:        session.Type(q.Get("session_type")),
		Status:      session.Status(q.Get("status")),
		AgentID:     q.Get("agent_id"),
		WorkspaceID: q.Get("workspace_id"),
	}
	if filter.Type != "" && filter.Type != session.TypePrimary && filter.Type != session.TypeSubagent {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid session_type %q", filter.Type))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", filter.Status))
		return
	}

	sessions, err := h.Sessions.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{id}; id may be the local or the
// Gateway session id.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Sessions.Get, "session not found")(w, r)
}

// UpdateSession handles PATCH /api/v1/sessions/{id}. Only terminal statuses
// are accepted; repeating a terminal update returns the stored session.
func (h *Handlers) UpdateSession(w http.ResponseWriter, r *http.Request) {
	handleUpdate(func(ctx context.Context, id string, req session.UpdateRequest) (*session.Session, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		var endedAt time.Time
		if req.EndedAt != nil {
			endedAt = *req.EndedAt
		}
		return h.Sessions.MarkTerminal(ctx, id, req.Status, endedAt)
	}, "session not found")(w, r)
}

// DeleteSession handles DELETE /api/v1/sessions/{id}. The Gateway is not
// contacted.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Sessions.Delete, "session not found")(w, r)
}

