package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/gateway"
	"github.com/Strob0t/MissionControl/internal/service"
)

// bodyLimit caps every JSON request body.
const bodyLimit int64 = 64 << 10

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps service errors onto HTTP statuses. Gateway failures
// keep their machine-readable reason so callers can tell a timeout from a
// rejection.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var gerr *gateway.Error
	switch {
	case errors.Is(err, task.ErrNoop):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already in target state", Reason: task.ReasonNoop})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified by another request")
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	case errors.As(err, &gerr):
		status := http.StatusBadGateway
		if gerr.Reason == gateway.ReasonTimeout {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorResponse{Error: gerr.Error(), Reason: string(gerr.Reason)})
	case errors.Is(err, service.ErrRegistry):
		slog.Error("session registry failure", "error", err)
		writeError(w, http.StatusInternalServerError, "session was started but could not be recorded")
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
