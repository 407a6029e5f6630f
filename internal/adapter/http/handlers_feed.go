package http

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain/event"
)

const (
	defaultEventLimit = 50
	defaultHeartbeat  = 30 * time.Second
)

// ListEvents handles GET /api/v1/events?filter=&limit=. Events are returned
// newest first.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := event.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.Feed.History(filter, limit))
}

// StreamEvents handles GET /api/v1/events/stream as Server-Sent Events. A
// reconnecting client sending Last-Event-ID first receives the retained
// events it missed, oldest first.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := event.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribing before reading history leaves no gap; the overlap is
	// filtered by id below.
	live := pump(ctx, h.Feed.Subscribe(ctx, filter))
	missed := missedSince(h.Feed.History(filter, 0), r.Header.Get("Last-Event-ID"))
	sent := make(map[string]struct{}, len(missed))

	startSSE(w)
	for i := range missed {
		if err := writeSSE(w, string(missed[i].Type), missed[i].ID, missed[i]); err != nil {
			return
		}
		sent[missed[i].ID] = struct{}{}
	}
	flusher.Flush()

	heartbeat := h.clk().NewTicker(h.heartbeat())
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if _, dup := sent[ev.ID]; dup {
				continue
			}
			if err := writeSSE(w, string(ev.Type), ev.ID, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C():
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// DebugLogs handles GET /api/v1/debug/logs: the retained log records followed
// by new ones as Server-Sent Events.
func (h *Handlers) DebugLogs(w http.ResponseWriter, r *http.Request) {
	if h.Debug == nil {
		writeError(w, http.StatusNotFound, "debug log stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	live := h.Debug.Subscribe(ctx)

	startSSE(w)
	for _, entry := range h.Debug.Entries() {
		if err := writeSSE(w, "log", "", entry); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := h.clk().NewTicker(h.heartbeat())
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-live:
			if !ok {
				return
			}
			if err := writeSSE(w, "log", "", entry); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C():
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handlers) heartbeat() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return defaultHeartbeat
}

func (h *Handlers) clk() clock.Clock {
	if h.Clock != nil {
		return h.Clock
	}
	return clock.Real()
}

// pump moves a feed sequence onto a channel so it can be selected on.
func pump(ctx context.Context, seq iter.Seq[event.Event]) <-chan event.Event {
	ch := make(chan event.Event)
	go func() {
		defer close(ch)
		for ev := range seq {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// missedSince returns the events newer than lastID, oldest first. history is
// newest first. An unknown or empty lastID yields nothing.
func missedSince(history []event.Event, lastID string) []event.Event {
	if lastID == "" {
		return nil
	}
	idx := slices.IndexFunc(history, func(ev event.Event) bool { return ev.ID == lastID })
	if idx <= 0 {
		return nil
	}
	missed := slices.Clone(history[:idx])
	slices.Reverse(missed)
	return missed
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeSSE(w http.ResponseWriter, name, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
