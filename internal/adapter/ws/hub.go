// Package ws implements the WebSocket adapter that streams live feed events
// to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// Message is the envelope for all WebSocket messages. Type carries the feed
// event type; Payload is the JSON-encoded event.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection and its outbound queue.
type conn struct {
	ws     *websocket.Conn
	filter event.Filter
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
// A client that cannot keep up misses messages instead of stalling the feed.
type Hub struct {
	originPatterns []string

	mu      sync.RWMutex
	conns   map[*conn]struct{}
	dropped int64
}

// NewHub creates a new WebSocket hub. originPatterns restricts the Origin
// header of upgrade requests; empty disables the check.
func NewHub(originPatterns ...string) *Hub {
	return &Hub{
		originPatterns: originPatterns,
		conns:          make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request and streams feed messages until the client
// disconnects. The optional ?filter= query (all|tasks|agents) narrows the
// stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := event.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, filter: filter, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr, "filter", filter)

	// CloseRead answers pings and cancels ctx once the peer goes away.
	ctx = ws.CloseRead(ctx)
	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast queues a message for every connection whose filter admits its type.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	var dropped int64
	for c := range h.conns {
		if !c.filter.Match(event.Type(msg.Type)) {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.mu.Lock()
		h.dropped += dropped
		h.mu.Unlock()
		slog.Debug("websocket client too slow, message skipped", "type", msg.Type, "clients", dropped)
	}
}

// BroadcastEvent marshals a typed payload and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dropped returns how many messages were skipped for slow clients.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.cancel()
		delete(h.conns, c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
