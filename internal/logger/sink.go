package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DebugEntry is one captured log record.
type DebugEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// DebugSink is a slog.Handler that keeps the most recent records in memory
// and streams new ones to subscribers. It backs the debug log endpoint.
type DebugSink struct {
	state *sinkState
	attrs []slog.Attr
	group string
}

type sinkState struct {
	mu      sync.Mutex
	level   slog.Level
	ring    []DebugEntry
	head    int
	size    int
	nextSub int
	subs    map[int]chan DebugEntry
}

// NewDebugSink returns a sink retaining up to capacity records at or above level.
func NewDebugSink(capacity int, level slog.Level) *DebugSink {
	if capacity < 1 {
		capacity = 1
	}
	return &DebugSink{state: &sinkState{
		level: level,
		ring:  make([]DebugEntry, capacity),
		subs:  make(map[int]chan DebugEntry),
	}}
}

func (s *DebugSink) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.state.level
}

func (s *DebugSink) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	entry := DebugEntry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
	}
	n := len(s.attrs) + rec.NumAttrs()
	if n > 0 {
		entry.Attrs = make(map[string]any, n)
		for _, a := range s.attrs {
			entry.Attrs[s.key(a.Key)] = a.Value.Resolve().Any()
		}
		rec.Attrs(func(a slog.Attr) bool {
			entry.Attrs[s.key(a.Key)] = a.Value.Resolve().Any()
			return true
		})
	}
	s.state.push(entry)
	return nil
}

func (s *DebugSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, 0, len(s.attrs)+len(attrs))
	next = append(next, s.attrs...)
	for _, a := range attrs {
		a.Key = s.key(a.Key)
		next = append(next, a)
	}
	return &DebugSink{state: s.state, attrs: next}
}

func (s *DebugSink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return &DebugSink{state: s.state, attrs: s.attrs, group: s.key(name)}
}

func (s *DebugSink) key(k string) string {
	if s.group == "" {
		return k
	}
	return s.group + "." + k
}

// Entries returns the retained records, oldest first.
func (s *DebugSink) Entries() []DebugEntry {
	st := s.state
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]DebugEntry, 0, st.size)
	start := (st.head - st.size + len(st.ring)) % len(st.ring)
	for i := range st.size {
		out = append(out, st.ring[(start+i)%len(st.ring)])
	}
	return out
}

// Subscribe streams records logged after the call until ctx is done.
// Slow readers miss records rather than blocking the logger.
func (s *DebugSink) Subscribe(ctx context.Context) <-chan DebugEntry {
	st := s.state
	ch := make(chan DebugEntry, 16)

	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch
	st.mu.Unlock()

	go func() {
		<-ctx.Done()
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (st *sinkState) push(e DebugEntry) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.ring[st.head] = e
	st.head = (st.head + 1) % len(st.ring)
	if st.size < len(st.ring) {
		st.size++
	}
	for _, ch := range st.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
