package service

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/eventstore"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
)

// Feed is the append-only, bounded live event log. Events are kept in a ring
// buffer, persisted best effort, and fanned out to subscribers in publish order.
type Feed struct {
	store     eventstore.Store
	clock     clock.Clock
	subBuffer int

	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	metrics *mcotel.Metrics

	// pubMu orders whole publishes so the ring, subscribers, the event store,
	// the hub and the queue all observe the same sequence.
	pubMu sync.Mutex

	mu      sync.Mutex
	ring    []event.Event
	head    int
	size    int
	subs    map[int]*feedSubscriber
	nextSub int
}

type feedSubscriber struct {
	filter event.Filter
	ch     chan event.Event
}

// NewFeed creates a Feed retaining up to retention events. store may be nil.
func NewFeed(store eventstore.Store, clk clock.Clock, retention, subscriberBuffer int) *Feed {
	if retention < 1 {
		retention = 1
	}
	if subscriberBuffer < 1 {
		subscriberBuffer = 1
	}
	return &Feed{
		store:     store,
		clock:     clk,
		subBuffer: subscriberBuffer,
		ring:      make([]event.Event, retention),
		subs:      make(map[int]*feedSubscriber),
	}
}

// SetBroadcaster forwards every published event to connected WebSocket clients.
func (f *Feed) SetBroadcaster(b broadcast.Broadcaster) { f.hub = b }

// SetQueue mirrors every published event to the feed.events NATS subject.
func (f *Feed) SetQueue(q messagequeue.Queue) { f.queue = q }

// SetMetrics enables feed counters.
func (f *Feed) SetMetrics(m *mcotel.Metrics) { f.metrics = m }

// Preload fills the ring with the newest persisted events so history survives
// restarts. It must be called before the first Publish.
func (f *Feed) Preload(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	events, err := f.store.Recent(ctx, len(f.ring))
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range events {
		f.push(events[i])
	}
	return nil
}

// Publish appends ev to the log and delivers it. ID and CreatedAt are
// assigned when empty. The stored event is returned. Concurrent publishes are
// serialized end to end, so a slow sink delays later publishers.
func (f *Feed) Publish(ctx context.Context, ev event.Event) event.Event {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = f.clock.Now().UTC()
	}

	f.mu.Lock()
	f.push(ev)
	var dropped int64
	for _, sub := range f.subs {
		if !sub.filter.Match(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			dropped++
		}
	}
	f.mu.Unlock()

	if f.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("type", string(ev.Type)))
		f.metrics.FeedPublished.Add(ctx, 1, attrs)
		if dropped > 0 {
			f.metrics.FeedDropped.Add(ctx, dropped, attrs)
		}
	}
	if dropped > 0 {
		slog.Debug("feed subscriber buffer full, event skipped", "event_id", ev.ID, "subscribers", dropped)
	}

	if f.store != nil {
		if err := f.store.Append(ctx, &ev); err != nil {
			slog.Warn("failed to persist feed event", "event_id", ev.ID, "type", ev.Type, "error", err)
		}
	}
	if f.hub != nil {
		f.hub.BroadcastEvent(ctx, string(ev.Type), ev)
	}
	if f.queue != nil {
		f.mirror(ctx, &ev)
	}
	return ev
}

func (f *Feed) mirror(ctx context.Context, ev *event.Event) {
	data, err := json.Marshal(messagequeue.FeedEventPayload{
		ID:        ev.ID,
		Type:      string(ev.Type),
		TaskID:    ev.TaskID,
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Message:   ev.Message,
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		slog.Error("marshal feed event", "event_id", ev.ID, "error", err)
		return
	}
	if err := f.queue.Publish(ctx, messagequeue.SubjectFeedEvent, data); err != nil {
		slog.Warn("failed to mirror feed event to queue", "event_id", ev.ID, "error", err)
	}
}

// push must be called with f.mu held.
func (f *Feed) push(ev event.Event) {
	f.ring[f.head] = ev
	f.head = (f.head + 1) % len(f.ring)
	if f.size < len(f.ring) {
		f.size++
	}
}

// History returns up to limit retained events matching filter, newest first.
// A non-positive limit returns everything retained.
func (f *Feed) History(filter event.Filter, limit int) []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit <= 0 || limit > f.size {
		limit = f.size
	}
	out := make([]event.Event, 0, limit)
	for i := 1; i <= f.size && len(out) < limit; i++ {
		ev := f.ring[(f.head-i+len(f.ring))%len(f.ring)]
		if filter.Match(ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of retained events.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Subscribe registers a subscriber immediately and returns the sequence of
// matching events published from now on, in publish order. The sequence ends
// when ctx is done or the consumer stops iterating. Events that arrive while
// the subscriber's buffer is full are skipped.
func (f *Feed) Subscribe(ctx context.Context, filter event.Filter) iter.Seq[event.Event] {
	sub := &feedSubscriber{filter: filter, ch: make(chan event.Event, f.subBuffer)}

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = sub
	f.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { f.unsubscribe(id) })

	return func(yield func(event.Event) bool) {
		defer func() {
			stop()
			f.unsubscribe(id)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.ch:
				if !ok || !yield(ev) {
					return
				}
			}
		}
	}
}

// Subscribers returns the number of live subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(sub.ch)
	}
}
