package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/MissionControl/internal/adapter/memory"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/gateway"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
	"github.com/Strob0t/MissionControl/internal/syncutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeGateway records create-session calls. create overrides the default
// behaviour of returning a fresh session id.
type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.CreateSessionRequest
	create   func(ctx context.Context, req gateway.CreateSessionRequest) (*gateway.CreateSessionResponse, error)

	sessions  []gateway.SessionRecord
	healthErr error
	listErr   error
	healthN   int
}

func (g *fakeGateway) CreateSession(ctx context.Context, req gateway.CreateSessionRequest) (*gateway.CreateSessionResponse, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	fn := g.create
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &gateway.CreateSessionResponse{SessionID: fmt.Sprintf("gw-%d", n), Status: "active"}, nil
}

func (g *fakeGateway) ListSessions(context.Context, gateway.ListFilter) ([]gateway.SessionRecord, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.sessions, nil
}

func (g *fakeGateway) Health(context.Context) error {
	g.mu.Lock()
	g.healthN++
	g.mu.Unlock()
	return g.healthErr
}

func (g *fakeGateway) URL() string { return "http://gateway.test" }

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// blockUntilDeadline makes CreateSession hang until its context expires.
func blockUntilDeadline(ctx context.Context, _ gateway.CreateSessionRequest) (*gateway.CreateSessionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	handlers map[string]messagequeue.Handler
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	return h(ctx, subject, data)
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// recordingHub captures broadcasts.
type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

type testEnv struct {
	clock      *clock.Fake
	store      *memory.Store
	log        *memory.EventLog
	feed       *Feed
	registry   *SessionRegistry
	gateway    *fakeGateway
	dispatcher *Dispatcher
	tasks      *TaskService
	agents     *AgentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:   clock.NewFake(epoch),
		log:     memory.NewEventLog(0),
		gateway: &fakeGateway{},
	}
	env.store = memory.New(env.clock)
	env.feed = NewFeed(env.log, env.clock, 500, 64)
	env.registry = NewSessionRegistry(env.store, env.clock)
	env.dispatcher = NewDispatcher(env.gateway, env.registry, env.feed, syncutil.NewPool(4), env.clock, time.Second)
	env.dispatcher.SetAgentStore(env.store)
	env.tasks = NewTaskService(env.store, env.feed, env.dispatcher)
	env.agents = NewAgentService(env.store, env.feed)
	return env
}

func (e *testEnv) agent(t *testing.T, name string) *agent.Agent {
	t.Helper()
	a, err := e.store.CreateAgent(context.Background(), agent.CreateRequest{WorkspaceID: "w1", Name: name})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func (e *testEnv) task(t *testing.T, title string, status task.Status, agentID string) *task.Task {
	t.Helper()
	tk, err := e.store.CreateTask(context.Background(), task.CreateRequest{
		WorkspaceID:     "w1",
		Title:           title,
		Status:          status,
		AssignedAgentID: agentID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return tk
}

// eventsOf returns retained feed events of type typ, oldest first.
func (e *testEnv) eventsOf(typ event.Type) []event.Event {
	hist := e.feed.History(event.FilterAll, 0)
	var out []event.Event
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Type == typ {
			out = append(out, hist[i])
		}
	}
	return out
}
