package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// fakeBackend serves canned state; transition overrides TransitionTask.
type fakeBackend struct {
	mu         sync.Mutex
	tasks      []task.Task
	agents     []agent.Agent
	events     []event.Event
	listErr    error
	calls      int
	transition func(ctx context.Context, id string, status task.Status) (*task.Task, error)
	feedURL    string
}

func (b *fakeBackend) ListTasks(context.Context, string) ([]task.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]task.Task(nil), b.tasks...), nil
}

func (b *fakeBackend) ListAgents(context.Context, string) ([]agent.Agent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]agent.Agent(nil), b.agents...), nil
}

func (b *fakeBackend) ListEvents(_ context.Context, limit int) ([]event.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	evs := append([]event.Event(nil), b.events...)
	if len(evs) > limit {
		evs = evs[:limit]
	}
	return evs, nil
}

func (b *fakeBackend) TransitionTask(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	b.mu.Lock()
	b.calls++
	fn := b.transition
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, status)
	}
	return &task.Task{ID: id, Title: "server copy", Status: status}, nil
}

func (b *fakeBackend) FeedURL() string { return b.feedURL }

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, b *fakeBackend, clk clock.Clock, opts Options) *Store {
	t.Helper()
	if b.tasks == nil {
		b.tasks = []task.Task{
			{ID: "t1", Title: "Write docs", Status: task.StatusInbox, AssignedAgentID: "a1", CreatedAt: t0},
			{ID: "t2", Title: "Ship it", Status: task.StatusReview, CreatedAt: t0.Add(time.Minute)},
		}
	}
	s, err := NewStore(b, clk, opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return s
}

func status(t *testing.T, s *Store, id string) task.Status {
	t.Helper()
	tk, ok := s.Task(id)
	if !ok {
		t.Fatalf("task %s missing", id)
	}
	return tk.Status
}

func TestMoveTaskAppliesServerCopy(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})

	if err := s.MoveTask(context.Background(), "t1", task.StatusAssigned); err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	tk, _ := s.Task("t1")
	if tk.Status != task.StatusAssigned || tk.Title != "server copy" {
		t.Errorf("expected server copy in assigned, got %+v", tk)
	}
}

func TestMoveTaskRevertsOnFailure(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})
	b.transition = func(context.Context, string, task.Status) (*task.Task, error) {
		return nil, &APIError{Status: http.StatusInternalServerError, Message: "internal server error"}
	}

	err := s.MoveTask(context.Background(), "t1", task.StatusAssigned)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
	if got := status(t, s, "t1"); got != task.StatusInbox {
		t.Errorf("expected revert to inbox, got %s", got)
	}
}

func TestMoveTaskFailureKeepsNewerMove(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	b.transition = func(_ context.Context, id string, st task.Status) (*task.Task, error) {
		if st == task.StatusAssigned {
			close(entered)
			<-release
			return nil, errors.New("connection reset")
		}
		return &task.Task{ID: id, Status: st}, nil
	}

	errc := make(chan error, 1)
	go func() { errc <- s.MoveTask(context.Background(), "t1", task.StatusAssigned) }()
	<-entered
	if got := status(t, s, "t1"); got != task.StatusAssigned {
		t.Fatalf("expected optimistic assigned, got %s", got)
	}

	if err := s.MoveTask(context.Background(), "t1", task.StatusInProgress); err != nil {
		t.Fatalf("second MoveTask: %v", err)
	}
	close(release)
	if err := <-errc; err == nil {
		t.Fatal("expected the first move to fail")
	}
	if got := status(t, s, "t1"); got != task.StatusInProgress {
		t.Errorf("failed move clobbered the newer one: %s", got)
	}
}

func TestMoveTaskAlreadyThereKeepsStatus(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})
	b.transition = func(context.Context, string, task.Status) (*task.Task, error) {
		return nil, &APIError{Status: http.StatusConflict, Message: "task is done", Reason: task.ReasonNoop}
	}

	if err := s.MoveTask(context.Background(), "t1", task.StatusDone); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := status(t, s, "t1"); got != task.StatusDone {
		t.Errorf("expected done, got %s", got)
	}
}

func TestMoveTaskOtherConflictReverts(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})
	b.transition = func(context.Context, string, task.Status) (*task.Task, error) {
		return nil, &APIError{Status: http.StatusConflict, Message: "already in target state"}
	}

	if err := s.MoveTask(context.Background(), "t1", task.StatusDone); err == nil {
		t.Fatal("a conflict without the no-op reason must fail the move")
	}
	if got := status(t, s, "t1"); got != task.StatusInbox {
		t.Errorf("expected revert to inbox, got %s", got)
	}
}

func TestMoveTaskLocalChecks(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})
	ctx := context.Background()

	if err := s.MoveTask(ctx, "t1", task.StatusInbox); err != nil {
		t.Errorf("same status: %v", err)
	}
	if err := s.MoveTask(ctx, "missing", task.StatusDone); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.MoveTask(ctx, "t1", "archived"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if b.callCount() != 0 {
		t.Errorf("expected no API calls, got %d", b.callCount())
	}
}

func TestMoveTaskFailureLeavesOnlineState(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})
	b.transition = func(context.Context, string, task.Status) (*task.Task, error) {
		return nil, errors.New("boom")
	}

	if !s.IsOnline() {
		t.Fatal("expected online after a successful poll")
	}
	_ = s.MoveTask(context.Background(), "t1", task.StatusAssigned)
	if !s.IsOnline() {
		t.Error("a failed mutation must not mark the store offline")
	}
}

func TestRefreshKeepsPendingMove(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	b.transition = func(_ context.Context, id string, st task.Status) (*task.Task, error) {
		close(entered)
		<-release
		return &task.Task{ID: id, Status: st}, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.MoveTask(context.Background(), "t1", task.StatusTesting) }()
	<-entered

	// The server still reports inbox while the move is in flight.
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := status(t, s, "t1"); got != task.StatusTesting {
		t.Errorf("poll overwrote pending move: %s", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := status(t, s, "t1"); got != task.StatusTesting {
		t.Errorf("expected testing, got %s", got)
	}
}

func TestRefreshReplacesTasks(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})

	b.mu.Lock()
	b.tasks = []task.Task{{ID: "t3", Status: task.StatusPlanning, CreatedAt: t0}}
	b.agents = []agent.Agent{{ID: "a1", Name: "Ada", Status: agent.StatusWorking}}
	b.mu.Unlock()

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].ID != "t3" {
		t.Errorf("unexpected tasks %+v", tasks)
	}
	if agents := s.Agents(); len(agents) != 1 || agents[0].Name != "Ada" {
		t.Errorf("unexpected agents %+v", agents)
	}
}

func TestRefreshErrorKeepsState(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})
	b.mu.Lock()
	b.listErr = errors.New("unreachable")
	b.mu.Unlock()

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(s.Tasks()) != 2 {
		t.Errorf("expected previous tasks kept, got %d", len(s.Tasks()))
	}
}

func TestApplyDedupes(t *testing.T) {
	s := newTestStore(t, &fakeBackend{}, clock.NewFake(t0), Options{})
	ev := event.Event{ID: "e1", Type: event.TypeTaskStatusChanged, TaskID: "t1", CreatedAt: t0}

	if !s.Apply(ev) {
		t.Fatal("expected first delivery to apply")
	}
	if s.Apply(ev) {
		t.Fatal("expected redelivery to be ignored")
	}
	if s.Apply(event.Event{Type: event.TypeSystem}) {
		t.Error("expected event without id to be ignored")
	}
	if evs := s.Events(); len(evs) != 1 || evs[0].ID != "e1" {
		t.Errorf("unexpected events %+v", evs)
	}
	if !s.Stale() {
		t.Error("task event should mark the store stale")
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Stale() {
		t.Error("Refresh should clear stale")
	}
}

func TestApplyAgentEventNotStale(t *testing.T) {
	s := newTestStore(t, &fakeBackend{}, clock.NewFake(t0), Options{})
	s.Apply(event.Event{ID: "e1", Type: event.TypeAgentJoined, AgentID: "a1"})
	if s.Stale() {
		t.Error("agent event should not mark tasks stale")
	}
}

func TestApplyNewestFirstAndBounded(t *testing.T) {
	s := newTestStore(t, &fakeBackend{}, clock.NewFake(t0), Options{MaxEvents: 3})
	for i := range 5 {
		s.Apply(event.Event{ID: fmt.Sprintf("e%d", i), Type: event.TypeSystem, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	evs := s.Events()
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if evs[0].ID != "e4" || evs[2].ID != "e2" {
		t.Errorf("expected e4..e2, got %s..%s", evs[0].ID, evs[2].ID)
	}
}

func TestPolledEventsAreDeduped(t *testing.T) {
	b := &fakeBackend{events: []event.Event{
		{ID: "e2", Type: event.TypeTaskCreated, CreatedAt: t0.Add(2 * time.Second)},
		{ID: "e1", Type: event.TypeTaskCreated, CreatedAt: t0.Add(time.Second)},
	}}
	s := newTestStore(t, b, clock.NewFake(t0), Options{})

	if s.Apply(b.events[0]) {
		t.Error("polled event redelivered live should be ignored")
	}
	s.Apply(event.Event{ID: "e3", Type: event.TypeSystem, CreatedAt: t0.Add(3 * time.Second)})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	evs := s.Events()
	if len(evs) != 3 || evs[0].ID != "e3" || evs[2].ID != "e1" {
		t.Errorf("unexpected merged feed %+v", evs)
	}
}

func TestIsOnline(t *testing.T) {
	clk := clock.NewFake(t0)
	b := &fakeBackend{}
	s, err := NewStore(b, clk, Options{PollInterval: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if s.IsOnline() {
		t.Fatal("expected offline before any poll")
	}
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !s.IsOnline() {
		t.Fatal("expected online after poll")
	}

	clk.Advance(16 * time.Second)
	if s.IsOnline() {
		t.Fatal("expected offline once the last poll is outside the window")
	}

	s.setConnected(true)
	if !s.IsOnline() {
		t.Fatal("expected online while the live feed is connected")
	}
}
