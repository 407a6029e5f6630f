package client

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// Backend is the part of the API the store depends on.
type Backend interface {
	ListTasks(ctx context.Context, workspaceID string) ([]task.Task, error)
	ListAgents(ctx context.Context, workspaceID string) ([]agent.Agent, error)
	ListEvents(ctx context.Context, limit int) ([]event.Event, error)
	TransitionTask(ctx context.Context, taskID string, status task.Status) (*task.Task, error)
	FeedURL() string
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	WorkspaceID  string
	PollInterval time.Duration // default 5s
	OnlineWindow time.Duration // how long a successful poll counts as online; default 3 polls
	MaxEvents    int           // local feed length; default 100
	DedupeSize   int           // event ids remembered for dedupe; default 1024
	MinBackoff   time.Duration // default 1s
	MaxBackoff   time.Duration // default 30s
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.OnlineWindow <= 0 {
		o.OnlineWindow = 3 * o.PollInterval
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = 100
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 1024
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(30*time.Second, o.MinBackoff)
	}
	return o
}

// taskEntry is the local copy of a task. gen counts optimistic writes so a
// failing mutation only reverts its own value; pending counts in-flight
// mutations whose optimistic value a poll must not overwrite.
type taskEntry struct {
	task    task.Task
	gen     uint64
	pending int
}

// Store is the client's local copy of a workspace. Task moves are applied
// locally first and reverted when the server rejects them; the live feed and
// polls keep everything else in line with the server.
type Store struct {
	api   Backend
	clock clock.Clock
	opts  Options
	seen  *lru.Cache[string, struct{}]

	mu        sync.Mutex
	tasks     map[string]*taskEntry
	agents    []agent.Agent
	events    []event.Event // newest first
	stale     bool
	connected bool
	lastPoll  time.Time
}

// NewStore creates an empty Store. Call Refresh or Run to populate it.
func NewStore(api Backend, clk clock.Clock, opts Options) (*Store, error) {
	if clk == nil {
		clk = clock.Real()
	}
	opts = opts.withDefaults()
	seen, err := lru.New[string, struct{}](opts.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("event dedupe cache: %w", err)
	}
	return &Store{
		api:   api,
		clock: clk,
		opts:  opts,
		seen:  seen,
		tasks: make(map[string]*taskEntry),
	}, nil
}

// MoveTask moves a task to status. The local copy changes at once; if the
// server rejects the move it is reverted, unless a later move has replaced
// the optimistic value in the meantime. Moving to the current status does
// nothing.
func (s *Store) MoveTask(ctx context.Context, taskID string, status task.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}

	s.mu.Lock()
	e, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	prev := e.task.Status
	if prev == status {
		s.mu.Unlock()
		return nil
	}
	e.task.Status = status
	e.gen++
	e.pending++
	gen := e.gen
	s.mu.Unlock()

	updated, err := s.api.TransitionTask(ctx, taskID, status)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.pending--
	if err != nil && !alreadyThere(err) {
		if e.gen == gen && e.task.Status == status {
			e.task.Status = prev
		}
		return fmt.Errorf("move task %s to %s: %w", taskID, status, err)
	}
	if updated != nil && e.gen == gen {
		e.task = *updated
	}
	return nil
}

// alreadyThere reports whether the server refused a move because the task
// already has the requested status, which leaves the optimistic value right.
func alreadyThere(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Reason == task.ReasonNoop
}

// Apply records a feed event. Redelivered events are ignored; it reports
// whether ev was new. Task events mark the task list stale until the next
// Refresh.
func (s *Store) Apply(ev event.Event) bool {
	if ev.ID == "" {
		return false
	}
	if seen, _ := s.seen.ContainsOrAdd(ev.ID, struct{}{}); seen {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = slices.Insert(s.events, 0, ev)
	if len(s.events) > s.opts.MaxEvents {
		s.events = s.events[:s.opts.MaxEvents]
	}
	if ev.TaskID != "" || event.FilterTasks.Match(ev.Type) {
		s.stale = true
	}
	return true
}

// Refresh replaces the local state with the server's. Tasks with a move in
// flight keep their optimistic status.
func (s *Store) Refresh(ctx context.Context) error {
	tasks, err := s.api.ListTasks(ctx, s.opts.WorkspaceID)
	if err != nil {
		return fmt.Errorf("refresh tasks: %w", err)
	}
	agents, err := s.api.ListAgents(ctx, s.opts.WorkspaceID)
	if err != nil {
		return fmt.Errorf("refresh agents: %w", err)
	}
	events, err := s.api.ListEvents(ctx, s.opts.MaxEvents)
	if err != nil {
		return fmt.Errorf("refresh events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*taskEntry, len(tasks))
	for i := range tasks {
		e, ok := s.tasks[tasks[i].ID]
		if !ok {
			next[tasks[i].ID] = &taskEntry{task: tasks[i]}
			continue
		}
		if e.pending == 0 {
			e.task = tasks[i]
		}
		next[tasks[i].ID] = e
	}
	for id, e := range s.tasks {
		if _, ok := next[id]; !ok && e.pending > 0 {
			next[id] = e
		}
	}
	s.tasks = next
	s.agents = agents
	s.mergeEvents(events)
	s.stale = false
	s.lastPoll = s.clock.Now()
	return nil
}

// mergeEvents unions polled events with those received live, newest first.
func (s *Store) mergeEvents(polled []event.Event) {
	have := make(map[string]struct{}, len(s.events))
	for i := range s.events {
		have[s.events[i].ID] = struct{}{}
	}
	for i := range polled {
		s.seen.Add(polled[i].ID, struct{}{})
		if _, ok := have[polled[i].ID]; !ok {
			s.events = append(s.events, polled[i])
		}
	}
	slices.SortStableFunc(s.events, func(a, b event.Event) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(s.events) > s.opts.MaxEvents {
		s.events = s.events[:s.opts.MaxEvents]
	}
}

// IsOnline reports feed health: a connected live feed, or a poll that
// succeeded within the online window. Mutation failures do not affect it.
func (s *Store) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return true
	}
	return !s.lastPoll.IsZero() && s.clock.Now().Sub(s.lastPoll) <= s.opts.OnlineWindow
}

// Stale reports whether task events arrived since the last Refresh.
func (s *Store) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

func (s *Store) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Task returns the local copy of a task.
func (s *Store) Task(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return e.task, true
}

// Tasks returns the local tasks, oldest first.
func (s *Store) Tasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.task)
	}
	slices.SortFunc(out, func(a, b task.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Agents returns the agents from the last Refresh.
func (s *Store) Agents() []agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.agents)
}

// Events returns the local feed, newest first.
func (s *Store) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}
