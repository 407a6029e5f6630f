package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
)

func TestRegistryCreateRejectsSecondActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := &session.Session{TaskID: "t1", AgentID: "a1"}
	if err := env.registry.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Type != session.TypeSubagent || first.Status != session.StatusActive {
		t.Errorf("expected subagent/active defaults, got %s/%s", first.Type, first.Status)
	}
	if !first.CreatedAt.Equal(epoch) {
		t.Errorf("expected created_at from clock, got %v", first.CreatedAt)
	}

	err := env.registry.Create(ctx, &session.Session{TaskID: "t1", AgentID: "a1"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := env.registry.Create(ctx, &session.Session{TaskID: "t1", AgentID: "a1", Status: "paused"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestRegistryMarkTerminalIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := &session.Session{TaskID: "t1", AgentID: "a1"}
	if err := env.registry.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(time.Minute)
	first, err := env.registry.MarkTerminal(ctx, sess.ID, session.StatusCompleted, time.Time{})
	if err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
	if first.EndedAt == nil || !first.EndedAt.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("expected ended_at at clock time, got %v", first.EndedAt)
	}

	env.clock.Advance(time.Hour)
	second, err := env.registry.MarkTerminal(ctx, sess.ID, session.StatusCompleted, time.Time{})
	if err != nil {
		t.Fatalf("second MarkTerminal: %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("ended_at moved from %v to %v", first.EndedAt, second.EndedAt)
	}

	if _, err := env.registry.FindActive(ctx, "t1", "a1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected no active session, got %v", err)
	}
}

func TestRegistryMarkTerminalRejectsActive(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.MarkTerminal(context.Background(), "whatever", session.StatusActive, time.Time{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegistryCompleteThenDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := &session.Session{TaskID: "t1", AgentID: "a1"}
	if err := env.registry.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if _, err := env.registry.MarkTerminal(ctx, sess.ID, session.StatusCompleted, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := env.registry.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	list, err := env.registry.ListByTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no sessions for t1, got %d", len(list))
	}
	if err := env.registry.Delete(ctx, sess.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRegistryGetByGatewayID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := &session.Session{GatewaySessionID: "gw-42", TaskID: "t1", AgentID: "a1"}
	if err := env.registry.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	got, err := env.registry.Get(ctx, "gw-42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("expected %s, got %s", sess.ID, got.ID)
	}
}

func TestRegistryListActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done := &session.Session{TaskID: "t1", AgentID: "a1", WorkspaceID: "w1"}
	live := &session.Session{TaskID: "t2", AgentID: "a1", WorkspaceID: "w1"}
	for _, s := range []*session.Session{done, live} {
		if err := env.registry.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.registry.MarkTerminal(ctx, done.ID, session.StatusFailed, time.Time{}); err != nil {
		t.Fatal(err)
	}

	active, err := env.registry.ListActive(ctx, session.Filter{Status: session.StatusCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Fatalf("expected only %s, got %+v", live.ID, active)
	}
}

func TestSessionEndedSubscriber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	queue := &mockQueue{}

	sess := &session.Session{GatewaySessionID: "gw-7", TaskID: "t1", AgentID: "a1"}
	if err := env.registry.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if _, err := env.registry.StartSessionEndedSubscriber(ctx, queue); err != nil {
		t.Fatal(err)
	}

	ended := epoch.Add(5 * time.Minute)
	data, _ := json.Marshal(messagequeue.SessionEndedPayload{SessionID: "gw-7", Status: "completed", EndedAt: &ended})
	for range 2 {
		if err := queue.deliver(ctx, messagequeue.SubjectSessionEnded, data); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}

	got, _ := env.registry.Get(ctx, sess.ID)
	if got.Status != session.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("expected ended_at %v, got %v", ended, got.EndedAt)
	}

	unknown, _ := json.Marshal(messagequeue.SessionEndedPayload{SessionID: "nope", Status: "failed"})
	if err := queue.deliver(ctx, messagequeue.SubjectSessionEnded, unknown); err != nil {
		t.Errorf("unknown sessions should be acknowledged, got %v", err)
	}
	if err := queue.deliver(ctx, messagequeue.SubjectSessionEnded, []byte("{")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
