package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/MissionControl/internal/middleware"
)

// mockKV is an in-memory stand-in for a JetStream KV bucket.
type mockKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte)}
}

func (m *mockKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &mockEntry{value: v}, nil
}

func (m *mockKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return uint64(len(m.data)), nil
}

func (m *mockKV) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// mockEntry implements the Value accessor of jetstream.KeyValueEntry.
type mockEntry struct {
	jetstream.KeyValueEntry
	value []byte
}

func (e *mockEntry) Value() []byte { return e.value }

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func send(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	kv := newMockKV()
	handler := middleware.Idempotency(kv)(makeTestHandler(&counter, http.StatusCreated))

	rec := send(handler, http.MethodPost, "/api/v1/workspaces/w1/tasks", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if counter != 1 || kv.len() != 0 {
		t.Fatalf("expected 1 call and nothing stored, got %d calls, %d entries", counter, kv.len())
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	kv := newMockKV()
	handler := middleware.Idempotency(kv)(makeTestHandler(&counter, http.StatusOK))

	first := send(handler, http.MethodPatch, "/api/v1/tasks/t1", "key-2")
	second := send(handler, http.MethodPatch, "/api/v1/tasks/t1", "key-2")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
}

func TestIdempotency_KeyScopedToRoute(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMockKV())(makeTestHandler(&counter, http.StatusOK))

	send(handler, http.MethodPatch, "/api/v1/tasks/t1", "same")
	send(handler, http.MethodPatch, "/api/v1/tasks/t2", "same")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMockKV())(makeTestHandler(&counter, http.StatusOK))

	send(handler, http.MethodGet, "/api/v1/tasks/t1", "key-get")
	send(handler, http.MethodGet, "/api/v1/tasks/t1", "key-get")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_ServerErrorNotStored(t *testing.T) {
	counter := 0
	kv := newMockKV()
	handler := middleware.Idempotency(kv)(makeTestHandler(&counter, http.StatusInternalServerError))

	send(handler, http.MethodPost, "/api/v1/tasks/t1/dispatch", "retry-me")
	send(handler, http.MethodPost, "/api/v1/tasks/t1/dispatch", "retry-me")

	if counter != 2 || kv.len() != 0 {
		t.Fatalf("expected retries to reach handler, got %d calls, %d entries", counter, kv.len())
	}
}

func TestIdempotency_LookupFailureFallsThrough(t *testing.T) {
	counter := 0
	kv := newMockKV()
	kv.getErr = errors.New("nats unavailable")
	handler := middleware.Idempotency(kv)(makeTestHandler(&counter, http.StatusOK))

	rec := send(handler, http.MethodPost, "/api/v1/workspaces/w1/agents", "k")
	if rec.Code != http.StatusOK || counter != 1 {
		t.Fatalf("expected request processed, got %d with %d calls", rec.Code, counter)
	}
}
