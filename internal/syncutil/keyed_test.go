package syncutil

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var mu sync.Mutex
	var order []int

	unlock := km.Lock("t1")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		u := km.Lock("t1")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()
	wg.Wait()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		u := km.Lock("b")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := NewKeyedMutex()
	u := km.Lock("x")
	if km.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", km.Len())
	}
	u()
	if km.Len() != 0 {
		t.Fatalf("expected 0 entries, got %d", km.Len())
	}
}
