// Package cachetest holds the behaviour every cache.Cache adapter must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/MissionControl/internal/port/cache"
)

// Run exercises c against the cache port contract. Keys are prefixed so a
// shared backend can be reused across test runs.
func Run(t *testing.T, c cache.Cache, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(k string) string { return prefix + k }

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, key(cache.TaskKey("a")), []byte(`{"id":"a"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, key(cache.TaskKey("a")))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"id":"a"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, key("task.missing"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, key("task.b"), []byte("b"), time.Minute)
		if err := c.Delete(ctx, key("task.b")); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, key("task.b")); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteUnknown", func(t *testing.T) {
		if err := c.Delete(ctx, key("task.never")); err != nil {
			t.Fatalf("Delete of unknown key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, key("task.c"), []byte("v1"), time.Minute)
		_ = c.Set(ctx, key("task.c"), []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, key("task.c"))
		if err != nil || !found {
			t.Fatalf("Get after overwrite = %v, %v", found, err)
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2, got %s", val)
		}
	})
}
