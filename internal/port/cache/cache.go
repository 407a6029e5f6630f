// Package cache is the port for task snapshot caching. Values are opaque
// JSON blobs; the task store stays the source of truth, so a cache error is
// always treated as a miss by callers.
package cache

import (
	"context"
	"time"
)

// TaskKeyPrefix namespaces task snapshots. NATS KV keys may not contain
// spaces or wildcards, so ids are used verbatim after the prefix.
const TaskKeyPrefix = "task."

// TaskKey returns the cache key for a task snapshot.
func TaskKey(taskID string) string { return TaskKeyPrefix + taskID }

// Cache stores task snapshots keyed by TaskKey.
type Cache interface {
	// Get reports a miss or an expired entry as found=false with a nil error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value for ttl. A zero ttl keeps the entry until evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete drops key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
