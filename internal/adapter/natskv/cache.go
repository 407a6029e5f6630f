// Package natskv implements the cache port using a NATS JetStream KV bucket,
// shared by every Mission Control replica as the L2 task snapshot cache.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/MissionControl/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// BucketOpener returns a KV bucket, creating it when missing. The NATS queue
// adapter implements it.
type BucketOpener interface {
	KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error)
}

// Cache wraps a NATS JetStream KeyValue store as an L2 cache.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Open opens (or creates) bucket with the given entry TTL and wraps it.
func Open(ctx context.Context, opener BucketOpener, bucket string, ttl time.Duration) (*Cache, error) {
	kv, err := opener.KeyValue(ctx, bucket, ttl)
	if err != nil {
		return nil, fmt.Errorf("open cache bucket: %w", err)
	}
	return New(kv), nil
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value. Expiry is the bucket TTL; the per-call ttl is ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, key, value)
	return err
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
