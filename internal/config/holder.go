package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Holder provides concurrent access to the current Config and reloads it
// from the original YAML path on demand.
type Holder struct {
	cur  atomic.Pointer[Config]
	path string

	mu        sync.Mutex
	listeners []func(old, next *Config)
}

// NewHolder wraps cfg, remembering path for Reload.
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.cur.Store(cfg)
	return h
}

// Get returns the current configuration. Callers must not mutate it.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// OnReload registers fn to be called after each successful reload.
func (h *Holder) OnReload(fn func(old, next *Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload re-reads defaults < YAML < ENV. On validation failure the previous
// config stays in effect.
func (h *Holder) Reload() error {
	next, err := LoadFrom(h.path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.cur.Swap(next)
	for _, fn := range h.listeners {
		fn(old, next)
	}
	return nil
}
