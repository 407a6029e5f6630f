package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain/event"
)

const feedReadLimit = 1 << 20

// Run keeps the store in sync until ctx is done: it follows the live feed,
// reconnecting with exponential backoff, and polls on every tick.
func (s *Store) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.poll(ctx) })
	g.Go(func() error { return s.follow(ctx) })
	return g.Wait()
}

func (s *Store) poll(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("poll failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("poll failed", "error", err)
			}
		}
	}
}

func (s *Store) follow(ctx context.Context) error {
	backoff := s.opts.MinBackoff
	for {
		connected, err := s.stream(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = s.opts.MinBackoff
		}
		slog.Warn("live feed disconnected", "error", err, "retry_in", backoff)
		if !s.wait(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}

// stream reads the live feed until the connection fails. It reports whether
// the connection was established.
func (s *Store) stream(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, s.api.FeedURL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial feed: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(feedReadLimit)

	s.setConnected(true)
	slog.Info("live feed connected", "url", s.api.FeedURL())

	// Catch up on whatever happened while disconnected.
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("refresh after reconnect failed", "error", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("read feed: %w", err)
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("skipping malformed feed message", "error", err)
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			slog.Debug("skipping malformed feed event", "type", msg.Type, "error", err)
			continue
		}
		s.Apply(ev)
	}
}

// wait blocks for d on the store's clock. It returns false if ctx ends first.
func (s *Store) wait(ctx context.Context, d time.Duration) bool {
	t := s.clock.NewTicker(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}
