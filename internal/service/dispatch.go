package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/event"
	"github.com/Strob0t/MissionControl/internal/domain/session"
	"github.com/Strob0t/MissionControl/internal/logger"
	"github.com/Strob0t/MissionControl/internal/port/database"
	"github.com/Strob0t/MissionControl/internal/port/gateway"
	"github.com/Strob0t/MissionControl/internal/syncutil"
)

// ErrRegistry marks a dispatch whose Gateway session was created but could not
// be recorded. The remote session is orphaned until an operator sweeps it.
var ErrRegistry = errors.New("session registry failure")

// DispatchRequest identifies the task and agent to hand off to the Gateway.
type DispatchRequest struct {
	TaskID      string
	TaskTitle   string
	AgentID     string
	AgentName   string
	WorkspaceID string
}

// Dispatcher requests Gateway sessions for tasks and records them in the
// session registry. It never retries a failed Gateway call.
type Dispatcher struct {
	gateway  gateway.Gateway
	registry *SessionRegistry
	feed     *Feed
	pool     *syncutil.Pool
	clock    clock.Clock
	timeout  time.Duration

	agents  database.Store
	metrics *mcotel.Metrics
}

// NewDispatcher creates a Dispatcher. Each Gateway call, including the wait
// for a pool slot, is bounded by timeout.
func NewDispatcher(gw gateway.Gateway, registry *SessionRegistry, feed *Feed, pool *syncutil.Pool, clk clock.Clock, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		gateway:  gw,
		registry: registry,
		feed:     feed,
		pool:     pool,
		clock:    clk,
		timeout:  timeout,
	}
}

// SetAgentStore lets the Dispatcher mark agents as working once their session starts.
func (d *Dispatcher) SetAgentStore(store database.Store) { d.agents = store }

// SetMetrics enables dispatch metrics.
func (d *Dispatcher) SetMetrics(m *mcotel.Metrics) { d.metrics = m }

// Dispatch returns the active session for the request's (task, agent) pair,
// creating one through the Gateway when none exists. Concurrent calls for the
// same pair yield a single session. Gateway failures are returned as
// *gateway.Error and recorded as a system event.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*session.Session, error) {
	if req.TaskID == "" || req.AgentID == "" {
		return nil, fmt.Errorf("%w: dispatch requires task_id and agent_id", domain.ErrValidation)
	}

	ctx = logger.WithAttrs(ctx, slog.String("task_id", req.TaskID), slog.String("agent_id", req.AgentID))
	ctx, span := mcotel.StartDispatchSpan(ctx, req.TaskID, req.AgentID, req.WorkspaceID)
	defer span.End()

	key := session.Key{TaskID: req.TaskID, AgentID: req.AgentID}
	unlock := d.registry.lockPair(key)
	defer unlock()

	existing, err := d.registry.store.FindActive(ctx, key)
	switch {
	case err == nil:
		slog.DebugContext(ctx, "dispatch reused active session", "session_id", existing.ID)
		if d.metrics != nil {
			d.metrics.DispatchReused.Add(ctx, 1)
		}
		span.SetAttributes(attribute.Bool("dispatch.reused", true))
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("dispatch: find active session: %w", err)
	}

	if d.metrics != nil {
		d.metrics.DispatchAttempts.Add(ctx, 1)
	}

	resp, err := d.createSession(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.fail(ctx, req, err)
		return nil, err
	}

	sess := &session.Session{
		GatewaySessionID: resp.SessionID,
		WorkspaceID:      req.WorkspaceID,
		TaskID:           req.TaskID,
		AgentID:          req.AgentID,
		Type:             session.TypeSubagent,
		Status:           session.StatusActive,
		Channel:          resp.Channel,
	}
	if err := d.registry.createLocked(ctx, sess); err != nil {
		slog.ErrorContext(ctx, "dispatch could not record gateway session",
			"orphaned_gateway_session", resp.SessionID,
			"error", err,
		)
		if d.metrics != nil {
			d.metrics.DispatchOrphans.Add(ctx, 1)
		}
		span.SetStatus(codes.Error, err.Error())
		d.feed.Publish(ctx, event.Event{
			Type:      event.TypeSystem,
			TaskID:    req.TaskID,
			AgentID:   req.AgentID,
			SessionID: resp.SessionID,
			Message:   fmt.Sprintf("Gateway session %s for task %q could not be recorded and is orphaned", resp.SessionID, req.TaskTitle),
		})
		return nil, fmt.Errorf("%w: %w", ErrRegistry, err)
	}

	d.markWorking(ctx, req.AgentID)
	d.feed.Publish(ctx, event.Event{
		Type:      event.TypeAgentStatusChanged,
		TaskID:    req.TaskID,
		AgentID:   req.AgentID,
		SessionID: sess.ID,
		Message:   fmt.Sprintf("%s started working on %q (session %s)", displayName(req), req.TaskTitle, sess.GatewaySessionID),
	})

	slog.InfoContext(ctx, "task dispatched",
		"session_id", sess.ID,
		"gateway_session_id", sess.GatewaySessionID,
	)
	return sess, nil
}

// createSession calls the Gateway within the dispatch timeout and normalizes
// every failure to a *gateway.Error.
func (d *Dispatcher) createSession(ctx context.Context, req DispatchRequest) (*gateway.CreateSessionResponse, error) {
	callCtx, cancel := clock.WithTimeout(ctx, d.clock, d.timeout)
	defer cancel()

	start := d.clock.Now()
	var resp *gateway.CreateSessionResponse
	err := d.pool.Run(callCtx, func() error {
		var err error
		resp, err = d.gateway.CreateSession(callCtx, gateway.CreateSessionRequest{
			AgentID:     req.AgentID,
			AgentName:   req.AgentName,
			TaskID:      req.TaskID,
			TaskTitle:   req.TaskTitle,
			WorkspaceID: req.WorkspaceID,
		})
		return err
	})
	if d.metrics != nil {
		d.metrics.DispatchDuration.Record(ctx, d.clock.Now().Sub(start).Seconds())
	}
	if err == nil && (resp == nil || resp.SessionID == "") {
		err = &gateway.Error{Reason: gateway.ReasonRejected, Message: "gateway returned no session id"}
	}
	if err == nil {
		return resp, nil
	}

	var gerr *gateway.Error
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, &gateway.Error{Reason: gateway.ReasonTimeout, Message: fmt.Sprintf("no response within %s", d.timeout), Err: err}
	case errors.As(err, &gerr):
		return nil, gerr
	default:
		return nil, &gateway.Error{Reason: gateway.ReasonUnreachable, Message: err.Error(), Err: err}
	}
}

func (d *Dispatcher) fail(ctx context.Context, req DispatchRequest, err error) {
	reason := gateway.ReasonOf(err)
	slog.WarnContext(ctx, "dispatch failed",
		"reason", reason,
		"error", err,
	)
	if d.metrics != nil {
		d.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	}
	d.feed.Publish(ctx, event.Event{
		Type:    event.TypeSystem,
		TaskID:  req.TaskID,
		AgentID: req.AgentID,
		Message: fmt.Sprintf("Dispatch of %q to %s failed: %s", req.TaskTitle, displayName(req), err),
	})
}

func (d *Dispatcher) markWorking(ctx context.Context, agentID string) {
	if d.agents == nil {
		return
	}
	if err := d.agents.UpdateAgentStatus(ctx, agentID, agent.StatusWorking); err != nil {
		slog.WarnContext(ctx, "failed to mark agent working", "error", err)
	}
}

func displayName(req DispatchRequest) string {
	if req.AgentName != "" {
		return req.AgentName
	}
	return req.AgentID
}
