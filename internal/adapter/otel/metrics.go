package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "missioncontrol"

// Metrics holds all Mission Control metric instruments.
type Metrics struct {
	Transitions        metric.Int64Counter
	DispatchAttempts   metric.Int64Counter
	DispatchReused     metric.Int64Counter
	DispatchFailures   metric.Int64Counter
	DispatchOrphans    metric.Int64Counter
	DispatchDuration   metric.Float64Histogram
	SessionsTerminated metric.Int64Counter
	FeedPublished      metric.Int64Counter
	FeedDropped        metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Transitions, err = meter.Int64Counter("missioncontrol.task.transitions",
		metric.WithDescription("Number of applied task status transitions"))
	if err != nil {
		return nil, err
	}

	m.DispatchAttempts, err = meter.Int64Counter("missioncontrol.dispatch.attempts",
		metric.WithDescription("Number of dispatch attempts"))
	if err != nil {
		return nil, err
	}

	m.DispatchReused, err = meter.Int64Counter("missioncontrol.dispatch.reused",
		metric.WithDescription("Dispatches answered by an existing active session"))
	if err != nil {
		return nil, err
	}

	m.DispatchFailures, err = meter.Int64Counter("missioncontrol.dispatch.failures",
		metric.WithDescription("Dispatches that failed, by reason"))
	if err != nil {
		return nil, err
	}

	m.DispatchOrphans, err = meter.Int64Counter("missioncontrol.dispatch.orphans",
		metric.WithDescription("Gateway sessions created but not recorded in the registry"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("missioncontrol.dispatch.duration_seconds",
		metric.WithDescription("Gateway create-session latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.SessionsTerminated, err = meter.Int64Counter("missioncontrol.sessions.terminated",
		metric.WithDescription("Sessions moved to a terminal status"))
	if err != nil {
		return nil, err
	}

	m.FeedPublished, err = meter.Int64Counter("missioncontrol.feed.published",
		metric.WithDescription("Events published to the live feed"))
	if err != nil {
		return nil, err
	}

	m.FeedDropped, err = meter.Int64Counter("missioncontrol.feed.dropped",
		metric.WithDescription("Events skipped for a subscriber whose buffer was full"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
