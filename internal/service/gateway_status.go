package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/MissionControl/internal/port/gateway"
)

// GatewayStatus reports Gateway connectivity for the dashboard.
type GatewayStatus struct {
	Connected     bool                    `json:"connected"`
	SessionsCount int                     `json:"sessions_count"`
	Sessions      []gateway.SessionRecord `json:"sessions,omitempty"`
	GatewayURL    string                  `json:"gateway_url"`
	Error         string                  `json:"error,omitempty"`
}

// GatewayProbe checks Gateway health on demand. Overlapping checks share a
// single round trip.
type GatewayProbe struct {
	gateway gateway.Gateway
	timeout time.Duration
	group   singleflight.Group
}

// NewGatewayProbe creates a probe whose checks are bounded by timeout.
func NewGatewayProbe(gw gateway.Gateway, timeout time.Duration) *GatewayProbe {
	return &GatewayProbe{gateway: gw, timeout: timeout}
}

// Status connects to the Gateway and lists its sessions.
func (p *GatewayProbe) Status(ctx context.Context) *GatewayStatus {
	v, _, _ := p.group.Do("status", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.check(ctx), nil
	})
	return v.(*GatewayStatus)
}

func (p *GatewayProbe) check(ctx context.Context) *GatewayStatus {
	st := &GatewayStatus{GatewayURL: p.gateway.URL()}

	if err := p.gateway.Health(ctx); err != nil {
		slog.Warn("gateway health check failed", "url", st.GatewayURL, "error", err)
		st.Error = "Failed to connect to Gateway"
		return st
	}
	st.Connected = true

	sessions, err := p.gateway.ListSessions(ctx, gateway.ListFilter{})
	if err != nil {
		slog.Warn("gateway session listing failed", "url", st.GatewayURL, "error", err)
		st.Error = "Connected but failed to list sessions"
		return st
	}
	st.Sessions = sessions
	st.SessionsCount = len(sessions)
	return st
}
