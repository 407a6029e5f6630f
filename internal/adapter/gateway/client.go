// Package gateway provides an HTTP client for the agent Gateway session API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mcotel "github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/port/gateway"
	"github.com/Strob0t/MissionControl/internal/resilience"
)

// Client talks to the Gateway over HTTP/JSON. Every failure is returned as a
// *gateway.Error.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ gateway.SessionAdmin = (*Client)(nil)

// NewClient creates a Gateway client. timeout caps a single HTTP exchange;
// callers bound whole operations through their context.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: mcotel.Transport(http.DefaultTransport),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// NewBreaker returns a breaker that opens on transport failures and Gateway
// 5xx responses. Client errors (4xx) never trip it.
func NewBreaker(maxFailures int, timeout time.Duration) *resilience.Breaker {
	return resilience.NewBreaker(maxFailures, timeout, resilience.WithTripFunc(Trips))
}

// Trips reports whether err indicates the Gateway itself is unhealthy.
func Trips(err error) bool {
	var gerr *gateway.Error
	if errors.As(err, &gerr) && gerr.Reason == gateway.ReasonRejected {
		return gerr.Status >= http.StatusInternalServerError
	}
	return true
}

// URL returns the configured base URL.
func (c *Client) URL() string { return c.baseURL }

// CreateSession asks the Gateway to start a subagent session for a task.
func (c *Client) CreateSession(ctx context.Context, req gateway.CreateSessionRequest) (*gateway.CreateSessionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal create session: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/sessions", body)
	if err != nil {
		return nil, err
	}

	var resp gateway.CreateSessionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &gateway.Error{Reason: gateway.ReasonRejected, Message: "malformed create session response", Err: err}
	}
	return &resp, nil
}

// ListSessions returns the sessions the Gateway knows about.
func (c *Client) ListSessions(ctx context.Context, filter gateway.ListFilter) ([]gateway.SessionRecord, error) {
	q := url.Values{}
	if filter.SessionType != "" {
		q.Set("session_type", filter.SessionType)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	path := "/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var sessions []gateway.SessionRecord
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, &gateway.Error{Reason: gateway.ReasonRejected, Message: "malformed session list", Err: err}
	}
	return sessions, nil
}

// UpdateSession moves a Gateway session to a terminal state.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, req gateway.UpdateSessionRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal update session: %w", err)
	}
	_, err = c.doRequest(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID), body)
	return err
}

// DeleteSession removes a Gateway session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil)
	return err
}

// Health checks if the Gateway is reachable and healthy.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

// errorBody is the Gateway's error envelope.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return &gateway.Error{Reason: gateway.ReasonUnreachable, Message: "create request", Err: err}
		}

		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transportError(ctx, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return transportError(ctx, err)
		}

		if resp.StatusCode >= 400 {
			return rejection(resp.StatusCode, data)
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		err := c.breaker.Execute(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &gateway.Error{Reason: gateway.ReasonUnreachable, Message: "circuit open", Err: err}
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func transportError(ctx context.Context, err error) *gateway.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &gateway.Error{Reason: gateway.ReasonTimeout, Message: err.Error(), Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &gateway.Error{Reason: gateway.ReasonTimeout, Message: err.Error(), Err: err}
	}
	return &gateway.Error{Reason: gateway.ReasonUnreachable, Message: err.Error(), Err: err}
}

func rejection(status int, data []byte) *gateway.Error {
	msg := strings.TrimSpace(string(data))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		msg = eb.Error
		if eb.Reason != "" {
			msg = eb.Reason + ": " + eb.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &gateway.Error{Reason: gateway.ReasonRejected, Status: status, Message: msg}
}
