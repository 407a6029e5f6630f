package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/MissionControl/internal/clock"
	"github.com/Strob0t/MissionControl/internal/port/gateway"
)

type fakeAdmin struct {
	records []gateway.SessionRecord
	filter  gateway.ListFilter
	updates map[string]gateway.UpdateSessionRequest
	deleted []string
	failID  string
}

func (a *fakeAdmin) CreateSession(context.Context, gateway.CreateSessionRequest) (*gateway.CreateSessionResponse, error) {
	return nil, errors.New("not used")
}

func (a *fakeAdmin) ListSessions(_ context.Context, f gateway.ListFilter) ([]gateway.SessionRecord, error) {
	a.filter = f
	return a.records, nil
}

func (a *fakeAdmin) UpdateSession(_ context.Context, id string, req gateway.UpdateSessionRequest) error {
	if id == a.failID {
		return &gateway.Error{Reason: gateway.ReasonRejected, Status: 404, Message: "unknown session"}
	}
	if a.updates == nil {
		a.updates = make(map[string]gateway.UpdateSessionRequest)
	}
	a.updates[id] = req
	return nil
}

func (a *fakeAdmin) DeleteSession(_ context.Context, id string) error {
	a.deleted = append(a.deleted, id)
	return nil
}

func (a *fakeAdmin) Health(context.Context) error { return nil }
func (a *fakeAdmin) URL() string                  { return "http://gateway.test" }

var ctlNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGatewayList(t *testing.T) {
	admin := &fakeAdmin{records: []gateway.SessionRecord{
		{SessionID: "gw-1", TaskID: "t1", AgentID: "a1", SessionType: "subagent", Status: "active", CreatedAt: ctlNow},
	}}
	var out bytes.Buffer
	err := gatewayCommand(context.Background(), admin, clock.NewFake(ctlNow), &out, "list", gatewayOptions{status: "active", sessionType: "subagent"})
	if err != nil {
		t.Fatal(err)
	}
	if admin.filter.Status != "active" || admin.filter.SessionType != "subagent" {
		t.Errorf("filter not passed through: %+v", admin.filter)
	}
	if !strings.Contains(out.String(), "gw-1") || !strings.Contains(out.String(), "2026-03-01T12:00:00Z") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestGatewayEnd(t *testing.T) {
	admin := &fakeAdmin{}
	var out bytes.Buffer
	err := gatewayCommand(context.Background(), admin, clock.NewFake(ctlNow), &out, "end", gatewayOptions{ids: []string{"gw-1", "gw-2"}})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"gw-1", "gw-2"} {
		req, ok := admin.updates[id]
		if !ok {
			t.Fatalf("%s not updated", id)
		}
		if req.Status != "failed" || req.EndedAt == nil || !req.EndedAt.Equal(ctlNow) {
			t.Errorf("%s: unexpected update %+v", id, req)
		}
	}
}

func TestGatewayEndValidation(t *testing.T) {
	admin := &fakeAdmin{failID: "gw-bad"}
	ctx := context.Background()
	clk := clock.NewFake(ctlNow)
	var out bytes.Buffer

	if err := gatewayCommand(ctx, admin, clk, &out, "end", gatewayOptions{status: "active", ids: []string{"gw-1"}}); err == nil {
		t.Error("expected a non-terminal status to be rejected")
	}
	if err := gatewayCommand(ctx, admin, clk, &out, "end", gatewayOptions{}); err == nil {
		t.Error("expected missing ids to be rejected")
	}
	err := gatewayCommand(ctx, admin, clk, &out, "end", gatewayOptions{status: "completed", ids: []string{"gw-bad"}})
	if gateway.ReasonOf(err) != gateway.ReasonRejected {
		t.Errorf("expected the gateway rejection to surface, got %v", err)
	}
	if len(admin.updates) != 0 {
		t.Errorf("expected no updates, got %v", admin.updates)
	}
}

func TestGatewayDelete(t *testing.T) {
	admin := &fakeAdmin{}
	var out bytes.Buffer
	if err := gatewayCommand(context.Background(), admin, clock.NewFake(ctlNow), &out, "delete", gatewayOptions{ids: []string{"gw-9"}}); err != nil {
		t.Fatal(err)
	}
	if len(admin.deleted) != 1 || admin.deleted[0] != "gw-9" {
		t.Errorf("unexpected deletes %v", admin.deleted)
	}
	if err := gatewayCommand(context.Background(), admin, clock.NewFake(ctlNow), &out, "bogus", gatewayOptions{}); err == nil {
		t.Error("expected unknown command error")
	}
}
