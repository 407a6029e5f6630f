package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(90 * time.Second)
	if got := f.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now = %v, want %v", got, start.Add(90*time.Second))
	}
}

func TestFakeTickerFires(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(30 * time.Second)
	defer tk.Stop()

	f.Advance(29 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	f.Advance(time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected tick after 30s")
	}
}

func TestFakeTickerStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(time.Second)
	if f.Tickers() != 1 {
		t.Fatalf("expected 1 ticker, got %d", f.Tickers())
	}
	tk.Stop()
	if f.Tickers() != 0 {
		t.Fatalf("expected 0 tickers after Stop, got %d", f.Tickers())
	}
	f.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeAfterFuncRunsOnce(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var runs int
	f.AfterFunc(10*time.Second, func() { runs++ })
	if f.Timers() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", f.Timers())
	}

	f.Advance(9 * time.Second)
	if runs != 0 {
		t.Fatal("timer ran early")
	}
	f.Advance(time.Second)
	f.Advance(time.Minute)
	if runs != 1 {
		t.Fatalf("expected one run, got %d", runs)
	}
	if f.Timers() != 0 {
		t.Errorf("expected no pending timers, got %d", f.Timers())
	}
}

func TestFakeTimerStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tm := f.AfterFunc(time.Second, func() { t.Error("stopped timer ran") })
	if !tm.Stop() {
		t.Fatal("expected Stop to cancel a pending timer")
	}
	if tm.Stop() {
		t.Error("second Stop must report false")
	}
	f.Advance(time.Hour)
}

func TestWithTimeoutExpiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := WithTimeout(context.Background(), f, 5*time.Second)
	defer cancel()

	f.Advance(4 * time.Second)
	if ctx.Err() != nil {
		t.Fatalf("expired early: %v", ctx.Err())
	}
	f.Advance(time.Second)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context done after the timeout")
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", ctx.Err())
	}
}

func TestWithTimeoutCancel(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := WithTimeout(context.Background(), f, time.Second)
	cancel()

	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("expected Canceled, got %v", ctx.Err())
	}
	if f.Timers() != 0 {
		t.Errorf("cancel must stop the timer, %d pending", f.Timers())
	}
}
