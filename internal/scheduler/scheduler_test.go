package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsImmediatelyAndOnInterval(t *testing.T) {
	var cycles atomic.Int64
	sched := New(func(context.Context, []string) {
		cycles.Add(1)
	}, zerolog.Nop())

	if err := sched.Start(context.Background(), []string{"BTC"}, 20*time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sched.Stop()

	time.Sleep(70 * time.Millisecond)

	// One immediate cycle plus at least two ticks.
	if got := cycles.Load(); got < 3 {
		t.Fatalf("expected >=3 cycles, got %d", got)
	}
}

func TestSchedulerStopPreventsFurtherCycles(t *testing.T) {
	var cycles atomic.Int64
	sched := New(func(context.Context, []string) {
		cycles.Add(1)
	}, zerolog.Nop())

	if err := sched.Start(context.Background(), []string{"BTC"}, 10*time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	sched.Stop()

	settled := cycles.Load()
	time.Sleep(50 * time.Millisecond)
	if cycles.Load() != settled {
		t.Fatalf("cycles continued after Stop: %d -> %d", settled, cycles.Load())
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	sched := New(func(context.Context, []string) {}, zerolog.Nop())
	if err := sched.Start(context.Background(), []string{"BTC"}, time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	sched.Stop()
	sched.Stop() // must not panic or block
	if sched.Status().Running {
		t.Fatal("scheduler still reports running after Stop")
	}
}

func TestSchedulerRejectsDoubleStart(t *testing.T) {
	sched := New(func(context.Context, []string) {}, zerolog.Nop())
	if err := sched.Start(context.Background(), []string{"BTC"}, time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(context.Background(), []string{"ETH"}, time.Minute); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSchedulerCyclesNeverOverlap(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool

	sched := New(func(context.Context, []string) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		// A cycle that outlasts several intervals.
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
	}, zerolog.Nop())

	if err := sched.Start(context.Background(), []string{"BTC"}, 5*time.Millisecond); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	sched.Stop()

	if overlapped.Load() {
		t.Fatal("cycles overlapped")
	}
}

func TestSchedulerStatus(t *testing.T) {
	sched := New(func(context.Context, []string) {}, zerolog.Nop())

	status := sched.Status()
	if status.Running {
		t.Fatal("fresh scheduler reports running")
	}

	if err := sched.Start(context.Background(), []string{"BTC", "ETH"}, time.Minute); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sched.Stop()

	status = sched.Status()
	if !status.Running || status.Interval != time.Minute || len(status.Symbols) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestSchedulerValidatesArguments(t *testing.T) {
	sched := New(func(context.Context, []string) {}, zerolog.Nop())
	if err := sched.Start(context.Background(), []string{"BTC"}, 0); err == nil {
		t.Fatal("zero interval must be rejected")
	}
	if err := sched.Start(context.Background(), nil, time.Minute); err == nil {
		t.Fatal("empty symbol list must be rejected")
	}
}
