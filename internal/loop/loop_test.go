package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopTicksAndRunsCommands(t *testing.T) {
	var ticks atomic.Int64
	var owner int // only touched on the loop goroutine
	l := New(time.Millisecond, func(time.Time) {
		ticks.Add(1)
		owner++
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var seen int
	for i := 0; i < 3; i++ {
		if err := l.Do(ctx, func(time.Time) { seen = owner }); err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	}
	if seen < 1 {
		t.Errorf("command saw %d ticks, want at least the initial one", seen)
	}

	deadline := time.Now().Add(time.Second)
	for ticks.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ticks.Load() < 5 {
		t.Errorf("ticks = %v, want >= 5", ticks.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestDoWithoutRunningLoop(t *testing.T) {
	l := New(time.Second, func(time.Time) {})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Do(ctx, func(time.Time) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want %v", err, context.DeadlineExceeded)
	}
}
