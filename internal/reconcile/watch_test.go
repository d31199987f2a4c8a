package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	var cycles atomic.Int32
	w := NewWatcher(10*time.Millisecond, func(ctx context.Context) error {
		cycles.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Let the immediate cycle and at least one tick fire, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Good, Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher.Run did not stop after context cancellation")
	}
	if cycles.Load() < 1 {
		t.Fatalf("expected at least one cycle, got %d", cycles.Load())
	}
}

func TestWatcher_CycleErrorKeepsLooping(t *testing.T) {
	ran := make(chan struct{}, 4)
	w := NewWatcher(5*time.Millisecond, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Two cycles despite the error means the loop survived it.
	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(5 * time.Second):
			t.Fatal("cycle did not run")
		}
	}
	cancel()
	<-done
}
