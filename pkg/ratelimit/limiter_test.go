package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIntervalLimiter_SpacesCalls(t *testing.T) {
	interval := 20 * time.Millisecond
	l := NewIntervalLimiter(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "etherscan"); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	elapsed := time.Since(start)

	// Three calls: first is immediate, the next two each wait one interval.
	if elapsed < 2*interval {
		t.Errorf("elapsed = %v, want >= %v", elapsed, 2*interval)
	}
}

func TestIntervalLimiter_KeysAreIndependent(t *testing.T) {
	interval := 100 * time.Millisecond
	l := NewIntervalLimiter(interval)
	ctx := context.Background()

	if err := l.Acquire(ctx, "provider-a"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// A different key must not inherit provider-a's reservation.
	start := time.Now()
	if err := l.Acquire(ctx, "provider-b"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed >= interval {
		t.Errorf("provider-b waited %v behind provider-a's slot", elapsed)
	}
}

func TestIntervalLimiter_ZeroIntervalAdmitsImmediately(t *testing.T) {
	l := NewIntervalLimiter(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx, "k"); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("zero-interval limiter waited %v", elapsed)
	}
}

func TestIntervalLimiter_ContextCancelled(t *testing.T) {
	l := NewIntervalLimiter(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	// First call takes the immediate slot.
	if err := l.Acquire(ctx, "k"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx, "k")
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}
}

func TestIntervalLimiter_ConcurrentCallersQueue(t *testing.T) {
	interval := 10 * time.Millisecond
	l := NewIntervalLimiter(interval)
	ctx := context.Background()

	const callers = 5
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, "k"); err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Five concurrent callers on one key cannot finish faster than four
	// intervals after the first immediate slot.
	if elapsed := time.Since(start); elapsed < (callers-1)*interval {
		t.Errorf("elapsed = %v, want >= %v", elapsed, (callers-1)*interval)
	}
}
