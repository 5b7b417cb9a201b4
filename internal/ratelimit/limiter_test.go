package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallRetriesRetryableErrors(t *testing.T) {
	l := New(4, 3, time.Millisecond)
	var attempts int32

	err := l.Call(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return &RetryableError{Err: errors.New("rate limited"), RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestCallGivesUpAfterMaxRetries(t *testing.T) {
	l := New(4, 2, time.Millisecond)
	var attempts int32

	err := l.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return &RetryableError{Err: errors.New("still limited"), RetryAfter: time.Millisecond}
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 1 initial + 2 retries = 3 attempts, got %d", attempts)
	}
}

func TestCallDoesNotRetryNonRetryableErrors(t *testing.T) {
	l := New(4, 3, time.Millisecond)
	var attempts int32
	sentinel := errors.New("permanent")

	err := l.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestCallBoundsConcurrency(t *testing.T) {
	l := New(2, 0, time.Millisecond)
	var inFlight, maxInFlight int32
	done := make(chan struct{})

	for i := 0; i < 6; i++ {
		go func() {
			_ = l.Call(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	if atomic.LoadInt32(&maxInFlight) > 2 {
		t.Fatalf("expected at most 2 concurrent calls, observed %d", maxInFlight)
	}
}
