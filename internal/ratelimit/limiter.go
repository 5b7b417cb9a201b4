// Package ratelimit provides the shared concurrency/backoff policy used by
// every external provider call (source host, embedding, chat), factored out
// of what was per-provider duplicated retry logic.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent calls to a provider and retries transient
// failures with exponential backoff.
type Limiter struct {
	sem         *semaphore.Weighted
	maxRetries  int
	baseBackoff time.Duration
}

// New returns a Limiter allowing maxConcurrent calls in flight at once,
// retrying up to maxRetries times with backoff starting at baseBackoff.
func New(maxConcurrent, maxRetries int, baseBackoff time.Duration) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}
}

// RetryableError marks an error as transient, worth retrying with backoff.
// Call() retries while fn returns one; once retries are exhausted it returns
// the last error wrapped with the retry count, still a *RetryableError under
// errors.As.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration // zero means "use the computed backoff"
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Call acquires a concurrency slot and runs fn, retrying while fn returns a
// *RetryableError, up to maxRetries times.
func (l *Limiter) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring rate limit slot: %w", err)
	}
	defer l.sem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= l.maxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var retryable *RetryableError
		if !errors.As(err, &retryable) {
			return err
		}
		if attempt > l.maxRetries {
			break
		}

		wait := retryable.RetryAfter
		if wait <= 0 {
			wait = backoffFor(l.baseBackoff, attempt)
		}
		if sleepErr := sleepWithContext(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", l.maxRetries, lastErr)
}

// backoffFor computes exponential backoff (attempt^2 * base), capped at 16x
// base — the same shape the provider retry logic this was factored out of
// used.
func backoffFor(base time.Duration, attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * base
	cap := base * 16
	if d > cap {
		d = cap
	}
	return d
}

// RetryAfterFromHeader parses a standard HTTP Retry-After header (seconds
// or, falling back, a provider message of the form "try again in 1.2s").
func RetryAfterFromHeader(h http.Header, body string) time.Duration {
	if ra := strings.TrimSpace(h.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	bl := strings.ToLower(body)
	if idx := strings.Index(bl, "try again in "); idx >= 0 {
		rest := bl[idx+len("try again in "):]
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			token := strings.Trim(fields[0], ".,")
			if strings.HasSuffix(token, "ms") {
				if n, err := strconv.ParseFloat(strings.TrimSuffix(token, "ms"), 64); err == nil && n > 0 {
					return time.Duration(n * float64(time.Millisecond))
				}
			} else if strings.HasSuffix(token, "s") {
				if n, err := strconv.ParseFloat(strings.TrimSuffix(token, "s"), 64); err == nil && n > 0 {
					return time.Duration(n * float64(time.Second))
				}
			}
		}
	}
	return 0
}

// IsRetryableStatus reports whether an HTTP status code warrants a retry.
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
