// Package retry waits for backing stores at startup with exponential backoff
// and jitter. Request paths never retry; they degrade instead.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration // doubled after every failed attempt
	MaxDelay    time.Duration // cap on a single sleep; 0 means no cap
}

// Startup is the policy used when connecting to Postgres, ClickHouse and
// Redis: roughly 30 seconds in total before giving up.
var Startup = Policy{MaxAttempts: 8, BaseDelay: 250 * time.Millisecond, MaxDelay: 8 * time.Second}

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0, v%n < n
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn until it succeeds, returns a *PermanentError, ctx is done, or
// p.MaxAttempts calls have failed. Sleeps carry +-25% jitter.
// onFailure, when non-nil, sees every failed attempt that will be retried.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onFailure func(attempt int, err error, next time.Duration)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts {
			break
		}

		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		jitter := delay / 4
		sleep := delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
		if onFailure != nil {
			onFailure(attempt, err, sleep)
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		delay *= 2
	}

	return err
}

// Connect waits until ping succeeds, logging each failed attempt. The
// returned error names the dependency.
func Connect(ctx context.Context, logger *slog.Logger, name string, p Policy, ping func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	err := Do(ctx, p, ping, func(attempt int, err error, next time.Duration) {
		logger.Warn("dependency not ready, retrying",
			"dependency", name, "attempt", attempt, "retry_in", next.Round(time.Millisecond), "error", err)
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	logger.Info("dependency ready", "dependency", name)
	return nil
}
