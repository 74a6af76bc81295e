package counters

import (
	"context"
	"errors"
	"time"

	"github.com/contextforge/contextforge/internal/circuitbreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = circuitbreaker.ErrOpen

// BreakerKey is the circuit breaker key guarding the counter store.
const BreakerKey = "counters"

// Guarded wraps a Store with a circuit breaker so that an unreachable store
// fails fast instead of stalling every realtime request.
type Guarded struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps inner.
func NewGuarded(inner Store, breaker *circuitbreaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

// Caller cancellations say nothing about store health.
func callerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (g *Guarded) call(fn func() error) error {
	return g.breaker.Execute(BreakerKey, fn, callerGaveUp)
}

func (g *Guarded) HGetAll(ctx context.Context, key string) (out map[string]string, err error) {
	err = g.call(func() error {
		out, err = g.inner.HGetAll(ctx, key)
		return err
	})
	return out, err
}

func (g *Guarded) HIncrBy(ctx context.Context, key, field string, delta int64) (v int64, err error) {
	err = g.call(func() error {
		v, err = g.inner.HIncrBy(ctx, key, field, delta)
		return err
	})
	return v, err
}

func (g *Guarded) HIncrByFloor(ctx context.Context, key, field string, delta, floor int64) (v int64, err error) {
	err = g.call(func() error {
		v, err = g.inner.HIncrByFloor(ctx, key, field, delta, floor)
		return err
	})
	return v, err
}

func (g *Guarded) HSet(ctx context.Context, key, field string, value float64) error {
	return g.call(func() error { return g.inner.HSet(ctx, key, field, value) })
}

func (g *Guarded) PushCapped(ctx context.Context, key, value string, capacity int64) error {
	return g.call(func() error { return g.inner.PushCapped(ctx, key, value, capacity) })
}

func (g *Guarded) Range(ctx context.Context, key string, n int64) (out []string, err error) {
	err = g.call(func() error {
		out, err = g.inner.Range(ctx, key, n)
		return err
	})
	return out, err
}

func (g *Guarded) WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (v int64, err error) {
	err = g.call(func() error {
		v, err = g.inner.WindowAdd(ctx, key, now, window, ttl)
		return err
	})
	return v, err
}

func (g *Guarded) WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (v int64, err error) {
	err = g.call(func() error {
		v, err = g.inner.WindowCount(ctx, key, now, window)
		return err
	})
	return v, err
}

func (g *Guarded) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return g.call(func() error { return g.inner.Expire(ctx, key, ttl) })
}

func (g *Guarded) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return g.call(func() error { return g.inner.ExpireAt(ctx, key, at) })
}

// Ping bypasses the breaker so health checks see the real store state.
func (g *Guarded) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

var _ Store = (*Guarded)(nil)
