// Package counters keeps the short-lived per-user numbers behind the
// realtime dashboard: rolling counters, a bounded recent-activity list,
// active alerts, and a sliding one-minute request window.
//
// Everything lives in an ephemeral key-value store (Redis in production, an
// in-memory fake in development and tests) behind the Store interface.
package counters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotInteger = errors.New("counters: hash value is not an integer")
	ErrNoUser     = errors.New("counters: user id required")
)

// Counter fields of the per-user metrics hash.
const (
	FieldItemsProcessed     = "items_processed"
	FieldOptimizationsToday = "optimizations_today"
	FieldActiveRequests     = "active_requests"
	FieldAvgResponseTime    = "avg_response_time"
	FieldRequestsPerMinute  = "requests_per_minute"
)

// Limits and lifetimes.
const (
	ActivityCapacity = 20
	AlertCapacity    = 10
	ActivityTTL      = 24 * time.Hour
	RequestWindow    = 60 * time.Second
	WindowTTL        = 5 * time.Minute

	// MaxItemsPerEvent caps the count an item_processed event may add.
	MaxItemsPerEvent = 1_000_000

	// EMA weights of the previous average and of the new sample.
	EMAWeight    = 0.9
	SampleWeight = 0.1
)

// Store is the set of primitives the tracker needs from the ephemeral store.
// Each call is atomic on its own; a sequence of calls is not.
type Store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	// HIncrByFloor adds delta and clamps the result to floor in one step.
	HIncrByFloor(ctx context.Context, key, field string, delta, floor int64) (int64, error)
	HSet(ctx context.Context, key, field string, value float64) error

	// PushCapped prepends value and trims the list to capacity entries.
	PushCapped(ctx context.Context, key, value string, capacity int64) error
	// Range returns up to n entries, newest first.
	Range(ctx context.Context, key string, n int64) ([]string, error)

	// WindowAdd records now in the sorted set at key, drops entries older
	// than now-window, refreshes the key's ttl, and returns the remaining
	// cardinality. The whole step is atomic.
	WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error)
	// WindowCount prunes like WindowAdd without adding and returns the cardinality.
	WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	ExpireAt(ctx context.Context, key string, at time.Time) error
	Ping(ctx context.Context) error
}

func metricsKey(userID string) string  { return fmt.Sprintf("realtime:%s:metrics", userID) }
func activityKey(userID string) string { return fmt.Sprintf("realtime:%s:activity", userID) }
func alertsKey(userID string) string   { return fmt.Sprintf("realtime:%s:alerts", userID) }
func windowKey(userID string) string   { return fmt.Sprintf("realtime:%s:requests", userID) }

// EMA returns the exponential moving average after observing sample.
func EMA(old, sample float64) float64 {
	return old*EMAWeight + sample*SampleWeight
}

// NextMidnight returns the start of the day after now, in now's location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
