package counters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/contextforge/contextforge/internal/idgen"
)

// Event types understood by the tracker. Any other type is kept in the
// activity list but touches no counter.
const (
	EventItemProcessed         = "item_processed"
	EventOptimizationCompleted = "optimization_completed"
	EventRequestStarted        = "request_started"
	EventRequestCompleted      = "request_completed"
	EventErrorOccurred         = "error_occurred"
)

// Event is a client-reported usage event.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alert is pushed for error_occurred events.
type Alert struct {
	ID        string         `json:"id"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Counters is the decoded per-user metrics hash.
type Counters struct {
	ItemsProcessed     int64   `json:"itemsProcessed"`
	OptimizationsToday int64   `json:"optimizationsToday"`
	ActiveRequests     int64   `json:"activeRequests"`
	AvgResponseTime    float64 `json:"avgResponseTime"`
	RequestsPerMinute  int64   `json:"requestsPerMinute"`
}

// Tracker records usage events into a Store and reads them back.
type Tracker struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets the logger used for undecodable entries.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Store returns the underlying store.
func (t *Tracker) Store() Store { return t.store }

// Record applies ev for userID. A zero timestamp is replaced with the
// current time. The steps are individually atomic; if one fails the earlier
// ones stay applied and the error is returned.
func (t *Tracker) Record(ctx context.Context, userID string, ev Event) (Event, error) {
	if userID == "" {
		return ev, ErrNoUser
	}
	now := t.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("encode event: %w", err)
	}
	if err := t.store.PushCapped(ctx, activityKey(userID), string(raw), ActivityCapacity); err != nil {
		return ev, fmt.Errorf("push activity: %w", err)
	}
	if err := t.store.Expire(ctx, activityKey(userID), ActivityTTL); err != nil {
		return ev, fmt.Errorf("expire activity: %w", err)
	}

	mkey := metricsKey(userID)
	switch ev.Type {
	case EventItemProcessed:
		n := int64(1)
		if v, ok := number(ev.Data, "count"); ok && v >= 1 {
			n = int64(math.Min(v, MaxItemsPerEvent))
		}
		if _, err := t.store.HIncrBy(ctx, mkey, FieldItemsProcessed, n); err != nil {
			return ev, fmt.Errorf("incr %s: %w", FieldItemsProcessed, err)
		}

	case EventOptimizationCompleted:
		if _, err := t.store.HIncrBy(ctx, mkey, FieldOptimizationsToday, 1); err != nil {
			return ev, fmt.Errorf("incr %s: %w", FieldOptimizationsToday, err)
		}

	case EventRequestStarted:
		if _, err := t.store.HIncrBy(ctx, mkey, FieldActiveRequests, 1); err != nil {
			return ev, fmt.Errorf("incr %s: %w", FieldActiveRequests, err)
		}
		card, err := t.store.WindowAdd(ctx, windowKey(userID), now, RequestWindow, WindowTTL)
		if err != nil {
			return ev, fmt.Errorf("window add: %w", err)
		}
		if err := t.store.HSet(ctx, mkey, FieldRequestsPerMinute, float64(card)); err != nil {
			return ev, fmt.Errorf("set %s: %w", FieldRequestsPerMinute, err)
		}

	case EventRequestCompleted:
		if _, err := t.store.HIncrByFloor(ctx, mkey, FieldActiveRequests, -1, 0); err != nil {
			return ev, fmt.Errorf("decr %s: %w", FieldActiveRequests, err)
		}
		if sample, ok := number(ev.Data, "responseTime"); ok {
			h, err := t.store.HGetAll(ctx, mkey)
			if err != nil {
				return ev, fmt.Errorf("read metrics: %w", err)
			}
			old := storedFloat(h, FieldAvgResponseTime)
			if err := t.store.HSet(ctx, mkey, FieldAvgResponseTime, EMA(old, sample)); err != nil {
				return ev, fmt.Errorf("set %s: %w", FieldAvgResponseTime, err)
			}
		}

	case EventErrorOccurred:
		if err := t.pushAlert(ctx, userID, ev); err != nil {
			return ev, err
		}
	}

	if err := t.store.ExpireAt(ctx, mkey, NextMidnight(now)); err != nil {
		return ev, fmt.Errorf("expire metrics: %w", err)
	}
	return ev, nil
}

func (t *Tracker) pushAlert(ctx context.Context, userID string, ev Event) error {
	a := Alert{
		ID:        idgen.WithPrefix("alert_"),
		Severity:  "error",
		Message:   "An error occurred",
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	}
	if msg, ok := ev.Data["message"].(string); ok && msg != "" {
		a.Message = msg
	}
	if sev, ok := ev.Data["severity"].(string); ok && sev != "" {
		a.Severity = sev
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := t.store.PushCapped(ctx, alertsKey(userID), string(raw), AlertCapacity); err != nil {
		return fmt.Errorf("push alert: %w", err)
	}
	if err := t.store.Expire(ctx, alertsKey(userID), ActivityTTL); err != nil {
		return fmt.Errorf("expire alerts: %w", err)
	}
	return nil
}

// Counters reads the metrics hash. RequestsPerMinute is recomputed from the
// window so that it decays while the user is idle.
func (t *Tracker) Counters(ctx context.Context, userID string) (Counters, error) {
	if userID == "" {
		return Counters{}, ErrNoUser
	}
	h, err := t.store.HGetAll(ctx, metricsKey(userID))
	if err != nil {
		return Counters{}, fmt.Errorf("read metrics: %w", err)
	}
	rpm, err := t.store.WindowCount(ctx, windowKey(userID), t.now(), RequestWindow)
	if err != nil {
		return Counters{}, fmt.Errorf("window count: %w", err)
	}
	c := Counters{
		ItemsProcessed:     parseInt(h[FieldItemsProcessed]),
		OptimizationsToday: parseInt(h[FieldOptimizationsToday]),
		ActiveRequests:     parseInt(h[FieldActiveRequests]),
		RequestsPerMinute:  rpm,
	}
	c.AvgResponseTime = storedFloat(h, FieldAvgResponseTime)
	return c, nil
}

// RecentActivity returns up to ActivityCapacity events, newest first.
func (t *Tracker) RecentActivity(ctx context.Context, userID string) ([]Event, error) {
	raw, err := t.store.Range(ctx, activityKey(userID), ActivityCapacity)
	if err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			t.logger.Warn("skipping undecodable activity entry", "user_id", userID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Alerts returns up to AlertCapacity alerts, newest first.
func (t *Tracker) Alerts(ctx context.Context, userID string) ([]Alert, error) {
	raw, err := t.store.Range(ctx, alertsKey(userID), AlertCapacity)
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	out := make([]Alert, 0, len(raw))
	for _, s := range raw {
		var a Alert
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			t.logger.Warn("skipping undecodable alert entry", "user_id", userID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	// requests_per_minute is written through HSet as a float.
	f, _ := strconv.ParseFloat(s, 64)
	return int64(f)
}

// number extracts a finite numeric field from decoded JSON data.
func number(data map[string]any, key string) (float64, bool) {
	var f float64
	switch v := data[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		var err error
		if f, err = v.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(v, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// storedFloat reads a float field, treating unparsable or non-finite values as 0.
func storedFloat(h map[string]string, field string) float64 {
	f, err := strconv.ParseFloat(h[field], 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
