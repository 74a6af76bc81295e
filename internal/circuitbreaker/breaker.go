// Package circuitbreaker guards backing stores (Redis counters, analytics
// databases) with a per-key closed/open/half-open breaker.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute while the circuit for a key rejects calls.
var ErrOpen = errors.New("circuitbreaker: open")

// State of one key.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected until the cooldown ends
	StateHalfOpen              // a single probe is in flight
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half_open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "contextforge",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by guarded store.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state    State
	failures int // consecutive
	openedAt time.Time
}

// Breaker keeps one circuit per key. A circuit opens after threshold
// consecutive failures, rejects calls for cooldown, then lets one probe
// through: a successful probe closes it, a failed one reopens it.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	notify    func(key string, from, to State)
	now       func() time.Time
}

// New creates a breaker. Non-positive arguments fall back to 5 failures
// and 30 seconds.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// OnTransition registers fn to run on every state change. fn runs under
// the breaker lock and must not call back into b.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Execute runs fn unless the circuit for key is open, in which case it
// returns ErrOpen without calling fn. Errors for which neutral returns
// true are passed through without counting as failures.
func (b *Breaker) Execute(key string, fn func() error, neutral func(error) bool) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess(key)
	case neutral != nil && neutral(err):
		b.release(key)
	default:
		b.RecordFailure(key)
	}
	return err
}

// Allow reports whether a call for key may proceed. Once the cooldown of
// an open circuit has passed, the first caller becomes the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		b.setState(key, c, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return
	}
	c.failures = 0
	b.setState(key, c, StateClosed)
}

// RecordFailure counts a failure. A failed probe reopens the circuit
// immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
		c.openedAt = b.now()
		b.setState(key, c, StateOpen)
	}
}

// release gives up a probe slot without judging the store.
func (b *Breaker) release(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c := b.circuits[key]; c != nil && c.state == StateHalfOpen {
		c.openedAt = b.now().Add(-b.cooldown)
		b.setState(key, c, StateOpen)
	}
}

// State returns the state for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c := b.circuits[key]; c != nil {
		return c.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) setState(key string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.notify != nil {
		b.notify(key, from, to)
	}
}
