package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, open)
	b.SetClock(c.now)
	return b, c
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	assert.True(t, b.Allow("redis"))
	b.RecordFailure("redis")
	b.RecordFailure("redis")
	assert.True(t, b.Allow("redis"), "below threshold")

	b.RecordFailure("redis")
	assert.False(t, b.Allow("redis"))
	assert.Equal(t, StateOpen, b.State("redis"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, c := newTestBreaker(2, time.Second)
	b.RecordFailure("redis")
	b.RecordFailure("redis")

	c.advance(999 * time.Millisecond)
	assert.False(t, b.Allow("redis"))

	c.advance(time.Millisecond)
	require.True(t, b.Allow("redis"), "one probe after the open period")
	assert.Equal(t, StateHalfOpen, b.State("redis"))
	assert.False(t, b.Allow("redis"), "second caller waits for the probe")

	b.RecordSuccess("redis")
	assert.Equal(t, StateClosed, b.State("redis"))
	assert.True(t, b.Allow("redis"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(2, time.Second)
	b.RecordFailure("redis")
	b.RecordFailure("redis")
	c.advance(time.Second)
	require.True(t, b.Allow("redis"))

	b.RecordFailure("redis")
	assert.Equal(t, StateOpen, b.State("redis"))
	assert.False(t, b.Allow("redis"))
}

func TestBreaker_SuccessResetsAndKeysAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)

	b.RecordFailure("redis")
	b.RecordSuccess("redis")
	b.RecordFailure("redis")
	assert.True(t, b.Allow("redis"))

	b.RecordFailure("clickhouse")
	b.RecordFailure("clickhouse")
	assert.False(t, b.Allow("clickhouse"))
	assert.True(t, b.Allow("redis"))
	assert.Equal(t, StateClosed, b.State("unknown"))
}

func TestBreaker_OnTransition(t *testing.T) {
	b, c := newTestBreaker(1, time.Second)

	type change struct{ from, to State }
	var got []change
	b.OnTransition(func(_ string, from, to State) {
		got = append(got, change{from, to})
	})

	b.RecordFailure("redis")
	c.advance(time.Second)
	b.Allow("redis")
	b.RecordSuccess("redis")

	assert.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)
	boom := errors.New("boom")
	calls := 0
	fail := func() error { calls++; return boom }

	assert.ErrorIs(t, b.Execute("redis", fail, nil), boom)
	assert.ErrorIs(t, b.Execute("redis", fail, nil), boom)
	assert.ErrorIs(t, b.Execute("redis", fail, nil), ErrOpen)
	assert.Equal(t, 2, calls, "open circuit never calls fn")
}

func TestBreaker_ExecuteNeutralErrors(t *testing.T) {
	b, c := newTestBreaker(1, time.Second)
	neutral := func(err error) bool { return errors.Is(err, context.Canceled) }
	cancelled := func() error { return context.Canceled }

	require.ErrorIs(t, b.Execute("redis", cancelled, neutral), context.Canceled)
	assert.Equal(t, StateClosed, b.State("redis"))

	b.RecordFailure("redis")
	c.advance(time.Second)

	// A neutral error during the probe hands the slot to the next caller.
	require.ErrorIs(t, b.Execute("redis", cancelled, neutral), context.Canceled)
	assert.Equal(t, StateOpen, b.State("redis"))
	assert.NoError(t, b.Execute("redis", func() error { return nil }, neutral))
	assert.Equal(t, StateClosed, b.State("redis"))
}
