package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/contextforge/contextforge/internal/jobs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Keep-alive connections of http.DefaultTransport used by the client tests.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// sequence returns the given statuses in order, repeating the last one.
func sequence(calls *atomic.Int32, statuses ...jobs.Status) FetchFunc {
	return func(_ context.Context, id string) (*jobs.Job, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		j := &jobs.Job{ID: id, Status: statuses[n]}
		if statuses[n] == jobs.StatusCompleted {
			j.Results = json.RawMessage(`{"imported":12,"skipped":["a.md"]}`)
		}
		return j, nil
	}
}

func TestPoller_RunningTwiceThenCompleted(t *testing.T) {
	var calls atomic.Int32
	var updates []jobs.Status
	p := Poller{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Fetch:    sequence(&calls, jobs.StatusRunning, jobs.StatusRunning, jobs.StatusCompleted),
		OnUpdate: func(j *jobs.Job) { updates = append(updates, j.Status) },
	}

	start := time.Now()
	j, err := p.Wait(context.Background(), "job_1")
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "fixed interval between fetches")
	assert.Equal(t, `{"imported":12,"skipped":["a.md"]}`, string(j.Results))
	assert.Equal(t, []jobs.Status{jobs.StatusRunning, jobs.StatusRunning, jobs.StatusCompleted}, updates)
}

func TestPoller_FailedIsTerminal(t *testing.T) {
	var calls atomic.Int32
	p := Poller{Interval: time.Millisecond, Timeout: time.Second, Fetch: sequence(&calls, jobs.StatusFailed)}

	j, err := p.Wait(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, j.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoller_UnknownStatusKeepsPolling(t *testing.T) {
	var calls atomic.Int32
	p := Poller{
		Interval: time.Millisecond,
		Timeout:  time.Second,
		Fetch:    sequence(&calls, jobs.StatusPending, jobs.Status("queued"), jobs.StatusCompleted),
	}

	j, err := p.Wait(context.Background(), "job_1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, j.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoller_Timeout(t *testing.T) {
	var calls atomic.Int32
	p := Poller{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond, Fetch: sequence(&calls, jobs.StatusRunning)}

	j, err := p.Wait(context.Background(), "job_9")
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Contains(t, err.Error(), "contextforge jobs status job_9")
	require.NotNil(t, j)
	assert.Equal(t, jobs.StatusRunning, j.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestPoller_NoFetchAfterDeadline(t *testing.T) {
	// Each fetch outlasts both the interval and the timeout, so the tick
	// and the deadline are ready together when the first fetch returns.
	for i := 0; i < 20; i++ {
		var calls atomic.Int32
		running := sequence(&calls, jobs.StatusRunning)
		p := Poller{
			Interval: time.Millisecond,
			Timeout:  5 * time.Millisecond,
			Fetch: func(ctx context.Context, id string) (*jobs.Job, error) {
				time.Sleep(15 * time.Millisecond)
				return running(ctx, id)
			},
		}

		_, err := p.Wait(context.Background(), "job_1")
		require.ErrorIs(t, err, ErrPollTimeout)
		require.Equal(t, int32(1), calls.Load(), "iteration %d", i)
	}
}

func TestPoller_ContextCancelled(t *testing.T) {
	var calls atomic.Int32
	p := Poller{Interval: time.Hour, Timeout: time.Hour, Fetch: sequence(&calls, jobs.StatusRunning)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx, "job_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoller_FetchError(t *testing.T) {
	boom := errors.New("boom")
	p := Poller{
		Interval: time.Millisecond,
		Timeout:  time.Second,
		Fetch:    func(context.Context, string) (*jobs.Job, error) { return nil, boom },
	}
	_, err := p.Wait(context.Background(), "job_1")
	assert.ErrorIs(t, err, boom)

	_, err = Poller{}.Wait(context.Background(), "job_1")
	assert.Error(t, err)
}
