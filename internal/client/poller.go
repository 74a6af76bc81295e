package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contextforge/contextforge/internal/jobs"
)

// ErrPollTimeout is returned when a job is still unfinished after the
// poller's timeout. The job itself keeps running.
var ErrPollTimeout = errors.New("client: job still running after polling timeout")

// FetchFunc returns the current state of a job.
type FetchFunc func(ctx context.Context, id string) (*jobs.Job, error)

// Poller fetches a job at a fixed interval until it reaches a terminal
// status or Timeout elapses. There is no backoff.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
	Fetch    FetchFunc
	// OnUpdate, when set, sees every fetched state, including the last.
	OnUpdate func(*jobs.Job)
}

// Presets matching the worker's typical job durations.
var (
	ImportPolling   = Poller{Interval: 2 * time.Second, Timeout: 10 * time.Minute}
	OptimizePolling = Poller{Interval: 3 * time.Second, Timeout: 5 * time.Minute}
)

// PollerFor returns the preset for a job type, bound to c.
func (c *Client) PollerFor(typ jobs.Type) Poller {
	p := ImportPolling
	if typ == jobs.TypeOptimize || typ == jobs.TypeClassify {
		p = OptimizePolling
	}
	p.Fetch = c.GetJob
	return p
}

// Wait fetches immediately and then every Interval. It returns the job once
// its status is completed or failed; every other status, including values
// it does not know, means keep polling. A fetch error stops polling.
//
// On timeout it returns the last seen job together with an error wrapping
// ErrPollTimeout.
func (p Poller) Wait(ctx context.Context, id string) (*jobs.Job, error) {
	if p.Fetch == nil {
		return nil, errors.New("client: poller has no fetch function")
	}
	if p.Interval <= 0 {
		p.Interval = ImportPolling.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = ImportPolling.Timeout
	}

	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var last *jobs.Job
	for {
		j, err := p.Fetch(ctx, id)
		if err != nil {
			return last, fmt.Errorf("fetch job %s: %w", id, err)
		}
		last = j
		if p.OnUpdate != nil {
			p.OnUpdate(j)
		}
		if j.Status.IsTerminal() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, pollTimeout(id)
		case <-ticker.C:
			// A tick that raced the deadline must not buy another fetch.
			select {
			case <-deadline.C:
				return last, pollTimeout(id)
			default:
			}
		}
	}
}

func pollTimeout(id string) error {
	return fmt.Errorf("%w: check status later with `contextforge jobs status %s`", ErrPollTimeout, id)
}
