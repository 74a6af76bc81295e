package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/contextforge/contextforge/internal/idgen"
	"github.com/contextforge/contextforge/internal/metrics"
	"github.com/contextforge/contextforge/internal/pagination"
	"github.com/contextforge/contextforge/internal/syncutil"
)

// CreateRequest describes a new job.
type CreateRequest struct {
	Type       string `json:"type"`
	TotalItems int64  `json:"totalItems"`
}

// ProgressUpdate is a worker's report. Nil fields are left unchanged.
type ProgressUpdate struct {
	ProcessedItems *int64          `json:"processedItems,omitempty"`
	Status         *string         `json:"status,omitempty"`
	Results        json.RawMessage `json:"results,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// Page is one page of a job listing.
type Page struct {
	Jobs       []*Job `json:"jobs"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Service applies the job lifecycle rules on top of a Store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	locks  *syncutil.KeyLock // per job, around Progress read-modify-write
}

// NewService creates a job service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now, locks: syncutil.NewKeyLock()}
}

// timestamp is truncated to what Postgres stores so cursors round-trip.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create registers a pending job for userID.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Job, error) {
	typ, err := ParseType(req.Type)
	if err != nil {
		return nil, err
	}
	if req.TotalItems < 0 {
		return nil, fmt.Errorf("%w: totalItems must be non-negative", ErrInvalidProgress)
	}

	now := s.timestamp()
	j := &Job{
		ID:         idgen.WithPrefix("job_"),
		UserID:     userID,
		Type:       typ,
		Status:     StatusPending,
		TotalItems: req.TotalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.JobsCreatedTotal.WithLabelValues(string(typ)).Inc()
	s.logger.Info("job created", "job_id", j.ID, "type", typ, "user_id", userID)
	return j, nil
}

// Get returns a job owned by userID. Jobs of other users are reported as
// not found.
func (s *Service) Get(ctx context.Context, userID, id string) (*Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrNotFound
	}
	return j, nil
}

// List pages through userID's jobs, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int, cursor string) (*Page, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	rows, err := s.store.List(ctx, userID, limit+1, c)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	page, next, more := pagination.ComputePage(rows, limit, func(j *Job) (time.Time, string) {
		return j.CreatedAt, j.ID
	})
	if page == nil {
		page = []*Job{}
	}
	return &Page{Jobs: page, NextCursor: next, HasMore: more}, nil
}

// Progress applies a worker update. Finished jobs are immutable, processed
// counts never go backwards or past the total, and a job cannot return to
// pending once started.
func (s *Service) Progress(ctx context.Context, userID, id string, u ProgressUpdate) (*Job, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	j, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if j.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, j.ID, j.Status)
	}

	next := j.Status
	if u.Status != nil {
		if next, err = ParseStatus(*u.Status); err != nil {
			return nil, err
		}
		if next == StatusPending && j.Status != StatusPending {
			return nil, fmt.Errorf("%w: %s -> %s", ErrTransition, j.Status, next)
		}
	}

	if u.ProcessedItems != nil {
		p := *u.ProcessedItems
		switch {
		case p < j.ProcessedItems:
			return nil, fmt.Errorf("%w: processedItems went from %d to %d", ErrInvalidProgress, j.ProcessedItems, p)
		case j.TotalItems > 0 && p > j.TotalItems:
			return nil, fmt.Errorf("%w: processedItems %d exceeds totalItems %d", ErrInvalidProgress, p, j.TotalItems)
		}
		j.ProcessedItems = p
	}
	if len(u.Results) > 0 {
		if !json.Valid(u.Results) {
			return nil, fmt.Errorf("%w: results is not valid JSON", ErrInvalidProgress)
		}
		j.Results = u.Results
	}
	if u.Error != nil {
		j.Error = *u.Error
	}

	// The first report from a worker implies the job started.
	if u.Status == nil && next == StatusPending && u.ProcessedItems != nil {
		next = StatusRunning
	}

	changed := next != j.Status
	j.Status = next
	j.UpdatedAt = s.timestamp()
	if err := s.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if changed {
		metrics.JobTransitionsTotal.WithLabelValues(string(next)).Inc()
		s.logger.Info("job status changed", "job_id", j.ID, "status", next, "user_id", userID)
	}
	return j, nil
}
