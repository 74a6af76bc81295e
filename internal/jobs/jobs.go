// Package jobs stores and reports the records of background jobs (imports,
// optimization runs, classification, exports). Execution happens in an
// external worker; this package only owns the record and its transitions.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contextforge/contextforge/internal/insights"
	"github.com/contextforge/contextforge/internal/pagination"
)

// Errors
var (
	ErrNotFound        = errors.New("jobs: not found")
	ErrUnknownStatus   = errors.New("jobs: unknown status")
	ErrUnknownType     = errors.New("jobs: unknown type")
	ErrTerminal        = errors.New("jobs: job already finished")
	ErrInvalidProgress = errors.New("jobs: invalid progress")
	ErrTransition      = errors.New("jobs: invalid status transition")
)

// Status of a job record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus validates s against the closed set of job statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// IsTerminal reports whether no further updates are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type of work a job performs.
type Type string

const (
	TypeImport   Type = "import"
	TypeOptimize Type = "optimize"
	TypeClassify Type = "classify"
	TypeExport   Type = "export"
)

// ParseType validates s against the closed set of job types.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeImport, TypeOptimize, TypeClassify, TypeExport:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Job is the externally visible job record.
type Job struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Type           Type            `json:"type"`
	Status         Status          `json:"status"`
	TotalItems     int64           `json:"totalItems"`
	ProcessedItems int64           `json:"processedItems"`
	Results        json.RawMessage `json:"results,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Progress is processedItems/totalItems, 0 when the total is unknown.
func (j *Job) Progress() float64 {
	return insights.Ratio(j.ProcessedItems, j.TotalItems)
}

// MarshalJSON adds the derived progress field.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	return json.Marshal(struct {
		plain
		Progress float64 `json:"progress"`
	}{plain(j), j.Progress()})
}

// Store persists job records.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, j *Job) error
	// List returns up to limit jobs of userID, newest first, strictly after
	// cursor when it is non-nil.
	List(ctx context.Context, userID string, limit int, cursor *pagination.Cursor) ([]*Job, error)
}
