// Package content reads the durable ContextForge records that analytics are
// computed from: items, optimizations, imports and audit logs.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrUnknownStatus = errors.New("content: unknown status")
	ErrUnknownType   = errors.New("content: unknown item type")
)

// ItemType classifies an item.
type ItemType string

const (
	ItemPrompt   ItemType = "prompt"
	ItemRule     ItemType = "rule"
	ItemAgent    ItemType = "agent"
	ItemTemplate ItemType = "template"
	ItemSnippet  ItemType = "snippet"
	ItemOther    ItemType = "other"
)

// ItemTypes lists every item type in display order.
var ItemTypes = []ItemType{ItemPrompt, ItemRule, ItemAgent, ItemTemplate, ItemSnippet, ItemOther}

// ParseItemType validates s against the closed set of item types.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(s); t {
	case ItemPrompt, ItemRule, ItemAgent, ItemTemplate, ItemSnippet, ItemOther:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// OptimizationStatus is the review state of an optimization suggestion.
type OptimizationStatus string

const (
	OptimizationPending  OptimizationStatus = "pending"
	OptimizationApproved OptimizationStatus = "approved"
	OptimizationRejected OptimizationStatus = "rejected"
	OptimizationApplied  OptimizationStatus = "applied"
)

// OptimizationStatuses lists every optimization status.
var OptimizationStatuses = []OptimizationStatus{
	OptimizationPending, OptimizationApproved, OptimizationRejected, OptimizationApplied,
}

// ParseOptimizationStatus validates s against the closed set of statuses.
func ParseOptimizationStatus(s string) (OptimizationStatus, error) {
	switch st := OptimizationStatus(s); st {
	case OptimizationPending, OptimizationApproved, OptimizationRejected, OptimizationApplied:
		return st, nil
	}
	return "", fmt.Errorf("%w: optimization %q", ErrUnknownStatus, s)
}

// ImportStatus is the lifecycle state of an import run.
type ImportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportRunning   ImportStatus = "running"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
)

// ImportStatuses lists every import status.
var ImportStatuses = []ImportStatus{ImportPending, ImportRunning, ImportCompleted, ImportFailed}

// ParseImportStatus validates s against the closed set of statuses.
func ParseImportStatus(s string) (ImportStatus, error) {
	switch st := ImportStatus(s); st {
	case ImportPending, ImportRunning, ImportCompleted, ImportFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: import %q", ErrUnknownStatus, s)
}

// Item is a collected prompt artifact.
type Item struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Type         ItemType  `json:"type"`
	Source       string    `json:"source"`
	Category     *string   `json:"category,omitempty"`
	ClusterID    *string   `json:"clusterId,omitempty"`
	QualityScore *float64  `json:"qualityScore,omitempty"`
	IsDuplicate  bool      `json:"isDuplicate"`
	TokenCount   int64     `json:"tokenCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Optimization is a suggested rewrite of an item.
type Optimization struct {
	ID           string             `json:"id"`
	ItemID       string             `json:"itemId"`
	UserID       string             `json:"userId"`
	Status       OptimizationStatus `json:"status"`
	Confidence   *float64           `json:"confidence,omitempty"`
	TokenSavings *int64             `json:"tokenSavings,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Import is one run of the importer.
type Import struct {
	ID             string       `json:"id"`
	UserID         string       `json:"userId"`
	Source         string       `json:"source"`
	Status         ImportStatus `json:"status"`
	TotalFiles     int64        `json:"totalFiles"`
	ProcessedFiles int64        `json:"processedFiles"`
	FailedFiles    int64        `json:"failedFiles"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// AuditLog is a user action.
type AuditLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Filter scopes every read to one user and, optionally, a start time.
type Filter struct {
	UserID string
	Since  time.Time
}

func (f Filter) match(userID string, createdAt time.Time) bool {
	if userID != f.UserID {
		return false
	}
	return f.Since.IsZero() || !createdAt.Before(f.Since)
}

// ItemStats are the aggregates the insight metrics are derived from.
type ItemStats struct {
	Total       int64   `json:"total"`
	Scored      int64   `json:"scored"`
	AvgQuality  float64 `json:"avgQuality"`
	Duplicates  int64   `json:"duplicates"`
	Clustered   int64   `json:"clustered"`
	Categorized int64   `json:"categorized"`
	TotalTokens int64   `json:"totalTokens"`
}

// Store is the read contract to the persistent store. Grouped counts return
// the raw discriminator values; Tally* validate them.
type Store interface {
	ListItems(ctx context.Context, f Filter) ([]Item, error)
	ListOptimizations(ctx context.Context, f Filter) ([]Optimization, error)
	ListImports(ctx context.Context, f Filter) ([]Import, error)

	CountItemsByType(ctx context.Context, f Filter) (map[string]int64, error)
	CountOptimizationsByStatus(ctx context.Context, f Filter) (map[string]int64, error)
	CountImportsByStatus(ctx context.Context, f Filter) (map[string]int64, error)
	CountAuditByAction(ctx context.Context, f Filter) (map[string]int64, error)
	ItemStats(ctx context.Context, f Filter) (ItemStats, error)

	InsertItem(ctx context.Context, it *Item) error
	InsertOptimization(ctx context.Context, o *Optimization) error
	InsertImport(ctx context.Context, im *Import) error
	InsertAudit(ctx context.Context, a *AuditLog) error

	Ping(ctx context.Context) error
}

// Tally is a validated grouping. Every known key is present, zero when
// absent from the source. Values outside the closed set are summed into
// Unknown and reported through Err.
type Tally[K ~string] struct {
	Counts  map[K]int64
	Unknown int64
	Err     error
}

func tally[K ~string](raw map[string]int64, known []K, parse func(string) (K, error)) Tally[K] {
	t := Tally[K]{Counts: make(map[K]int64, len(known))}
	for _, k := range known {
		t.Counts[k] = 0
	}
	var errs []error
	for s, n := range raw {
		k, err := parse(s)
		if err != nil {
			t.Unknown += n
			errs = append(errs, err)
			continue
		}
		t.Counts[k] += n
	}
	t.Err = errors.Join(errs...)
	return t
}

// TallyOptimizations validates a raw optimization status grouping.
func TallyOptimizations(raw map[string]int64) Tally[OptimizationStatus] {
	return tally(raw, OptimizationStatuses, ParseOptimizationStatus)
}

// TallyImports validates a raw import status grouping.
func TallyImports(raw map[string]int64) Tally[ImportStatus] {
	return tally(raw, ImportStatuses, ParseImportStatus)
}

// TallyItemTypes validates a raw item type grouping.
func TallyItemTypes(raw map[string]int64) Tally[ItemType] {
	return tally(raw, ItemTypes, ParseItemType)
}
