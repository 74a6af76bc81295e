// Package analytics assembles the dashboard payloads: usage over a time
// range, content insights, and the realtime counters.
//
// Every read against a backing store runs in parallel. A failed read does
// not fail the request; its section is left at zero and the read is named in
// the result's DegradedReads, so callers can tell "no usage" apart from
// "usage unavailable".
package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/contextforge/contextforge/internal/content"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/insights"
	"github.com/contextforge/contextforge/internal/series"
)

// Status of a Result.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Result wraps a payload with its completeness.
type Result[T any] struct {
	Data          T        `json:"data"`
	Status        Status   `json:"status"`
	DegradedReads []string `json:"degradedReads,omitempty"`
}

// Read names, reported in DegradedReads.
const (
	ReadItems                 = "items"
	ReadItemsByType           = "itemsByType"
	ReadItemStats             = "itemStats"
	ReadOptimizations         = "optimizations"
	ReadOptimizationsByStatus = "optimizationsByStatus"
	ReadImports               = "imports"
	ReadImportsByStatus       = "importsByStatus"
	ReadActivityByAction      = "activityByAction"
	ReadCounters              = "counters"
	ReadActivity              = "activity"
	ReadAlerts                = "alerts"
)

// Totals are the headline numbers of the usage payload.
type Totals struct {
	Items                 int64 `json:"items"`
	Tokens                int64 `json:"tokens"`
	Optimizations         int64 `json:"optimizations"`
	ApprovedOptimizations int64 `json:"approvedOptimizations"`
	TokenSavings          int64 `json:"tokenSavings"`
	Imports               int64 `json:"imports"`
	ImportedFiles         int64 `json:"importedFiles"`
}

// Usage is the payload of GET /v1/analytics/usage.
type Usage struct {
	Range                 string                               `json:"range"`
	Since                 time.Time                            `json:"since"`
	Totals                Totals                               `json:"totals"`
	ItemsByType           map[content.ItemType]int64           `json:"itemsByType"`
	ItemsByDay            []series.Point                       `json:"itemsByDay"`
	OptimizationsByDay    []series.Point                       `json:"optimizationsByDay"`
	ImportsByDay          []series.Point                       `json:"importsByDay"`
	ActivityByAction      map[string]int64                     `json:"activityByAction"`
	OptimizationsByStatus map[content.OptimizationStatus]int64 `json:"optimizationsByStatus"`
	ImportsByStatus       map[content.ImportStatus]int64       `json:"importsByStatus"`
	UnknownStatuses       map[string]int64                     `json:"unknownStatuses,omitempty"`
}

// Insights is the payload of GET /v1/analytics/insights.
type Insights struct {
	Range           string                    `json:"range"`
	Since           time.Time                 `json:"since"`
	Stats           content.ItemStats         `json:"stats"`
	Metrics         insights.Metrics          `json:"metrics"`
	Recommendations []insights.Recommendation `json:"recommendations"`
	QualityTrend    []series.Point            `json:"qualityTrend"`
	HealthScore     int                       `json:"healthScore"`
}

// Realtime is the payload of GET /v1/analytics/realtime.
type Realtime struct {
	Counters counters.Counters `json:"counters"`
	Activity []counters.Event  `json:"activity"`
	Alerts   []counters.Alert  `json:"alerts"`
}

// Series field names.
const (
	FieldCount         = "count"
	FieldTokens        = "tokens"
	FieldApproved      = "approved"
	FieldAvgConfidence = "avgConfidence"
	FieldFiles         = "files"
	FieldAvgProcessed  = "avgProcessed"
	FieldAvgQuality    = "avgQuality"
)

// degraded collects the names of failed reads from concurrent goroutines.
type degraded struct {
	mu    sync.Mutex
	names []string
}

func (d *degraded) add(name string) {
	d.mu.Lock()
	d.names = append(d.names, name)
	d.mu.Unlock()
}

func (d *degraded) has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.names {
		if n == name {
			return true
		}
	}
	return false
}

func result[T any](data T, d *degraded) Result[T] {
	if len(d.names) == 0 {
		return Result[T]{Data: data, Status: StatusOK}
	}
	names := append([]string(nil), d.names...)
	sort.Strings(names)
	return Result[T]{Data: data, Status: StatusDegraded, DegradedReads: names}
}
