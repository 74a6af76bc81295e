package mcpserver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/contextforge/contextforge/internal/analytics"
	"github.com/contextforge/contextforge/internal/jobs"
	"github.com/contextforge/contextforge/internal/series"
)

func writeStatus[T any](sb *strings.Builder, res *analytics.Result[T]) {
	if res.Status != analytics.StatusDegraded {
		return
	}
	fmt.Fprintf(sb, "\nNote: some data was unavailable (%s); affected sections show zero.\n",
		strings.Join(res.DegradedReads, ", "))
}

func formatUsage(res *analytics.Result[analytics.Usage]) string {
	u := res.Data
	t := u.Totals

	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage for the last %s (since %s):\n", u.Range, u.Since.Format(time.DateOnly))
	fmt.Fprintf(&sb, "  Items created:    %d (%d tokens)\n", t.Items, t.Tokens)
	fmt.Fprintf(&sb, "  Optimizations:    %d (%d approved, %d tokens saved)\n",
		t.Optimizations, t.ApprovedOptimizations, t.TokenSavings)
	fmt.Fprintf(&sb, "  Imports:          %d (%d files)\n", t.Imports, t.ImportedFiles)

	if len(u.ItemsByType) > 0 {
		sb.WriteString("\nItems by type:\n")
		for _, k := range sortedKeys(u.ItemsByType) {
			fmt.Fprintf(&sb, "  %-10s %d\n", k, u.ItemsByType[k])
		}
	}
	if len(u.ItemsByDay) > 0 {
		sb.WriteString("\nItems per day:\n")
		writeSeries(&sb, u.ItemsByDay, analytics.FieldCount)
	}
	if len(u.UnknownStatuses) > 0 {
		sb.WriteString("\nRows with unrecognized status were excluded:\n")
		for _, k := range sortedKeys(u.UnknownStatuses) {
			fmt.Fprintf(&sb, "  %s: %d\n", k, u.UnknownStatuses[k])
		}
	}

	writeStatus(&sb, res)
	return sb.String()
}

func formatInsights(res *analytics.Result[analytics.Insights]) string {
	in := res.Data
	m := in.Metrics

	var sb strings.Builder
	fmt.Fprintf(&sb, "Library health: %d/100 (last %s)\n\n", in.HealthScore, in.Range)
	fmt.Fprintf(&sb, "  Average quality:    %.1f/10\n", m.AvgQuality)
	fmt.Fprintf(&sb, "  Duplicate rate:     %.0f%%\n", m.DuplicateRate*100)
	fmt.Fprintf(&sb, "  Approval ratio:     %.0f%% of %d optimizations\n", m.ApprovalRatio*100, m.TotalOptimizations)
	fmt.Fprintf(&sb, "  Clustered:          %.0f%%\n", m.ClusteringQuality*100)
	fmt.Fprintf(&sb, "  Categorized:        %.0f%%\n", m.ContentCoverage*100)

	if len(in.Recommendations) == 0 {
		sb.WriteString("\nNo recommendations.\n")
	} else {
		fmt.Fprintf(&sb, "\n%d recommendation(s):\n", len(in.Recommendations))
		for i, r := range in.Recommendations {
			fmt.Fprintf(&sb, "%d. [%s impact, %s effort] %s\n", i+1, r.Impact, r.Effort, r.Title)
			fmt.Fprintf(&sb, "   %s\n", r.Description)
			for _, a := range r.ActionItems {
				fmt.Fprintf(&sb, "   - %s\n", a)
			}
		}
	}

	if len(in.QualityTrend) > 0 {
		sb.WriteString("\nQuality trend:\n")
		writeSeries(&sb, in.QualityTrend, analytics.FieldAvgQuality)
	}

	writeStatus(&sb, res)
	return sb.String()
}

func formatRealtime(res *analytics.Result[analytics.Realtime]) string {
	c := res.Data.Counters

	var sb strings.Builder
	sb.WriteString("Realtime metrics:\n")
	fmt.Fprintf(&sb, "  Items processed:      %d\n", c.ItemsProcessed)
	fmt.Fprintf(&sb, "  Optimizations today:  %d\n", c.OptimizationsToday)
	fmt.Fprintf(&sb, "  Active requests:      %d\n", c.ActiveRequests)
	fmt.Fprintf(&sb, "  Avg response time:    %.0f ms\n", c.AvgResponseTime)
	fmt.Fprintf(&sb, "  Requests last minute: %d\n", c.RequestsPerMinute)

	if len(res.Data.Alerts) > 0 {
		fmt.Fprintf(&sb, "\n%d alert(s):\n", len(res.Data.Alerts))
		for _, a := range res.Data.Alerts {
			fmt.Fprintf(&sb, "  [%s] %s %s\n", a.Severity, a.Timestamp.Format(time.RFC3339), a.Message)
		}
	}
	if len(res.Data.Activity) > 0 {
		sb.WriteString("\nRecent activity:\n")
		for _, ev := range res.Data.Activity {
			fmt.Fprintf(&sb, "  %s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type)
		}
	}

	writeStatus(&sb, res)
	return sb.String()
}

func formatJob(j *jobs.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %s (%s): %s\n", j.ID, j.Type, j.Status)
	if j.TotalItems > 0 {
		fmt.Fprintf(&sb, "  Progress: %d/%d (%.0f%%)\n", j.ProcessedItems, j.TotalItems, j.Progress()*100)
	} else {
		fmt.Fprintf(&sb, "  Processed: %d\n", j.ProcessedItems)
	}
	if j.Error != "" {
		fmt.Fprintf(&sb, "  Error: %s\n", j.Error)
	}
	if len(j.Results) > 0 {
		fmt.Fprintf(&sb, "  Results: %s\n", j.Results)
	}
	fmt.Fprintf(&sb, "  Updated: %s\n", j.UpdatedAt.Format(time.RFC3339))
	return sb.String()
}

func formatJobList(page *jobs.Page) string {
	if len(page.Jobs) == 0 {
		return "No jobs found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d job(s):\n\n", len(page.Jobs))
	for i, j := range page.Jobs {
		fmt.Fprintf(&sb, "%d. %s  %-8s %-9s %.0f%%  created %s\n",
			i+1, j.ID, j.Type, j.Status, j.Progress()*100, j.CreatedAt.Format(time.RFC3339))
	}
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore jobs available; pass cursor %q.\n", page.NextCursor)
	}
	return sb.String()
}

func writeSeries(sb *strings.Builder, points []series.Point, field string) {
	for _, p := range points {
		fmt.Fprintf(sb, "  %s  %g\n", p.Date, p.Value(field))
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
