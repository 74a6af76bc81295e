package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/contextforge/contextforge/internal/analytics"
	"github.com/contextforge/contextforge/internal/content"
	"github.com/contextforge/contextforge/internal/counters"
)

func (c *cli) analyticsCmd() *cobra.Command {
	var rng string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Usage analytics and content insights",
	}
	cmd.PersistentFlags().StringVarP(&rng, "range", "r", "30d", "Time range, e.g. 24h, 7d, 2w, 3m")

	usage := &cobra.Command{
		Use:   "usage",
		Short: "Show usage totals and daily activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			res, err := cl.Usage(cmd.Context(), rng)
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.printJSON(res)
			}
			c.renderUsage(res)
			return nil
		},
	}

	insightsCmd := &cobra.Command{
		Use:   "insights",
		Short: "Show quality metrics and recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			res, err := cl.Insights(cmd.Context(), rng)
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.printJSON(res)
			}
			c.renderInsights(res)
			return nil
		},
	}

	cmd.AddCommand(usage, insightsCmd)
	return cmd
}

func (c *cli) realtimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Live counters and activity reporting",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show live counters, recent activity and alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			res, err := cl.Realtime(cmd.Context())
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.printJSON(res)
			}
			c.renderRealtime(res)
			return nil
		},
	}

	var (
		eventType string
		data      []string
	)
	record := &cobra.Command{
		Use:   "record",
		Short: "Report a usage event",
		Example: `  contextforge realtime record --type request_started
  contextforge realtime record --type request_completed --data responseTime=180`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseData(data)
			if err != nil {
				return err
			}
			cl, err := c.client()
			if err != nil {
				return err
			}
			if err := cl.RecordActivity(cmd.Context(), counters.Event{Type: eventType, Data: fields}); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Recorded %s\n", eventType)
			return nil
		},
	}
	record.Flags().StringVarP(&eventType, "type", "t", "", "Event type, e.g. item_processed, request_completed")
	record.Flags().StringArrayVarP(&data, "data", "d", nil, "Event data as key=value (repeatable)")
	_ = record.MarkFlagRequired("type")

	cmd.AddCommand(show, record)
	return cmd
}

// parseData turns key=value pairs into an event data map. Numeric and
// boolean values keep their type so counters can read them.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q: expected key=value", p)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func (c *cli) renderUsage(res *analytics.Result[analytics.Usage]) {
	u := res.Data
	t := u.Totals

	tw := c.newTable(fmt.Sprintf("USAGE (%s since %s)", u.Range, u.Since.Format(time.DateOnly)))
	tw.AppendHeader(rowOf("Metric", "Value"))
	tw.AppendRows([]tableRow{
		rowOf("Items", t.Items),
		rowOf("Tokens", t.Tokens),
		rowOf("Optimizations", t.Optimizations),
		rowOf("Approved", t.ApprovedOptimizations),
		rowOf("Token savings", t.TokenSavings),
		rowOf("Imports", t.Imports),
		rowOf("Imported files", t.ImportedFiles),
	})
	tw.Render()

	if len(u.ItemsByType) > 0 {
		types := make([]string, 0, len(u.ItemsByType))
		for k := range u.ItemsByType {
			types = append(types, string(k))
		}
		sort.Strings(types)

		tw = c.newTable("ITEMS BY TYPE")
		tw.AppendHeader(rowOf("Type", "Items"))
		for _, k := range types {
			tw.AppendRow(rowOf(k, u.ItemsByType[content.ItemType(k)]))
		}
		tw.Render()
	}

	if len(u.ItemsByDay)+len(u.OptimizationsByDay)+len(u.ImportsByDay) > 0 {
		tw = c.newTable("DAILY")
		tw.AppendHeader(rowOf("Date", "Items", "Tokens", "Optimizations", "Imports"))
		for _, d := range mergeDays(u) {
			tw.AppendRow(rowOf(d.date, d.items, d.tokens, d.optimizations, d.imports))
		}
		tw.Render()
	}

	c.printDegraded(res.Status, res.DegradedReads)
}

func (c *cli) renderInsights(res *analytics.Result[analytics.Insights]) {
	in := res.Data
	m := in.Metrics

	tw := c.newTable(fmt.Sprintf("INSIGHTS (%s) HEALTH %d/100", in.Range, in.HealthScore))
	tw.AppendHeader(rowOf("Metric", "Value"))
	tw.AppendRows([]tableRow{
		rowOf("Average quality", fmt.Sprintf("%.1f", m.AvgQuality)),
		rowOf("Duplicate rate", percent(m.DuplicateRate)),
		rowOf("Approval ratio", percent(m.ApprovalRatio)),
		rowOf("Clustered", percent(m.ClusteringQuality)),
		rowOf("Categorized", percent(m.ContentCoverage)),
	})
	tw.Render()

	if len(in.Recommendations) == 0 {
		fmt.Fprintln(c.out, "No recommendations.")
	} else {
		tw = c.newTable("RECOMMENDATIONS")
		tw.AppendHeader(rowOf("#", "Recommendation", "Impact", "Effort"))
		for _, r := range in.Recommendations {
			tw.AppendRow(rowOf(r.Priority, r.Title, r.Impact, r.Effort))
		}
		tw.Render()
	}

	c.printDegraded(res.Status, res.DegradedReads)
}

func (c *cli) renderRealtime(res *analytics.Result[analytics.Realtime]) {
	ct := res.Data.Counters

	tw := c.newTable("REALTIME")
	tw.AppendHeader(rowOf("Counter", "Value"))
	tw.AppendRows([]tableRow{
		rowOf("Items processed", ct.ItemsProcessed),
		rowOf("Optimizations today", ct.OptimizationsToday),
		rowOf("Active requests", ct.ActiveRequests),
		rowOf("Avg response time", fmt.Sprintf("%.0f ms", ct.AvgResponseTime)),
		rowOf("Requests / minute", ct.RequestsPerMinute),
	})
	tw.Render()

	if len(res.Data.Activity) > 0 {
		tw = c.newTable("RECENT ACTIVITY")
		tw.AppendHeader(rowOf("Time", "Type"))
		for _, ev := range res.Data.Activity {
			tw.AppendRow(rowOf(ev.Timestamp.Format(time.RFC3339), ev.Type))
		}
		tw.Render()
	}
	if len(res.Data.Alerts) > 0 {
		tw = c.newTable("ALERTS")
		tw.AppendHeader(rowOf("Time", "Severity", "Message"))
		for _, a := range res.Data.Alerts {
			tw.AppendRow(rowOf(a.Timestamp.Format(time.RFC3339), a.Severity, a.Message))
		}
		tw.Render()
	}

	c.printDegraded(res.Status, res.DegradedReads)
}

type dayRow struct {
	date          string
	items         float64
	tokens        float64
	optimizations float64
	imports       float64
}

// mergeDays joins the three daily series on their date.
func mergeDays(u analytics.Usage) []dayRow {
	byDate := make(map[string]*dayRow)
	get := func(date string) *dayRow {
		d, ok := byDate[date]
		if !ok {
			d = &dayRow{date: date}
			byDate[date] = d
		}
		return d
	}
	for _, p := range u.ItemsByDay {
		d := get(p.Date)
		d.items = p.Value(analytics.FieldCount)
		d.tokens = p.Value(analytics.FieldTokens)
	}
	for _, p := range u.OptimizationsByDay {
		get(p.Date).optimizations = p.Value(analytics.FieldCount)
	}
	for _, p := range u.ImportsByDay {
		get(p.Date).imports = p.Value(analytics.FieldCount)
	}

	rows := make([]dayRow, 0, len(byDate))
	for _, d := range byDate {
		rows = append(rows, *d)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].date < rows[j].date })
	return rows
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}
