package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/contextforge/contextforge/internal/content"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/insights"
	"github.com/contextforge/contextforge/internal/logging"
	"github.com/contextforge/contextforge/internal/metrics"
	"github.com/contextforge/contextforge/internal/realtime"
	"github.com/contextforge/contextforge/internal/series"
	"github.com/contextforge/contextforge/internal/timerange"
	"github.com/contextforge/contextforge/internal/traces"
)

// Publisher receives every recorded activity event.
type Publisher interface {
	Publish(ev *realtime.Event)
}

// Service builds analytics payloads.
type Service struct {
	content   content.Store
	tracker   *counters.Tracker
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates an analytics service. publisher may be nil.
func NewService(store content.Store, tracker *counters.Tracker, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		content:   store,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// read wraps one store call for an errgroup. Store failures are recorded in
// d and swallowed; cancellation of ctx is returned so the request aborts.
func (s *Service) read(ctx context.Context, d *degraded, name string, fn func(context.Context) error) func() error {
	return func() error {
		ctx, span := traces.StartSpan(ctx, "analytics.read", traces.Read(name))
		defer span.End()

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		d.add(name)
		metrics.DegradedReadsTotal.WithLabelValues(name).Inc()
		logging.L(ctx).Warn("analytics read degraded", "read", name, "error", err)
		return nil
	}
}

// countUnknown records values outside a closed set without failing the
// payload.
func (s *Service) countUnknown(ctx context.Context, entity string, unknown int64, err error, into map[string]int64) {
	if unknown == 0 {
		return
	}
	into[entity] += unknown
	metrics.UnknownStatusTotal.WithLabelValues(entity).Add(float64(unknown))
	logging.L(ctx).Warn("rows with unknown status", "entity", entity, "count", unknown, "error", err)
}

// Usage aggregates content activity for userID over rng (see timerange).
func (s *Service) Usage(ctx context.Context, userID, rng string) (Result[Usage], error) {
	rng = timerange.Normalize(rng)
	ctx, span := traces.StartSpan(ctx, "analytics.Usage", traces.UserID(userID), traces.Range(rng))
	defer span.End()

	now := s.now().UTC()
	f := content.Filter{UserID: userID, Since: timerange.Since(now, rng)}

	var (
		items    []content.Item
		opts     []content.Optimization
		imports  []content.Import
		byType   map[string]int64
		byOpt    map[string]int64
		byImport map[string]int64
		byAction map[string]int64
	)
	d := &degraded{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.read(gctx, d, ReadItems, func(ctx context.Context) (err error) {
		items, err = s.content.ListItems(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadOptimizations, func(ctx context.Context) (err error) {
		opts, err = s.content.ListOptimizations(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadImports, func(ctx context.Context) (err error) {
		imports, err = s.content.ListImports(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadItemsByType, func(ctx context.Context) (err error) {
		byType, err = s.content.CountItemsByType(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadOptimizationsByStatus, func(ctx context.Context) (err error) {
		byOpt, err = s.content.CountOptimizationsByStatus(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadImportsByStatus, func(ctx context.Context) (err error) {
		byImport, err = s.content.CountImportsByStatus(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadActivityByAction, func(ctx context.Context) (err error) {
		byAction, err = s.content.CountAuditByAction(ctx, f)
		return err
	}))
	if err := g.Wait(); err != nil {
		return Result[Usage]{}, err
	}

	u := Usage{
		Range:            rng,
		Since:            f.Since,
		ActivityByAction: map[string]int64{},
		UnknownStatuses:  map[string]int64{},
	}
	for action, n := range byAction {
		u.ActivityByAction[action] = n
	}

	types := content.TallyItemTypes(byType)
	u.ItemsByType = types.Counts
	s.countUnknown(ctx, "item_type", types.Unknown, types.Err, u.UnknownStatuses)

	optStatus := content.TallyOptimizations(byOpt)
	u.OptimizationsByStatus = optStatus.Counts
	s.countUnknown(ctx, "optimization", optStatus.Unknown, optStatus.Err, u.UnknownStatuses)

	importStatus := content.TallyImports(byImport)
	u.ImportsByStatus = importStatus.Counts
	s.countUnknown(ctx, "import", importStatus.Unknown, importStatus.Err, u.UnknownStatuses)

	var err error
	if u.ItemsByDay, err = itemsByDay(items); err != nil {
		return Result[Usage]{}, err
	}
	if u.OptimizationsByDay, err = optimizationsByDay(opts); err != nil {
		return Result[Usage]{}, err
	}
	if u.ImportsByDay, err = importsByDay(imports); err != nil {
		return Result[Usage]{}, err
	}

	for _, it := range items {
		u.Totals.Items++
		u.Totals.Tokens += it.TokenCount
	}
	for _, o := range opts {
		u.Totals.Optimizations++
		if o.Status == content.OptimizationApproved {
			u.Totals.ApprovedOptimizations++
		}
		if o.TokenSavings != nil {
			u.Totals.TokenSavings += *o.TokenSavings
		}
	}
	for _, im := range imports {
		u.Totals.Imports++
		u.Totals.ImportedFiles += im.ProcessedFiles
	}

	return result(u, d), nil
}

func itemsByDay(items []content.Item) ([]series.Point, error) {
	pts, err := series.Build(items,
		func(it content.Item) time.Time { return it.CreatedAt },
		series.Count[content.Item](FieldCount),
		series.Sum(FieldTokens, func(it content.Item) (float64, bool) {
			return float64(it.TokenCount), true
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("items by day: %w", err)
	}
	return pts, nil
}

func optimizationsByDay(opts []content.Optimization) ([]series.Point, error) {
	pts, err := series.Build(opts,
		func(o content.Optimization) time.Time { return o.CreatedAt },
		series.Count[content.Optimization](FieldCount),
		series.CountIf(FieldApproved, func(o content.Optimization) bool {
			return o.Status == content.OptimizationApproved
		}),
		series.Average(FieldAvgConfidence, func(o content.Optimization) (float64, bool) {
			if o.Confidence == nil {
				return 0, false
			}
			return *o.Confidence, true
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("optimizations by day: %w", err)
	}
	return pts, nil
}

func importsByDay(imports []content.Import) ([]series.Point, error) {
	pts, err := series.Build(imports,
		func(im content.Import) time.Time { return im.CreatedAt },
		series.Count[content.Import](FieldCount),
		series.Sum(FieldFiles, func(im content.Import) (float64, bool) {
			return float64(im.TotalFiles), true
		}),
		series.Average(FieldAvgProcessed, func(im content.Import) (float64, bool) {
			return float64(im.ProcessedFiles), true
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("imports by day: %w", err)
	}
	return pts, nil
}

// Insights derives content-health metrics and recommendations for userID.
func (s *Service) Insights(ctx context.Context, userID, rng string) (Result[Insights], error) {
	rng = timerange.Normalize(rng)
	ctx, span := traces.StartSpan(ctx, "analytics.Insights", traces.UserID(userID), traces.Range(rng))
	defer span.End()

	now := s.now().UTC()
	f := content.Filter{UserID: userID, Since: timerange.Since(now, rng)}

	var (
		stats content.ItemStats
		items []content.Item
		byOpt map[string]int64
	)
	d := &degraded{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.read(gctx, d, ReadItemStats, func(ctx context.Context) (err error) {
		stats, err = s.content.ItemStats(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadItems, func(ctx context.Context) (err error) {
		items, err = s.content.ListItems(ctx, f)
		return err
	}))
	g.Go(s.read(gctx, d, ReadOptimizationsByStatus, func(ctx context.Context) (err error) {
		byOpt, err = s.content.CountOptimizationsByStatus(ctx, f)
		return err
	}))
	if err := g.Wait(); err != nil {
		return Result[Insights]{}, err
	}

	optStatus := content.TallyOptimizations(byOpt)
	unknown := map[string]int64{}
	s.countUnknown(ctx, "optimization", optStatus.Unknown, optStatus.Err, unknown)

	var totalOpts int64
	for _, n := range optStatus.Counts {
		totalOpts += n
	}
	totalOpts += optStatus.Unknown

	m := insights.Metrics{
		AvgQuality:         stats.AvgQuality,
		DuplicateRate:      insights.Ratio(stats.Duplicates, stats.Total),
		ApprovalRatio:      insights.Ratio(optStatus.Counts[content.OptimizationApproved], totalOpts),
		TotalOptimizations: totalOpts,
		ClusteringQuality:  insights.Ratio(stats.Clustered, stats.Total),
		ContentCoverage:    insights.Ratio(stats.Categorized, stats.Total),
	}

	trend, err := series.Build(items,
		func(it content.Item) time.Time { return it.CreatedAt },
		series.Average(FieldAvgQuality, func(it content.Item) (float64, bool) {
			if it.QualityScore == nil {
				return 0, false
			}
			return *it.QualityScore, true
		}),
		series.Count[content.Item](FieldCount),
	)
	if err != nil {
		return Result[Insights]{}, fmt.Errorf("quality trend: %w", err)
	}

	recs := insights.Recommend(m)
	if recs == nil {
		recs = []insights.Recommendation{}
	}
	// A failed stats read would otherwise turn zero metrics into a full
	// set of alarming recommendations.
	if d.has(ReadItemStats) {
		recs = []insights.Recommendation{}
	}

	out := Insights{
		Range:           rng,
		Since:           f.Since,
		Stats:           stats,
		Metrics:         m,
		Recommendations: recs,
		QualityTrend:    trend,
		HealthScore:     insights.HealthScore(m),
	}
	return result(out, d), nil
}

// Realtime returns the live counters, recent activity and alerts of userID.
// An unavailable counter store degrades each part to its zero value.
func (s *Service) Realtime(ctx context.Context, userID string) (Result[Realtime], error) {
	ctx, span := traces.StartSpan(ctx, "analytics.Realtime", traces.UserID(userID))
	defer span.End()

	rt := Realtime{Activity: []counters.Event{}, Alerts: []counters.Alert{}}
	d := &degraded{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.read(gctx, d, ReadCounters, func(ctx context.Context) (err error) {
		rt.Counters, err = s.tracker.Counters(ctx, userID)
		return err
	}))
	g.Go(s.read(gctx, d, ReadActivity, func(ctx context.Context) error {
		activity, err := s.tracker.RecentActivity(ctx, userID)
		if err == nil && activity != nil {
			rt.Activity = activity
		}
		return err
	}))
	g.Go(s.read(gctx, d, ReadAlerts, func(ctx context.Context) error {
		alerts, err := s.tracker.Alerts(ctx, userID)
		if err == nil && alerts != nil {
			rt.Alerts = alerts
		}
		return err
	}))
	if err := g.Wait(); err != nil {
		return Result[Realtime]{}, err
	}
	if d.has(ReadCounters) {
		rt.Counters = counters.Counters{}
	}
	return result(rt, d), nil
}

// ErrRecord wraps counter store failures while recording an event.
var ErrRecord = errors.New("analytics: record activity failed")

// RecordActivity applies ev to the user's counters and pushes it to live
// subscribers. The returned event carries the effective timestamp.
func (s *Service) RecordActivity(ctx context.Context, userID string, ev counters.Event) (counters.Event, error) {
	ctx, span := traces.StartSpan(ctx, "analytics.RecordActivity", traces.UserID(userID))
	defer span.End()

	recorded, err := s.tracker.Record(ctx, userID, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		return recorded, fmt.Errorf("%w: %w", ErrRecord, err)
	}
	metrics.ActivityEventsTotal.WithLabelValues(metricEventType(recorded.Type)).Inc()
	s.logger.Debug("activity recorded", "user_id", userID, "type", recorded.Type)

	if s.publisher != nil {
		s.publisher.Publish(&realtime.Event{
			Type:      recorded.Type,
			UserID:    userID,
			Timestamp: recorded.Timestamp,
			Data:      recorded.Data,
		})
	}
	return recorded, nil
}

// metricEventType bounds label cardinality to the known event types.
func metricEventType(t string) string {
	switch t {
	case counters.EventItemProcessed, counters.EventOptimizationCompleted,
		counters.EventRequestStarted, counters.EventRequestCompleted,
		counters.EventErrorOccurred:
		return t
	}
	return "other"
}
