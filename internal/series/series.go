// Package series folds timestamped rows into per-day buckets for the
// dashboard charts.
//
// Rows are grouped by the UTC calendar date of their creation time. Each
// bucket carries a set of named values, one per Field: counts, sums, or
// averages. The result is always sorted by date.
package series

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the bucket key format.
const DateLayout = "2006-01-02"

// ErrMissingTimestamp is returned when a row has a zero creation time.
var ErrMissingTimestamp = errors.New("series: row has no creation timestamp")

// Kind selects how a Field folds rows into its bucket.
type Kind int

const (
	KindCount Kind = iota
	KindSum
	KindAverage
)

// Field describes one named value of a bucket.
type Field[T any] struct {
	Name  string
	Kind  Kind
	value func(T) (float64, bool)
	pred  func(T) bool
}

// Count increments by one for every row.
func Count[T any](name string) Field[T] {
	return Field[T]{Name: name, Kind: KindCount}
}

// CountIf increments by one for every row matching pred.
func CountIf[T any](name string, pred func(T) bool) Field[T] {
	return Field[T]{Name: name, Kind: KindCount, pred: pred}
}

// Sum accumulates value. Rows where value reports false contribute 0.
func Sum[T any](name string, value func(T) (float64, bool)) Field[T] {
	return Field[T]{Name: name, Kind: KindSum, value: value}
}

// Average divides the accumulated value by the number of rows that had one.
// A bucket in which no row had a value reports 0.
func Average[T any](name string, value func(T) (float64, bool)) Field[T] {
	return Field[T]{Name: name, Kind: KindAverage, value: value}
}

// Point is one day of a series.
type Point struct {
	Date   string
	Values map[string]float64
}

// Value returns the named value, or 0 if absent.
func (p Point) Value(name string) float64 {
	return p.Values[name]
}

// MarshalJSON flattens the point into {"date": ..., "<field>": ...}.
func (p Point) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Values)+1)
	for k, v := range p.Values {
		m[k] = v
	}
	m["date"] = p.Date
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON. Non-numeric fields other than
// "date" are ignored.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Values = make(map[string]float64, len(raw))
	for k, v := range raw {
		if k == "date" {
			if err := json.Unmarshal(v, &p.Date); err != nil {
				return fmt.Errorf("series: decode date: %w", err)
			}
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			p.Values[k] = f
		}
	}
	return nil
}

// DayKey returns the bucket key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

type bucket struct {
	values      map[string]float64
	occurrences map[string]int64
}

// Build groups rows by day and folds every field. It fails on the first row
// whose creation time is zero instead of inventing a bucket for it.
func Build[T any](rows []T, createdAt func(T) time.Time, fields ...Field[T]) ([]Point, error) {
	buckets := make(map[string]*bucket)

	for i, row := range rows {
		ts := createdAt(row)
		if ts.IsZero() {
			return nil, fmt.Errorf("%w (row %d)", ErrMissingTimestamp, i)
		}

		key := DayKey(ts)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				values:      make(map[string]float64, len(fields)),
				occurrences: make(map[string]int64),
			}
			for _, f := range fields {
				b.values[f.Name] = 0
			}
			buckets[key] = b
		}

		for _, f := range fields {
			switch f.Kind {
			case KindCount:
				if f.pred == nil || f.pred(row) {
					b.values[f.Name]++
				}
			case KindSum:
				if v, ok := f.value(row); ok {
					b.values[f.Name] += v
				}
			case KindAverage:
				if v, ok := f.value(row); ok {
					b.values[f.Name] += v
					b.occurrences[f.Name]++
				}
			}
		}
	}

	points := make([]Point, 0, len(buckets))
	for key, b := range buckets {
		for _, f := range fields {
			if f.Kind != KindAverage {
				continue
			}
			if n := b.occurrences[f.Name]; n > 0 {
				b.values[f.Name] /= float64(n)
			}
		}
		points = append(points, Point{Date: key, Values: b.values})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// FillGaps returns points extended with zero-valued entries for every day in
// [from, to] that has no bucket yet. names lists the fields to zero.
func FillGaps(points []Point, from, to time.Time, names ...string) []Point {
	if to.Before(from) {
		return points
	}

	seen := make(map[string]bool, len(points))
	for _, p := range points {
		seen[p.Date] = true
	}

	out := append([]Point(nil), points...)
	start := from.UTC().Truncate(24 * time.Hour)
	for d := start; !d.After(to.UTC()); d = d.AddDate(0, 0, 1) {
		key := d.Format(DateLayout)
		if seen[key] {
			continue
		}
		values := make(map[string]float64, len(names))
		for _, n := range names {
			values[n] = 0
		}
		out = append(out, Point{Date: key, Values: values})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
