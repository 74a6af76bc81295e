package series

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	at       time.Time
	v        *float64
	approved bool
}

func f(v float64) *float64 { return &v }

func rowTime(r row) time.Time { return r.at }

func rowValue(r row) (float64, bool) {
	if r.v == nil {
		return 0, false
	}
	return *r.v, true
}

func TestBuild_GroupsByUTCDay(t *testing.T) {
	// 23:30 in UTC-5 is 04:30 the next day in UTC.
	est := time.FixedZone("EST", -5*3600)
	rows := []row{
		{at: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)},
		{at: time.Date(2025, 1, 1, 23, 30, 0, 0, est)},
		{at: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)},
		{at: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
		{at: time.Date(2025, 1, 1, 23, 59, 59, 0, time.UTC)},
	}

	points, err := Build(rows, rowTime, Count[row]("count"))
	require.NoError(t, err)

	want := []Point{
		{Date: "2025-01-01", Values: map[string]float64{"count": 2}},
		{Date: "2025-01-02", Values: map[string]float64{"count": 2}},
		{Date: "2025-01-03", Values: map[string]float64{"count": 1}},
	}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}

	var total float64
	for _, p := range points {
		total += p.Value("count")
	}
	assert.Equal(t, float64(len(rows)), total)
}

func TestBuild_SortedByDate(t *testing.T) {
	rows := []row{
		{at: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)},
		{at: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		{at: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	points, err := Build(rows, rowTime, Count[row]("count"))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "2024-12-31", points[0].Date)
	assert.Equal(t, "2025-01-15", points[1].Date)
	assert.Equal(t, "2025-02-10", points[2].Date)
}

func TestBuild_Average(t *testing.T) {
	day := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)
	rows := []row{
		{at: day, v: f(10)},
		{at: day.Add(time.Hour), v: f(20)},
		{at: day.Add(2 * time.Hour), v: f(30)},
	}

	points, err := Build(rows, rowTime, Average("v", rowValue))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 20.0, points[0].Value("v"))
}

func TestBuild_AverageSkipsMissingValues(t *testing.T) {
	day := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)
	rows := []row{
		{at: day, v: f(10)},
		{at: day},
		{at: day, v: f(30)},
		{at: day.AddDate(0, 0, 1)},
	}

	points, err := Build(rows, rowTime, Average("v", rowValue), Count[row]("n"))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 20.0, points[0].Value("v"))
	assert.Equal(t, 3.0, points[0].Value("n"))
	// no occurrences, no division
	assert.Equal(t, 0.0, points[1].Value("v"))
}

func TestBuild_SumTreatsMissingAsZero(t *testing.T) {
	day := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)
	rows := []row{{at: day, v: f(4)}, {at: day}, {at: day, v: f(6)}}

	points, err := Build(rows, rowTime, Sum("total", rowValue))
	require.NoError(t, err)
	assert.Equal(t, 10.0, points[0].Value("total"))
}

func TestBuild_CountIf(t *testing.T) {
	day := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)
	rows := []row{{at: day, approved: true}, {at: day}, {at: day, approved: true}}

	points, err := Build(rows, rowTime,
		Count[row]("total"),
		CountIf("approved", func(r row) bool { return r.approved }),
	)
	require.NoError(t, err)
	assert.Equal(t, 3.0, points[0].Value("total"))
	assert.Equal(t, 2.0, points[0].Value("approved"))
}

func TestBuild_MissingTimestampFails(t *testing.T) {
	rows := []row{{at: time.Now()}, {}}

	_, err := Build(rows, rowTime, Count[row]("count"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingTimestamp)
}

func TestBuild_Empty(t *testing.T) {
	points, err := Build(nil, rowTime, Count[row]("count"))
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestPoint_JSON(t *testing.T) {
	p := Point{Date: "2025-01-01", Values: map[string]float64{"count": 3, "avg": 1.5}}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-01-01","count":3,"avg":1.5}`, string(data))

	var back Point
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(p, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFillGaps(t *testing.T) {
	points := []Point{{Date: "2025-01-02", Values: map[string]float64{"count": 4}}}
	from := time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 4, 1, 0, 0, 0, time.UTC)

	filled := FillGaps(points, from, to, "count")

	want := []Point{
		{Date: "2025-01-01", Values: map[string]float64{"count": 0}},
		{Date: "2025-01-02", Values: map[string]float64{"count": 4}},
		{Date: "2025-01-03", Values: map[string]float64{"count": 0}},
		{Date: "2025-01-04", Values: map[string]float64{"count": 0}},
	}
	if diff := cmp.Diff(want, filled); diff != "" {
		t.Errorf("FillGaps() mismatch (-want +got):\n%s", diff)
	}
}

func TestFillGaps_InvertedRange(t *testing.T) {
	points := []Point{{Date: "2025-01-02", Values: map[string]float64{}}}
	now := time.Now()
	assert.Equal(t, points, FillGaps(points, now, now.Add(-time.Hour)))
}
