package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		n, d int64
		want float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 5, 0},
		{1, 4, 0.25},
		{10, 10, 1},
		{3, 2, 1.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ratio(tt.n, tt.d), "Ratio(%d, %d)", tt.n, tt.d)
	}
}

func allBad() Metrics {
	return Metrics{
		AvgQuality:         4,
		DuplicateRate:      0.2,
		ApprovalRatio:      0.5,
		TotalOptimizations: 10,
		ClusteringQuality:  0.3,
		ContentCoverage:    0.5,
	}
}

func TestRecommend_AllRulesFire(t *testing.T) {
	recs := Recommend(allBad())
	require.Len(t, recs, 5)

	var priorities []int
	for _, r := range recs {
		priorities = append(priorities, r.Priority)
	}
	assert.Equal(t, []int{9, 7, 6, 5, 4}, priorities)
}

func TestRecommend_Healthy(t *testing.T) {
	recs := Recommend(Metrics{
		AvgQuality:         8,
		DuplicateRate:      0.02,
		ApprovalRatio:      0.9,
		TotalOptimizations: 40,
		ClusteringQuality:  0.9,
		ContentCoverage:    0.95,
	})
	assert.Empty(t, recs)
}

func TestRecommend_NoOptimizationsSkipsApprovalRule(t *testing.T) {
	m := allBad()
	m.TotalOptimizations = 0
	m.ApprovalRatio = 0

	for _, r := range Recommend(m) {
		assert.NotEqual(t, "optimization", r.Type)
	}
}

func TestRecommend_Boundaries(t *testing.T) {
	m := Metrics{
		AvgQuality:         MinAvgQuality,
		DuplicateRate:      MaxDuplicateRate,
		ApprovalRatio:      MinApprovalRatio,
		TotalOptimizations: 1,
		ClusteringQuality:  MinClusteringQuality,
		ContentCoverage:    MinContentCoverage,
	}
	assert.Empty(t, Recommend(m), "thresholds are strict comparisons")
}

func TestRecommend_Pure(t *testing.T) {
	first := Recommend(allBad())
	first[0].ActionItems[0] = "mutated"
	first[0].Title = "mutated"

	second := Recommend(allBad())
	third := Recommend(allBad())
	assert.Equal(t, second, third)
	assert.NotEqual(t, "mutated", second[0].Title)
	assert.NotEqual(t, "mutated", second[0].ActionItems[0])
}

func TestRecommend_RecordShape(t *testing.T) {
	for _, r := range Recommend(allBad()) {
		assert.NotEmpty(t, r.ID)
		assert.NotEmpty(t, r.Type)
		assert.NotEmpty(t, r.Title)
		assert.NotEmpty(t, r.Description)
		assert.NotEmpty(t, r.Impact)
		assert.NotEmpty(t, r.Effort)
		assert.NotEmpty(t, r.ActionItems)
	}
}

func TestHealthScore(t *testing.T) {
	perfect := Metrics{AvgQuality: 10, ApprovalRatio: 1, TotalOptimizations: 3, ClusteringQuality: 1, ContentCoverage: 1}
	assert.Equal(t, 100, HealthScore(perfect))

	// duplicate and approval terms are full when there is nothing to count
	assert.Equal(t, 40, HealthScore(Metrics{}))

	// (0.4 + 0.8 + 0.5 + 0.3 + 0.5) / 5 = 0.5
	assert.Equal(t, 50, HealthScore(allBad()))
}
