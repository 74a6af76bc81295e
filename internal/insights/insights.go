// Package insights turns aggregate counts into ratios and prioritized
// content recommendations.
package insights

import (
	"math"
	"sort"
)

// Ratio returns n/d, or 0 when d is zero.
func Ratio(n, d int64) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Metrics is the input to the recommendation rules.
type Metrics struct {
	AvgQuality         float64 `json:"avgQuality"`         // 0-10
	DuplicateRate      float64 `json:"duplicateRate"`      // duplicates / items
	ApprovalRatio      float64 `json:"approvalRatio"`      // approved / optimizations
	TotalOptimizations int64   `json:"totalOptimizations"` // denominator of ApprovalRatio
	ClusteringQuality  float64 `json:"clusteringQuality"`  // clustered / items
	ContentCoverage    float64 `json:"contentCoverage"`    // categorized / items
}

// Recommendation is a single suggested action.
type Recommendation struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Effort      string   `json:"effort"`
	Priority    int      `json:"priority"`
	ActionItems []string `json:"actionItems"`
}

// Thresholds used by the rules.
const (
	MinAvgQuality        = 6.0
	MaxDuplicateRate     = 0.1
	MinApprovalRatio     = 0.6
	MinClusteringQuality = 0.6
	MinContentCoverage   = 0.8
)

type rule struct {
	applies func(Metrics) bool
	rec     Recommendation
}

// rules are evaluated in declaration order; ties in priority keep this order.
var rules = []rule{
	{
		applies: func(m Metrics) bool { return m.AvgQuality < MinAvgQuality },
		rec: Recommendation{
			ID:          "improve-quality",
			Type:        "quality",
			Title:       "Improve content quality",
			Description: "Average quality score is below 6. Low-scoring prompts produce inconsistent results.",
			Impact:      "high",
			Effort:      "medium",
			Priority:    9,
			ActionItems: []string{
				"Review the lowest-scoring items first",
				"Run optimization on items scoring below 5",
				"Add examples and explicit output formats to vague prompts",
			},
		},
	},
	{
		applies: func(m Metrics) bool { return m.DuplicateRate > MaxDuplicateRate },
		rec: Recommendation{
			ID:          "reduce-duplicates",
			Type:        "duplicates",
			Title:       "Consolidate duplicate content",
			Description: "More than 10% of items are flagged as duplicates.",
			Impact:      "medium",
			Effort:      "low",
			Priority:    7,
			ActionItems: []string{
				"Open the duplicate review queue",
				"Merge near-identical items and keep the best-scoring version",
			},
		},
	},
	{
		applies: func(m Metrics) bool {
			return m.TotalOptimizations > 0 && m.ApprovalRatio < MinApprovalRatio
		},
		rec: Recommendation{
			ID:          "tune-optimizations",
			Type:        "optimization",
			Title:       "Tune optimization settings",
			Description: "Fewer than 60% of suggested optimizations are approved.",
			Impact:      "medium",
			Effort:      "medium",
			Priority:    6,
			ActionItems: []string{
				"Inspect rejected optimizations for common patterns",
				"Raise the minimum confidence for automatic suggestions",
			},
		},
	},
	{
		applies: func(m Metrics) bool { return m.ClusteringQuality < MinClusteringQuality },
		rec: Recommendation{
			ID:          "improve-clustering",
			Type:        "organization",
			Title:       "Organize content into clusters",
			Description: "Most items are not assigned to a cluster, which makes related content hard to find.",
			Impact:      "low",
			Effort:      "low",
			Priority:    5,
			ActionItems: []string{
				"Re-run clustering after the next import",
				"Review unclustered items and assign them manually",
			},
		},
	},
	{
		applies: func(m Metrics) bool { return m.ContentCoverage < MinContentCoverage },
		rec: Recommendation{
			ID:          "expand-coverage",
			Type:        "coverage",
			Title:       "Classify uncategorized items",
			Description: "Less than 80% of items have a category.",
			Impact:      "low",
			Effort:      "low",
			Priority:    4,
			ActionItems: []string{
				"Run classification on uncategorized items",
				"Add categories for recurring content types",
			},
		},
	},
}

// Recommend evaluates every rule against m and returns the triggered
// recommendations sorted by descending priority. The result never aliases
// internal state.
func Recommend(m Metrics) []Recommendation {
	out := make([]Recommendation, 0, len(rules))
	for _, r := range rules {
		if !r.applies(m) {
			continue
		}
		rec := r.rec
		rec.ActionItems = append([]string(nil), r.rec.ActionItems...)
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// HealthScore folds the metrics into a single 0-100 number shown on the
// insights dashboard. Each metric contributes a fifth.
func HealthScore(m Metrics) int {
	approval := m.ApprovalRatio
	if m.TotalOptimizations == 0 {
		approval = 1
	}

	parts := []float64{
		clamp01(m.AvgQuality / 10),
		clamp01(1 - m.DuplicateRate),
		clamp01(approval),
		clamp01(m.ClusteringQuality),
		clamp01(m.ContentCoverage),
	}

	var sum float64
	for _, p := range parts {
		sum += p
	}
	return int(math.Round(sum / float64(len(parts)) * 100))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
