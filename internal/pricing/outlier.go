package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CompetitorPrice is one observed competitor offer. Transient: fetched per
// repricing cycle, never persisted.
type CompetitorPrice struct {
	CompetitorID  string          `json:"competitor_id"`
	Price         decimal.Decimal `json:"price"`
	ObservedAt    time.Time       `json:"observed_at"`
	FeedbackCount int             `json:"feedback_count"`
}

// DefaultMaxAge is the staleness cutoff for competitor observations.
const DefaultMaxAge = 6 * time.Hour

// FilterOutliers drops stale observations, then removes statistical outliers
// using the median absolute deviation. MAD holds up on the small samples a
// single listing produces and survives poisoning by one absurd price.
//
// Two or fewer fresh points are returned as-is: not enough data for
// statistics.
func FilterOutliers(points []CompetitorPrice, maxAge time.Duration, now time.Time) []CompetitorPrice {
	fresh := make([]CompetitorPrice, 0, len(points))
	for _, p := range points {
		if now.Sub(p.ObservedAt) <= maxAge {
			fresh = append(fresh, p)
		}
	}
	if len(fresh) <= 2 {
		return fresh
	}

	// Relative thresholds dominate here, so float64 is fine.
	prices := make([]float64, len(fresh))
	for i, p := range fresh {
		prices[i], _ = p.Price.Float64()
	}
	m := median(prices)

	deviations := make([]float64, len(prices))
	for i, v := range prices {
		deviations[i] = abs(v - m)
	}
	mad := median(deviations)

	// A floor of 5% of the median keeps tight clusters from filtering
	// themselves to pieces.
	effectiveMAD := mad
	if floor := 0.05 * m; effectiveMAD < floor {
		effectiveMAD = floor
	}
	threshold := 3 * effectiveMAD

	kept := make([]CompetitorPrice, 0, len(fresh))
	for i, p := range fresh {
		if abs(prices[i]-m) <= threshold {
			kept = append(kept, p)
		}
	}
	return kept
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
