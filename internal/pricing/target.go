package pricing

import "github.com/shopspring/decimal"

// Strategy configures target-price selection for one listing/country.
type Strategy struct {
	// Step is the undercut delta below the lowest competitor.
	Step decimal.Decimal
	// MinPrice / MaxPrice are optional manual clamps.
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

// DefaultStrategy undercuts the lowest competitor by one cent.
func DefaultStrategy() Strategy {
	return Strategy{Step: decimal.New(1, -2)}
}

// TargetResult is the outcome of one target-price computation.
type TargetResult struct {
	Target             decimal.Decimal `json:"target_price"`
	Floor              decimal.Decimal `json:"floor_used"`
	ConstrainedByFloor bool            `json:"constrained_by_floor"`
}

// TargetPrice picks the price to publish from the filtered competitor set.
// With no competitors left, it holds at the floor. Otherwise it undercuts
// the lowest competitor by the strategy step, clamped by the floor and the
// manual min/max. All arithmetic is decimal, so 10.03 - 0.01 is 10.02
// exactly, not a float approximation.
func TargetPrice(competitors []CompetitorPrice, floor decimal.Decimal, s Strategy) TargetResult {
	if len(competitors) == 0 {
		return TargetResult{Target: floor.Round(2), Floor: floor, ConstrainedByFloor: true}
	}

	lowest := competitors[0].Price
	for _, c := range competitors[1:] {
		if c.Price.LessThan(lowest) {
			lowest = c.Price
		}
	}
	raw := lowest.Sub(s.Step)

	constrained := false
	clamped := raw
	if clamped.LessThan(floor) {
		clamped = floor
		constrained = true
	}
	if s.MinPrice != nil && clamped.LessThan(*s.MinPrice) {
		clamped = *s.MinPrice
	}
	if s.MaxPrice != nil && clamped.GreaterThan(*s.MaxPrice) {
		clamped = *s.MaxPrice
	}

	return TargetResult{
		Target:             clamped.Round(2),
		Floor:              floor,
		ConstrainedByFloor: constrained,
	}
}
