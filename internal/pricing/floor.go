package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidMarketParams means fee and margin rates leave no revenue share.
var ErrInvalidMarketParams = errors.New("invalid market parameters: fee + margin leaves no revenue share")

// CostInputs carries everything needed to derive a price floor for one
// (sku, grade, country) combination.
type CostInputs struct {
	Acquisition  decimal.Decimal // weighted-average unit cost in stock
	Refurb       decimal.Decimal
	Operational  decimal.Decimal
	WarrantyRisk decimal.Decimal

	PlatformFeeRate  decimal.Decimal // in [0,1)
	TargetMarginRate decimal.Decimal // in [0,1)
}

var one = decimal.NewFromInt(1)

// Floor derives the minimum price at which a sale still meets the target
// margin after all costs and the platform fee:
//
//	floor = (acquisition + refurb + operational + warranty) / (1 - fee - margin)
//
// rounded UP to the cent so rounding never eats into the margin.
func Floor(in CostInputs) (decimal.Decimal, error) {
	revenueShare := one.Sub(in.PlatformFeeRate).Sub(in.TargetMarginRate)
	if revenueShare.Sign() <= 0 {
		return decimal.Zero, ErrInvalidMarketParams
	}
	total := in.Acquisition.Add(in.Refurb).Add(in.Operational).Add(in.WarrantyRisk)
	return total.Div(revenueShare).RoundCeil(2), nil
}
