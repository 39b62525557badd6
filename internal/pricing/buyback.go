package pricing

import "github.com/shopspring/decimal"

// BuybackPrice derives the buyback offer for a SKU/grade from its recent
// average sale price: a configured fraction of what the unit actually sells
// for, rounded down to the cent so the offer never overshoots.
func BuybackPrice(avgSalePrice decimal.Decimal, rate float64) decimal.Decimal {
	if avgSalePrice.Sign() <= 0 || rate <= 0 {
		return decimal.Zero
	}
	offer := avgSalePrice.Mul(decimal.NewFromFloat(rate))
	if offer.Sign() < 0 {
		return decimal.Zero
	}
	return offer.RoundFloor(2)
}
