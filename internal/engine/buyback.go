package engine

import (
	"context"
	"fmt"

	"refurb-bridge/internal/logger"
	"refurb-bridge/internal/pricing"
)

// RecomputeBuyback refreshes the stored buyback offer for every (sku,
// grade) in the mirror from its recent average sale price. Pairs with no
// sales in the window keep their previous offer.
func (e *Engine) RecomputeBuyback(ctx context.Context) (int, error) {
	combos, err := e.store.SKUGrades()
	if err != nil {
		return 0, err
	}
	since := e.velocityWindow()

	updated := 0
	for _, c := range combos {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		avg, err := e.store.AvgSalePrice(c.SKU, c.Grade, since)
		if err != nil {
			logger.Warn("BUYBACK", fmt.Sprintf("%s grade %d: %v", c.SKU, c.Grade, err))
			continue
		}
		offer := pricing.BuybackPrice(avg, e.cfg.BuybackRate)
		if offer.Sign() <= 0 {
			continue
		}
		if err := e.store.SetBuybackPrice(c.SKU, c.Grade, offer); err != nil {
			logger.Warn("BUYBACK", fmt.Sprintf("%s grade %d: %v", c.SKU, c.Grade, err))
			continue
		}
		updated++
	}
	return updated, nil
}
