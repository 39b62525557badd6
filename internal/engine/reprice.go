package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"refurb-bridge/internal/db"
	"refurb-bridge/internal/logger"
	"refurb-bridge/internal/market"
	"refurb-bridge/internal/pricing"
	"refurb-bridge/internal/traffic"
)

// CountryOutcome is the result of repricing one listing in one country.
type CountryOutcome struct {
	Country     string           `json:"country"`
	Target      decimal.Decimal  `json:"target_price"`
	Floor       decimal.Decimal  `json:"floor_price"`
	Constrained bool             `json:"constrained_by_floor"`
	Priority    traffic.Priority `json:"-"`
	Skipped     bool             `json:"skipped,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// RepriceResult summarises one reprice(listing_id) run.
type RepriceResult struct {
	ListingID string           `json:"listing_id"`
	SKU       string           `json:"sku"`
	Countries []CountryOutcome `json:"countries"`
}

// Reprice runs the full repricing pass for one listing: competitors per
// country, outlier filtering, floor, target, priority derivation, update
// dispatch. One country's failure never aborts the others.
func (e *Engine) Reprice(ctx context.Context, listingID string) (*RepriceResult, error) {
	return e.reprice(ctx, listingID, nil)
}

// Recover republishes a listing at its stored market price with CRITICAL
// priority, jumping every queue. Meant for the admin to undo an accidental
// dip or a bad probe.
func (e *Engine) Recover(ctx context.Context, listingID string) (*RepriceResult, error) {
	prio := traffic.Critical
	return e.reprice(ctx, listingID, &prio)
}

func (e *Engine) reprice(ctx context.Context, listingID string, forcePrio *traffic.Priority) (*RepriceResult, error) {
	listing, err := e.store.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownListing, listingID)
	}

	// Constant across countries within one call.
	acquisition, err := e.store.AcquisitionCost(listing.SKU)
	if err != nil {
		return nil, fmt.Errorf("acquisition cost for %s: %w", listing.SKU, err)
	}
	velocity, err := e.store.Velocity(listing.SKU, e.velocityWindow())
	if err != nil {
		return nil, fmt.Errorf("velocity for %s: %w", listing.SKU, err)
	}

	result := &RepriceResult{ListingID: listingID, SKU: listing.SKU}
	for _, country := range e.countriesFor(listingID) {
		out := e.repriceCountry(ctx, listing, country, acquisition, velocity, forcePrio)
		if out.Error != "" {
			logger.Warn("REPRICE", fmt.Sprintf("%s/%s: %s", listingID, country, out.Error))
		}
		result.Countries = append(result.Countries, out)
	}
	return result, nil
}

func (e *Engine) repriceCountry(ctx context.Context, listing *db.Listing, country string, acquisition decimal.Decimal, velocity int, forcePrio *traffic.Priority) CountryOutcome {
	out := CountryOutcome{Country: country}

	params, err := e.store.GetPricingParams(listing.SKU, listing.Grade, country)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if params == nil {
		out.Skipped = true
		out.Error = "no pricing parameters"
		return out
	}

	floor, err := pricing.Floor(pricing.CostInputs{
		Acquisition:      acquisition,
		Refurb:           params.RefurbCost,
		Operational:      params.OperationalCost,
		WarrantyRisk:     params.WarrantyRiskCost,
		PlatformFeeRate:  params.PlatformFeeRate,
		TargetMarginRate: params.TargetMarginRate,
	})
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Floor = floor

	points, err := e.mkt.Competitors(ctx, listing.ListingID, country, traffic.High)
	if err != nil {
		out.Error = fmt.Sprintf("competitors: %v", err)
		return out
	}
	filtered := pricing.FilterOutliers(points, e.maxAge, e.now())

	step := params.PriceStep
	if step.Sign() <= 0 {
		step = e.defaultStep
	}
	target := pricing.TargetPrice(filtered, floor, pricing.Strategy{
		Step:     step,
		MinPrice: params.MinPrice,
		MaxPrice: params.MaxPrice,
	})
	out.Target = target.Target
	out.Constrained = target.ConstrainedByFloor

	prio := derivePriority(target.Target, floor, velocity)
	if forcePrio != nil {
		prio = *forcePrio
	}
	out.Priority = prio

	old, hadOld := e.store.MarketPrice(listing.ListingID, country)
	if hadOld && old.Equal(target.Target) {
		out.Skipped = true
		return out
	}

	err = e.mkt.UpdateListing(ctx, listing.ListingID, market.ListingUpdate{
		Price:       &target.Target,
		CountryCode: country,
	}, prio, 1)
	if err != nil {
		out.Error = fmt.Sprintf("update dispatch: %v", err)
		return out
	}

	if err := e.store.SetMarketPrice(listing.ListingID, country, target.Target); err != nil {
		out.Error = fmt.Sprintf("record price: %v", err)
		return out
	}
	if !hadOld {
		old = listing.Price
	}
	reason := "undercut"
	if target.ConstrainedByFloor {
		reason = "floor_hold"
	}
	if forcePrio != nil && *forcePrio == traffic.Critical {
		reason = "recovery"
	}
	_ = e.store.AddPriceChange(db.PriceChange{
		ListingID:   listing.ListingID,
		CountryCode: country,
		OldPrice:    old,
		NewPrice:    target.Target,
		FloorPrice:  floor,
		Reason:      reason,
		CreatedAt:   e.now(),
	})
	return out
}

// derivePriority classifies an update by how much it matters: high-margin
// fast movers jump the queue, thin or dead listings wait.
func derivePriority(target, floor decimal.Decimal, velocity int) traffic.Priority {
	margin := decimal.Zero
	if target.Sign() > 0 {
		margin = target.Sub(floor).Div(target)
	}
	switch {
	case margin.GreaterThan(decimal.NewFromFloat(0.20)) && velocity > 10:
		return traffic.High
	case margin.LessThan(decimal.NewFromFloat(0.05)) || velocity == 0:
		return traffic.Low
	default:
		return traffic.Normal
	}
}

// FleetSummary is the outcome of one whole-fleet repricing sweep.
type FleetSummary struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RepriceFleet reprices every active listing sequentially. The traffic
// controller is the pacing authority, so there is nothing to gain from
// fanning out here.
func (e *Engine) RepriceFleet(ctx context.Context) (*FleetSummary, error) {
	listings, err := e.store.ListActiveListings()
	if err != nil {
		return nil, err
	}
	sum := &FleetSummary{Total: len(listings)}
	for _, l := range listings {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		res, err := e.Reprice(ctx, l.ListingID)
		if err != nil {
			sum.Failed++
			logger.Warn("REPRICE", fmt.Sprintf("%s: %v", l.ListingID, err))
			continue
		}
		for _, c := range res.Countries {
			switch {
			case c.Skipped:
				sum.Skipped++
			case c.Error != "":
				sum.Failed++
			default:
				sum.Updated++
			}
		}
	}
	return sum, nil
}
