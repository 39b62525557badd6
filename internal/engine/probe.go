package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"refurb-bridge/internal/db"
	"refurb-bridge/internal/logger"
	"refurb-bridge/internal/market"
	"refurb-bridge/internal/pricing"
	"refurb-bridge/internal/traffic"
)

// probeState tracks the probe's progress, mostly for logging.
type probeState int

const (
	probeIdle probeState = iota
	probeDipScheduled
	probeSettling
	probePeeking
	probePeakScheduled
)

func (s probeState) String() string {
	switch s {
	case probeDipScheduled:
		return "DIP_SCHEDULED"
	case probeSettling:
		return "SETTLING"
	case probePeeking:
		return "PEEKING"
	case probePeakScheduled:
		return "PEAK_SCHEDULED"
	default:
		return "IDLE"
	}
}

// ProbeResult reports what a completed probe did.
type ProbeResult struct {
	ListingID     string          `json:"listing_id"`
	Country       string          `json:"country"`
	DipPrice      decimal.Decimal `json:"dip_price"`
	RestoredPrice decimal.Decimal `json:"restored_price"`
	Blind         bool            `json:"blind"`
	Competitors   int             `json:"competitors_seen"`
}

var pointNinetyNine = decimal.NewFromFloat(0.99)
var half = decimal.NewFromFloat(0.5)

// Probe runs the three-phase price discovery on one listing: dip to the
// minimum permissible price, wait for competitor repricers to react, peek
// at the field, then restore. The restore token is reserved before the dip
// goes out, so a drained bucket can never leave the listing stuck at the
// dip price.
func (e *Engine) Probe(ctx context.Context, listingID string) (*ProbeResult, error) {
	listing, err := e.store.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownListing, listingID)
	}

	country := e.countriesFor(listingID)[0]
	fallback := listing.Price
	if stored, ok := e.store.MarketPrice(listingID, country); ok {
		fallback = stored
	}
	if fallback.Sign() <= 0 {
		return nil, fmt.Errorf("listing %s has no usable fallback price", listingID)
	}

	res, err := e.mkt.Controller().ReserveBudget(traffic.Catalog, 1)
	if err != nil {
		return nil, fmt.Errorf("probe budget: %w", err)
	}
	// The dispatcher debits the handle when the peak goes out; whatever
	// remains here was never spent and goes back to the pool.
	defer res.Release()

	state := probeIdle
	out := &ProbeResult{ListingID: listingID, Country: country, DipPrice: e.probeFloor}

	// Dip. Two tokens leave the budget here: one spent by this update,
	// one held for the peak.
	state = probeDipScheduled
	dip := e.probeFloor
	if err := e.mkt.UpdateListing(ctx, listingID, market.ListingUpdate{
		Price:       &dip,
		CountryCode: country,
	}, traffic.Normal, 1); err != nil {
		return nil, fmt.Errorf("dip dispatch: %w", err)
	}

	state = probeSettling
	select {
	case <-time.After(e.cfg.ProbeSettle):
	case <-ctx.Done():
		// The dip is live; restore before bailing.
	}

	// Peek. Failure here is survivable: restore blindly at the fallback.
	state = probePeeking
	var points []pricing.CompetitorPrice
	if ctx.Err() == nil {
		points, err = e.mkt.Competitors(ctx, listingID, country, traffic.High)
		if err != nil {
			logger.Warn("PROBE", fmt.Sprintf("%s: peek failed in %s, restoring blind: %v", listingID, state, err))
			points = nil
		}
	}

	state = probePeakScheduled
	restore := fallback
	if len(points) > 0 {
		lowest := points[0].Price
		for _, p := range points[1:] {
			if p.Price.LessThan(lowest) {
				lowest = p.Price
			}
		}
		restore = lowest.Mul(pointNinetyNine).Round(2)
		out.Competitors = len(points)
	} else {
		out.Blind = true
	}
	if min := fallback.Mul(half); restore.LessThan(min) {
		restore = min.Round(2)
	}

	// Peak rides the reservation: the token was carved out before the dip.
	if err := e.mkt.UpdateListingReserved(ctx, listingID, market.ListingUpdate{
		Price:       &restore,
		CountryCode: country,
	}, traffic.High, res); err != nil {
		return nil, fmt.Errorf("peak dispatch in %s: %w", state, err)
	}
	out.RestoredPrice = restore

	now := e.now()
	if err := e.store.SetLastProbe(listingID, now); err != nil {
		logger.Warn("PROBE", fmt.Sprintf("%s: record last_probe_at: %v", listingID, err))
	}
	_ = e.store.SetMarketPrice(listingID, country, restore)
	_ = e.store.AddPriceChange(db.PriceChange{
		ListingID:   listingID,
		CountryCode: country,
		OldPrice:    fallback,
		NewPrice:    restore,
		FloorPrice:  decimal.Zero,
		Reason:      "probe",
		CreatedAt:   now,
	})
	logger.Success("PROBE", fmt.Sprintf("%s/%s: dipped to %s, restored at %s (%d competitors)",
		listingID, country, dip.StringFixed(2), restore.StringFixed(2), out.Competitors))
	return out, nil
}
