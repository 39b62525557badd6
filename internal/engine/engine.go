package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"refurb-bridge/internal/config"
	"refurb-bridge/internal/db"
	"refurb-bridge/internal/market"
)

// ErrUnknownListing means the listing is not in the local mirror; sync it
// first.
var ErrUnknownListing = errors.New("listing not found in local mirror")

// Engine drives repricing, probing and buyback recomputation on top of the
// local mirror and the paced marketplace client.
type Engine struct {
	store *db.DB
	mkt   *market.Client
	cfg   *config.Config

	defaultStep decimal.Decimal
	probeFloor  decimal.Decimal
	maxAge      time.Duration

	now func() time.Time
}

// New builds an Engine. Malformed decimal strings in the config fall back
// to the documented defaults rather than failing startup.
func New(store *db.DB, mkt *market.Client, cfg *config.Config) *Engine {
	step, err := decimal.NewFromString(cfg.PriceStep)
	if err != nil || step.Sign() <= 0 {
		step = decimal.New(1, -2)
	}
	probeFloor, err := decimal.NewFromString(cfg.ProbeFloor)
	if err != nil || probeFloor.Sign() <= 0 {
		probeFloor = decimal.NewFromInt(1)
	}
	return &Engine{
		store:       store,
		mkt:         mkt,
		cfg:         cfg,
		defaultStep: step,
		probeFloor:  probeFloor,
		maxAge:      time.Duration(cfg.MaxAgeHours * float64(time.Hour)),
		now:         time.Now,
	}
}

// velocityWindow is the start of the units-sold counting window.
func (e *Engine) velocityWindow() time.Time {
	return e.now().AddDate(0, 0, -e.cfg.VelocityDays)
}

// countriesFor resolves the country markets to reprice, falling back to
// the configured default when the listing has none active.
func (e *Engine) countriesFor(listingID string) []string {
	countries, err := e.store.ListingCountries(listingID)
	if err != nil || len(countries) == 0 {
		return []string{e.cfg.DefaultCountry}
	}
	return countries
}
