package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"refurb-bridge/internal/config"
	_ "modernc.org/sqlite"
)

// openTestDB opens an in-memory SQLite DB and runs migrations (for testing only).
func openTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestDB_UpsertListingIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	l := Listing{
		ListingID: "L1", SKU: "IPH12-128", Grade: 10,
		Price: dec(t, "199.99"), Currency: "EUR", Quantity: 3,
		PublicationState: 1, Payload: `{"id":"L1"}`,
		SyncedAt: time.Now(),
	}
	if err := d.UpsertListing(l); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := d.UpsertListing(l); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := d.GetListing("L1")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if got == nil || got.SKU != "IPH12-128" || got.Grade != 10 || !got.Price.Equal(dec(t, "199.99")) {
		t.Errorf("got %+v, want the upserted listing", got)
	}

	all, err := d.ListAllListings()
	if err != nil {
		t.Fatalf("ListAllListings: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("repeated upsert created %d rows, want 1", len(all))
	}
}

func TestDB_GetListingAbsent(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	got, err := d.GetListing("nope")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for absent listing", got)
	}
}

func TestDB_ActiveListingsFilter(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	now := time.Now()
	d.UpsertListing(Listing{ListingID: "live", SKU: "A", Quantity: 2, PublicationState: 1, Price: decimal.Zero, SyncedAt: now})
	d.UpsertListing(Listing{ListingID: "nostock", SKU: "A", Quantity: 0, PublicationState: 1, Price: decimal.Zero, SyncedAt: now})
	d.UpsertListing(Listing{ListingID: "offline", SKU: "A", Quantity: 5, PublicationState: 0, Price: decimal.Zero, SyncedAt: now})

	active, err := d.ListActiveListings()
	if err != nil {
		t.Fatalf("ListActiveListings: %v", err)
	}
	if len(active) != 1 || active[0].ListingID != "live" {
		t.Errorf("active = %v, want [live]", active)
	}
}

func TestDB_ListingMarkets(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	d.SetMarketPrice("L1", "FR", dec(t, "199.99"))
	d.SetMarketPrice("L1", "DE", dec(t, "204.99"))
	d.SetMarketPrice("L1", "FR", dec(t, "198.99")) // update, not duplicate

	countries, err := d.ListingCountries("L1")
	if err != nil {
		t.Fatalf("ListingCountries: %v", err)
	}
	if len(countries) != 2 || countries[0] != "DE" || countries[1] != "FR" {
		t.Errorf("countries = %v, want [DE FR]", countries)
	}

	p, ok := d.MarketPrice("L1", "FR")
	if !ok || !p.Equal(dec(t, "198.99")) {
		t.Errorf("FR price = %s, want 198.99", p)
	}
}

func TestDB_OrderUpsertIdempotent(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	o := Order{OrderID: "O-77", State: "shipped", Payload: `{"id":"O-77"}`, SyncedAt: time.Now()}
	if err := d.UpsertOrder(o); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	o.State = "delivered"
	if err := d.UpsertOrder(o); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := d.GetOrder("O-77")
	if err != nil || got == nil {
		t.Fatalf("GetOrder: %v %v", got, err)
	}
	if got.State != "delivered" {
		t.Errorf("state = %q, want delivered (full replace)", got.State)
	}

	orders, _ := d.ListOrders(10)
	if len(orders) != 1 {
		t.Errorf("orders = %d rows, want 1", len(orders))
	}
}

func TestDB_PricingParamsRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	min := dec(t, "150.00")
	p := PricingParams{
		SKU: "IPH12-128", Grade: 10, CountryCode: "FR",
		RefurbCost: dec(t, "20"), OperationalCost: dec(t, "10"), WarrantyRiskCost: dec(t, "5"),
		PlatformFeeRate: dec(t, "0.10"), TargetMarginRate: dec(t, "0.15"),
		PriceStep: dec(t, "0.01"), MinPrice: &min,
	}
	if err := d.UpsertPricingParams(p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := d.GetPricingParams("IPH12-128", 10, "FR")
	if err != nil || got == nil {
		t.Fatalf("GetPricingParams: %v %v", got, err)
	}
	if !got.PlatformFeeRate.Equal(dec(t, "0.10")) || got.MinPrice == nil || !got.MinPrice.Equal(min) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	absent, err := d.GetPricingParams("IPH12-128", 9, "FR")
	if err != nil {
		t.Fatalf("GetPricingParams absent: %v", err)
	}
	if absent != nil {
		t.Error("want nil for absent grade")
	}
}

func TestDB_PricingParamsValidation(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	bad := PricingParams{
		SKU: "X", Grade: 1, CountryCode: "FR",
		PlatformFeeRate: dec(t, "0.60"), TargetMarginRate: dec(t, "0.40"),
		PriceStep: dec(t, "0.01"),
	}
	if err := d.UpsertPricingParams(bad); err == nil {
		t.Fatal("fee + margin = 1 should be rejected")
	}
}

func TestDB_AcquisitionCostWeightedAverage(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	now := time.Now()
	d.AddPurchaseBatch(PurchaseBatch{SKU: "S1", UnitCost: dec(t, "100"), Quantity: 10, ReceivedAt: now})
	d.AddPurchaseBatch(PurchaseBatch{SKU: "S1", UnitCost: dec(t, "120"), Quantity: 5, ReceivedAt: now})
	d.AddPurchaseBatch(PurchaseBatch{SKU: "other", UnitCost: dec(t, "999"), Quantity: 1, ReceivedAt: now})

	// (100×10 + 120×5) / 15 = 1600/15 = 106.6667
	cost, err := d.AcquisitionCost("S1")
	if err != nil {
		t.Fatalf("AcquisitionCost: %v", err)
	}
	if !cost.Equal(dec(t, "106.6667")) {
		t.Errorf("cost = %s, want 106.6667", cost)
	}

	zero, err := d.AcquisitionCost("unknown")
	if err != nil || !zero.IsZero() {
		t.Errorf("unknown sku cost = %s, want 0", zero)
	}
}

func TestDB_VelocityAndAvgSale(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	now := time.Now()
	d.RecordSale("S1", 10, 2, dec(t, "200"), now.Add(-24*time.Hour))
	d.RecordSale("S1", 10, 1, dec(t, "210"), now.Add(-48*time.Hour))
	d.RecordSale("S1", 10, 5, dec(t, "190"), now.Add(-40*24*time.Hour)) // outside window

	v, err := d.Velocity("S1", now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Velocity: %v", err)
	}
	if v != 3 {
		t.Errorf("velocity = %d, want 3", v)
	}

	// (200×2 + 210×1) / 3 = 610/3 = 203.3333
	avg, err := d.AvgSalePrice("S1", 10, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("AvgSalePrice: %v", err)
	}
	if !avg.Equal(dec(t, "203.3333")) {
		t.Errorf("avg = %s, want 203.3333", avg)
	}
}

func TestDB_PriceHistory(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	c := PriceChange{
		ListingID: "L1", CountryCode: "FR",
		OldPrice: dec(t, "199.99"), NewPrice: dec(t, "194.99"), FloorPrice: dec(t, "180.00"),
		Reason: "reprice", CreatedAt: time.Now(),
	}
	if err := d.AddPriceChange(c); err != nil {
		t.Fatalf("AddPriceChange: %v", err)
	}

	rows, err := d.ListPriceChanges("L1", 10)
	if err != nil {
		t.Fatalf("ListPriceChanges: %v", err)
	}
	if len(rows) != 1 || !rows[0].NewPrice.Equal(dec(t, "194.99")) || rows[0].Reason != "reprice" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestDB_RateLimitsRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	fallback := config.FromEnv().RateLimits
	if got := d.LoadRateLimits(fallback); got != fallback {
		t.Errorf("empty store should return fallback")
	}

	rl := fallback
	rl.Competitor = config.BucketSpec{IntervalMS: 2000, MaxRequests: 4}
	if err := d.SaveRateLimits(rl); err != nil {
		t.Fatalf("SaveRateLimits: %v", err)
	}
	got := d.LoadRateLimits(fallback)
	if got.Competitor.MaxRequests != 4 || got.Competitor.Interval() != 2*time.Second {
		t.Errorf("loaded = %+v, want saved competitor bucket", got.Competitor)
	}
}

func TestDB_BuybackPrices(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if _, ok := d.BuybackPrice("S1", 10); ok {
		t.Fatal("want miss before set")
	}
	d.SetBuybackPrice("S1", 10, dec(t, "120.00"))
	d.SetBuybackPrice("S1", 10, dec(t, "121.50"))
	p, ok := d.BuybackPrice("S1", 10)
	if !ok || !p.Equal(dec(t, "121.50")) {
		t.Errorf("buyback = %s, want 121.50", p)
	}
}

func TestDB_LastProbeStamp(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	d.UpsertListing(Listing{ListingID: "L1", SKU: "S", Price: decimal.Zero, SyncedAt: time.Now()})
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := d.SetLastProbe("L1", at); err != nil {
		t.Fatalf("SetLastProbe: %v", err)
	}
	got, _ := d.GetListing("L1")
	if got.LastProbeAt == nil || !got.LastProbeAt.Equal(at) {
		t.Errorf("last_probe_at = %v, want %v", got.LastProbeAt, at)
	}
}
