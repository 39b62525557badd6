package db

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Listing is the locally mirrored view of a marketplace listing.
type Listing struct {
	ListingID        string          `json:"listing_id"`
	SKU              string          `json:"sku"`
	Grade            int             `json:"grade"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	Quantity         int             `json:"quantity"`
	PublicationState int             `json:"publication_state"`
	LastProbeAt      *time.Time      `json:"last_probe_at,omitempty"`
	Payload          string          `json:"payload"`
	SyncedAt         time.Time       `json:"synced_at"`
}

// UpsertListing inserts or fully replaces a mirrored listing, keyed on its
// remote identifier. Repeating the same upsert is a no-op in observable
// state apart from synced_at.
func (d *DB) UpsertListing(l Listing) error {
	lastProbe := sql.NullString{}
	if l.LastProbeAt != nil {
		lastProbe = sql.NullString{String: l.LastProbeAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := d.sql.Exec(`
		INSERT INTO listings (listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, payload, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			sku               = excluded.sku,
			grade             = excluded.grade,
			price             = excluded.price,
			currency          = excluded.currency,
			quantity          = excluded.quantity,
			publication_state = excluded.publication_state,
			payload           = excluded.payload,
			synced_at         = excluded.synced_at
	`, l.ListingID, l.SKU, l.Grade, l.Price.String(), l.Currency, l.Quantity,
		l.PublicationState, lastProbe, l.Payload, l.SyncedAt.UTC().Format(time.RFC3339))
	return err
}

// GetListing fetches one mirrored listing. Returns (nil, nil) when absent.
func (d *DB) GetListing(listingID string) (*Listing, error) {
	row := d.sql.QueryRow(`
		SELECT listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, payload, synced_at
		  FROM listings WHERE listing_id = ?
	`, listingID)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var price, syncedAt string
	var lastProbe sql.NullString
	if err := row.Scan(&l.ListingID, &l.SKU, &l.Grade, &price, &l.Currency,
		&l.Quantity, &l.PublicationState, &lastProbe, &l.Payload, &syncedAt); err != nil {
		return nil, err
	}
	l.Price, _ = decimal.NewFromString(price)
	l.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
	if lastProbe.Valid {
		t, err := time.Parse(time.RFC3339, lastProbe.String)
		if err == nil {
			l.LastProbeAt = &t
		}
	}
	return &l, nil
}

// ListActiveListings returns every listing with stock that is published.
func (d *DB) ListActiveListings() ([]Listing, error) {
	rows, err := d.sql.Query(`
		SELECT listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, payload, synced_at
		  FROM listings
		 WHERE quantity > 0 AND publication_state != 0
		 ORDER BY listing_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListAllListings returns the whole mirror, for admin readouts.
func (d *DB) ListAllListings() ([]Listing, error) {
	rows, err := d.sql.Query(`
		SELECT listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, payload, synced_at
		  FROM listings ORDER BY listing_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListingCountries returns the active country markets for a listing.
func (d *DB) ListingCountries(listingID string) ([]string, error) {
	rows, err := d.sql.Query(`
		SELECT country_code FROM listing_markets
		 WHERE listing_id = ? AND active = 1
		 ORDER BY country_code
	`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetMarketPrice records the active price of a (listing, country) pair.
func (d *DB) SetMarketPrice(listingID, country string, price decimal.Decimal) error {
	_, err := d.sql.Exec(`
		INSERT INTO listing_markets (listing_id, country_code, price, active, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(listing_id, country_code) DO UPDATE SET
			price      = excluded.price,
			updated_at = excluded.updated_at
	`, listingID, country, price.String(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// MarketPrice returns the active price of a (listing, country) pair.
// Returns (zero, false) when the market is unknown.
func (d *DB) MarketPrice(listingID, country string) (decimal.Decimal, bool) {
	var price string
	err := d.sql.QueryRow(`
		SELECT price FROM listing_markets WHERE listing_id = ? AND country_code = ?
	`, listingID, country).Scan(&price)
	if err != nil {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, false
	}
	return p, true
}

// SetLastProbe stamps the listing with the time of its last probe run.
func (d *DB) SetLastProbe(listingID string, at time.Time) error {
	_, err := d.sql.Exec(`UPDATE listings SET last_probe_at = ? WHERE listing_id = ?`,
		at.UTC().Format(time.RFC3339), listingID)
	return err
}
