package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceChange is one confirmed price update, kept for audit.
type PriceChange struct {
	ID          int64           `json:"id"`
	ListingID   string          `json:"listing_id"`
	CountryCode string          `json:"country_code"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	FloorPrice  decimal.Decimal `json:"floor_price"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AddPriceChange appends a price-history row.
func (d *DB) AddPriceChange(c PriceChange) error {
	_, err := d.sql.Exec(`
		INSERT INTO price_history (listing_id, country_code, old_price, new_price, floor_price, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ListingID, c.CountryCode, c.OldPrice.String(), c.NewPrice.String(),
		c.FloorPrice.String(), c.Reason, c.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListPriceChanges returns the newest price-history rows for a listing.
func (d *DB) ListPriceChanges(listingID string, limit int) ([]PriceChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.Query(`
		SELECT id, listing_id, country_code, old_price, new_price, floor_price, reason, created_at
		  FROM price_history
		 WHERE listing_id = ?
		 ORDER BY id DESC LIMIT ?
	`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceChange
	for rows.Next() {
		var c PriceChange
		var oldP, newP, floorP, createdAt string
		if err := rows.Scan(&c.ID, &c.ListingID, &c.CountryCode, &oldP, &newP, &floorP, &c.Reason, &createdAt); err != nil {
			return nil, err
		}
		c.OldPrice, _ = decimal.NewFromString(oldP)
		c.NewPrice, _ = decimal.NewFromString(newP)
		c.FloorPrice, _ = decimal.NewFromString(floorP)
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
