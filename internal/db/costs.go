package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseBatch is one received stock delivery for a SKU.
type PurchaseBatch struct {
	ID         int64           `json:"id"`
	SKU        string          `json:"sku"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Quantity   int             `json:"quantity"`
	ReceivedAt time.Time       `json:"received_at"`
}

// AddPurchaseBatch records a received stock delivery.
func (d *DB) AddPurchaseBatch(b PurchaseBatch) error {
	_, err := d.sql.Exec(`
		INSERT INTO purchase_batches (sku, unit_cost, quantity, received_at)
		VALUES (?, ?, ?, ?)
	`, b.SKU, b.UnitCost.String(), b.Quantity, b.ReceivedAt.UTC().Format(time.RFC3339))
	return err
}

// AcquisitionCost returns the weighted-average unit cost of a SKU across its
// received purchase batches, weighted by received quantity. Zero when no
// batches exist.
func (d *DB) AcquisitionCost(sku string) (decimal.Decimal, error) {
	rows, err := d.sql.Query(`
		SELECT unit_cost, quantity FROM purchase_batches
		 WHERE sku = ? AND quantity > 0
		 ORDER BY received_at
	`, sku)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	totalCost := decimal.Zero
	totalQty := 0
	for rows.Next() {
		var cost string
		var qty int
		if err := rows.Scan(&cost, &qty); err != nil {
			return decimal.Zero, err
		}
		c, err := decimal.NewFromString(cost)
		if err != nil {
			continue
		}
		totalCost = totalCost.Add(c.Mul(decimal.NewFromInt(int64(qty))))
		totalQty += qty
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	if totalQty == 0 {
		return decimal.Zero, nil
	}
	return totalCost.DivRound(decimal.NewFromInt(int64(totalQty)), 4), nil
}

// RecordSale appends a sale observation, used for velocity and buyback math.
func (d *DB) RecordSale(sku string, grade, quantity int, price decimal.Decimal, soldAt time.Time) error {
	_, err := d.sql.Exec(`
		INSERT INTO sales (sku, grade, quantity, price, sold_at)
		VALUES (?, ?, ?, ?, ?)
	`, sku, grade, quantity, price.String(), soldAt.UTC().Format(time.RFC3339))
	return err
}

// Velocity returns units of a SKU sold since the given time.
func (d *DB) Velocity(sku string, since time.Time) (int, error) {
	var units int
	err := d.sql.QueryRow(`
		SELECT COALESCE(SUM(quantity), 0) FROM sales
		 WHERE sku = ? AND sold_at >= ?
	`, sku, since.UTC().Format(time.RFC3339)).Scan(&units)
	return units, err
}

// AvgSalePrice returns the quantity-weighted average sale price for a
// (sku, grade) since the given time. Zero when nothing sold.
func (d *DB) AvgSalePrice(sku string, grade int, since time.Time) (decimal.Decimal, error) {
	rows, err := d.sql.Query(`
		SELECT price, quantity FROM sales
		 WHERE sku = ? AND grade = ? AND sold_at >= ?
	`, sku, grade, since.UTC().Format(time.RFC3339))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	qty := 0
	for rows.Next() {
		var price string
		var q int
		if err := rows.Scan(&price, &q); err != nil {
			return decimal.Zero, err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		total = total.Add(p.Mul(decimal.NewFromInt(int64(q))))
		qty += q
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	if qty == 0 {
		return decimal.Zero, nil
	}
	return total.DivRound(decimal.NewFromInt(int64(qty)), 4), nil
}

// SKUGrades returns the distinct (sku, grade) pairs present in the mirror.
func (d *DB) SKUGrades() ([]struct {
	SKU   string
	Grade int
}, error) {
	rows, err := d.sql.Query(`SELECT DISTINCT sku, grade FROM listings ORDER BY sku, grade`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		SKU   string
		Grade int
	}
	for rows.Next() {
		var e struct {
			SKU   string
			Grade int
		}
		if err := rows.Scan(&e.SKU, &e.Grade); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetBuybackPrice persists the derived buyback offer for a (sku, grade).
func (d *DB) SetBuybackPrice(sku string, grade int, price decimal.Decimal) error {
	_, err := d.sql.Exec(`
		INSERT INTO buyback_prices (sku, grade, price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sku, grade) DO UPDATE SET
			price      = excluded.price,
			updated_at = excluded.updated_at
	`, sku, grade, price.String(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// BuybackPrice returns the stored buyback offer for a (sku, grade).
func (d *DB) BuybackPrice(sku string, grade int) (decimal.Decimal, bool) {
	var price string
	err := d.sql.QueryRow(`
		SELECT price FROM buyback_prices WHERE sku = ? AND grade = ?
	`, sku, grade).Scan(&price)
	if err != nil {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, false
	}
	return p, true
}
