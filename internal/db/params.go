package db

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// PricingParams configures the pricing pipeline for one (sku, grade,
// country). Written by the admin surface, read-only for the core.
type PricingParams struct {
	SKU              string          `json:"sku"`
	Grade            int             `json:"grade"`
	CountryCode      string          `json:"country_code"`
	RefurbCost       decimal.Decimal `json:"refurb_cost"`
	OperationalCost  decimal.Decimal `json:"operational_cost"`
	WarrantyRiskCost decimal.Decimal `json:"warranty_risk_cost"`
	PlatformFeeRate  decimal.Decimal `json:"platform_fee_rate"`
	TargetMarginRate decimal.Decimal `json:"target_margin_rate"`
	PriceStep        decimal.Decimal `json:"price_step"`
	MinPrice         *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice         *decimal.Decimal `json:"max_price,omitempty"`
}

// Validate rejects parameter sets the floor computation cannot use.
func (p PricingParams) Validate() error {
	one := decimal.NewFromInt(1)
	if p.PlatformFeeRate.Sign() < 0 || p.PlatformFeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("platform_fee_rate must be in [0,1)")
	}
	if p.TargetMarginRate.Sign() < 0 || p.TargetMarginRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("target_margin_rate must be in [0,1)")
	}
	if p.PlatformFeeRate.Add(p.TargetMarginRate).GreaterThanOrEqual(one) {
		return fmt.Errorf("platform_fee_rate + target_margin_rate must be < 1")
	}
	return nil
}

// UpsertPricingParams stores a parameter set, keyed on (sku, grade, country).
func (d *DB) UpsertPricingParams(p PricingParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	minP := sql.NullString{}
	if p.MinPrice != nil {
		minP = sql.NullString{String: p.MinPrice.String(), Valid: true}
	}
	maxP := sql.NullString{}
	if p.MaxPrice != nil {
		maxP = sql.NullString{String: p.MaxPrice.String(), Valid: true}
	}
	_, err := d.sql.Exec(`
		INSERT INTO pricing_parameters (sku, grade, country_code, refurb_cost, operational_cost,
			warranty_risk_cost, platform_fee_rate, target_margin_rate, price_step, min_price, max_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku, grade, country_code) DO UPDATE SET
			refurb_cost        = excluded.refurb_cost,
			operational_cost   = excluded.operational_cost,
			warranty_risk_cost = excluded.warranty_risk_cost,
			platform_fee_rate  = excluded.platform_fee_rate,
			target_margin_rate = excluded.target_margin_rate,
			price_step         = excluded.price_step,
			min_price          = excluded.min_price,
			max_price          = excluded.max_price
	`, p.SKU, p.Grade, p.CountryCode, p.RefurbCost.String(), p.OperationalCost.String(),
		p.WarrantyRiskCost.String(), p.PlatformFeeRate.String(), p.TargetMarginRate.String(),
		p.PriceStep.String(), minP, maxP)
	return err
}

// GetPricingParams fetches the parameter set for (sku, grade, country).
// Returns (nil, nil) when absent.
func (d *DB) GetPricingParams(sku string, grade int, country string) (*PricingParams, error) {
	row := d.sql.QueryRow(`
		SELECT sku, grade, country_code, refurb_cost, operational_cost, warranty_risk_cost,
		       platform_fee_rate, target_margin_rate, price_step, min_price, max_price
		  FROM pricing_parameters
		 WHERE sku = ? AND grade = ? AND country_code = ?
	`, sku, grade, country)
	p, err := scanParams(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListPricingParams returns every parameter set for a SKU.
func (d *DB) ListPricingParams(sku string) ([]PricingParams, error) {
	rows, err := d.sql.Query(`
		SELECT sku, grade, country_code, refurb_cost, operational_cost, warranty_risk_cost,
		       platform_fee_rate, target_margin_rate, price_step, min_price, max_price
		  FROM pricing_parameters WHERE sku = ? ORDER BY grade, country_code
	`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricingParams
	for rows.Next() {
		p, err := scanParams(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanParams(row rowScanner) (*PricingParams, error) {
	var p PricingParams
	var refurb, op, risk, fee, margin, step string
	var minP, maxP sql.NullString
	if err := row.Scan(&p.SKU, &p.Grade, &p.CountryCode, &refurb, &op, &risk,
		&fee, &margin, &step, &minP, &maxP); err != nil {
		return nil, err
	}
	p.RefurbCost, _ = decimal.NewFromString(refurb)
	p.OperationalCost, _ = decimal.NewFromString(op)
	p.WarrantyRiskCost, _ = decimal.NewFromString(risk)
	p.PlatformFeeRate, _ = decimal.NewFromString(fee)
	p.TargetMarginRate, _ = decimal.NewFromString(margin)
	p.PriceStep, _ = decimal.NewFromString(step)
	if minP.Valid {
		v, err := decimal.NewFromString(minP.String)
		if err == nil {
			p.MinPrice = &v
		}
	}
	if maxP.Valid {
		v, err := decimal.NewFromString(maxP.String)
		if err == nil {
			p.MaxPrice = &v
		}
	}
	return &p, nil
}
