package db

import (
	"database/sql"
	"encoding/json"

	"refurb-bridge/internal/config"
)

// rateLimitsKey is the KV slot holding the hot-swappable bucket config.
const rateLimitsKey = "backmarket_rate_limits"

// GetValue reads one KV config entry. Returns ("", false) when absent.
func (d *DB) GetValue(key string) (string, bool) {
	var v string
	err := d.sql.QueryRow(`SELECT value FROM kv_config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows || err != nil {
		return "", false
	}
	return v, true
}

// SetValue writes one KV config entry.
func (d *DB) SetValue(key, value string) error {
	_, err := d.sql.Exec(`
		INSERT INTO kv_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LoadRateLimits returns the persisted bucket config, or fallback when none
// has been stored yet.
func (d *DB) LoadRateLimits(fallback config.RateLimits) config.RateLimits {
	raw, ok := d.GetValue(rateLimitsKey)
	if !ok {
		return fallback
	}
	var rl config.RateLimits
	if err := json.Unmarshal([]byte(raw), &rl); err != nil {
		return fallback
	}
	return rl
}

// SaveRateLimits persists the bucket config so a restart keeps the shape an
// operator last applied.
func (d *DB) SaveRateLimits(rl config.RateLimits) error {
	raw, err := json.Marshal(rl)
	if err != nil {
		return err
	}
	return d.SetValue(rateLimitsKey, string(raw))
}
