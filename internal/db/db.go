package db

import (
	"database/sql"
	"fmt"

	"refurb-bridge/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection holding the local marketplace mirror.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS kv_config (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS listings (
				listing_id        TEXT PRIMARY KEY,
				sku               TEXT NOT NULL,
				grade             INTEGER NOT NULL DEFAULT 0,
				price             TEXT NOT NULL DEFAULT '0',
				currency          TEXT NOT NULL DEFAULT 'EUR',
				quantity          INTEGER NOT NULL DEFAULT 0,
				publication_state INTEGER NOT NULL DEFAULT 0,
				last_probe_at     TEXT,
				payload           TEXT NOT NULL DEFAULT '{}',
				synced_at         TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_listings_sku ON listings(sku);

			CREATE TABLE IF NOT EXISTS listing_markets (
				listing_id   TEXT NOT NULL,
				country_code TEXT NOT NULL,
				price        TEXT NOT NULL DEFAULT '0',
				active       INTEGER NOT NULL DEFAULT 1,
				updated_at   TEXT NOT NULL,
				PRIMARY KEY (listing_id, country_code)
			);

			CREATE TABLE IF NOT EXISTS orders (
				order_id  TEXT PRIMARY KEY,
				state     TEXT NOT NULL DEFAULT '',
				payload   TEXT NOT NULL DEFAULT '{}',
				synced_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS pricing_parameters (
				sku                TEXT NOT NULL,
				grade              INTEGER NOT NULL,
				country_code       TEXT NOT NULL,
				refurb_cost        TEXT NOT NULL DEFAULT '0',
				operational_cost   TEXT NOT NULL DEFAULT '0',
				warranty_risk_cost TEXT NOT NULL DEFAULT '0',
				platform_fee_rate  TEXT NOT NULL DEFAULT '0',
				target_margin_rate TEXT NOT NULL DEFAULT '0',
				price_step         TEXT NOT NULL DEFAULT '0.01',
				min_price          TEXT,
				max_price          TEXT,
				PRIMARY KEY (sku, grade, country_code)
			);

			CREATE TABLE IF NOT EXISTS purchase_batches (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				sku         TEXT NOT NULL,
				unit_cost   TEXT NOT NULL,
				quantity    INTEGER NOT NULL,
				received_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_batches_sku ON purchase_batches(sku);

			CREATE TABLE IF NOT EXISTS sales (
				id       INTEGER PRIMARY KEY AUTOINCREMENT,
				sku      TEXT NOT NULL,
				grade    INTEGER NOT NULL DEFAULT 0,
				quantity INTEGER NOT NULL,
				price    TEXT NOT NULL,
				sold_at  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sales_sku ON sales(sku, sold_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS price_history (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				listing_id   TEXT NOT NULL,
				country_code TEXT NOT NULL,
				old_price    TEXT NOT NULL DEFAULT '0',
				new_price    TEXT NOT NULL,
				floor_price  TEXT NOT NULL DEFAULT '0',
				reason       TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id, created_at);

			CREATE TABLE IF NOT EXISTS buyback_prices (
				sku        TEXT NOT NULL,
				grade      INTEGER NOT NULL,
				price      TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (sku, grade)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (price history, buyback)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for packages that need raw access.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}
