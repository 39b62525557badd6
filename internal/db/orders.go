package db

import (
	"database/sql"
	"time"
)

// Order is the locally mirrored view of a marketplace order. The payload is
// stored verbatim; the core only needs the key and state.
type Order struct {
	OrderID  string    `json:"order_id"`
	State    string    `json:"state"`
	Payload  string    `json:"payload"`
	SyncedAt time.Time `json:"synced_at"`
}

// UpsertOrder inserts or fully replaces a mirrored order.
func (d *DB) UpsertOrder(o Order) error {
	_, err := d.sql.Exec(`
		INSERT INTO orders (order_id, state, payload, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			state     = excluded.state,
			payload   = excluded.payload,
			synced_at = excluded.synced_at
	`, o.OrderID, o.State, o.Payload, o.SyncedAt.UTC().Format(time.RFC3339))
	return err
}

// GetOrder fetches one mirrored order. Returns (nil, nil) when absent.
func (d *DB) GetOrder(orderID string) (*Order, error) {
	var o Order
	var syncedAt string
	err := d.sql.QueryRow(`
		SELECT order_id, state, payload, synced_at FROM orders WHERE order_id = ?
	`, orderID).Scan(&o.OrderID, &o.State, &o.Payload, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
	return &o, nil
}

// ListOrders returns the most recently synced orders, newest first.
func (d *DB) ListOrders(limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.sql.Query(`
		SELECT order_id, state, payload, synced_at FROM orders
		 ORDER BY synced_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var syncedAt string
		if err := rows.Scan(&o.OrderID, &o.State, &o.Payload, &syncedAt); err != nil {
			return nil, err
		}
		o.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}
