package syncer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"refurb-bridge/internal/db"
	"refurb-bridge/internal/logger"
	"refurb-bridge/internal/market"
)

const (
	pageSize = 50
	// incrementalPageCap bounds an incremental order sync; anything older
	// is picked up by the next full sync.
	incrementalPageCap = 5
)

// lastOrderSyncKey stores the start time of the last completed order sync,
// used as the modification filter for incremental runs.
const lastOrderSyncKey = "last_order_sync_at"

// Syncer mirrors marketplace listings and orders into the local store.
type Syncer struct {
	store *db.DB
	mkt   *market.Client

	now func() time.Time
}

// New builds a Syncer over the local mirror and the paced client.
func New(store *db.DB, mkt *market.Client) *Syncer {
	return &Syncer{store: store, mkt: mkt, now: time.Now}
}

// SyncListings walks the paginated listings endpoint and upserts every
// record. A non-2xx page aborts the run; the next cycle starts over.
func (s *Syncer) SyncListings(ctx context.Context) (int, error) {
	synced := 0
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		resp, err := s.mkt.ListingsPage(ctx, page, pageSize)
		if err != nil {
			return synced, fmt.Errorf("listings page %d: %w", page, err)
		}
		for _, r := range resp.Results {
			if err := s.upsertListing(r); err != nil {
				logger.Warn("SYNC", fmt.Sprintf("listing %s: %v", r.ListingID, err))
				continue
			}
			synced++
		}
		if resp.Next == "" {
			break
		}
	}
	logger.Info("SYNC", fmt.Sprintf("listings: %d records", synced))
	return synced, nil
}

// SyncOrders walks the paginated orders endpoint. Full runs walk every
// page; incremental runs filter on the last sync time and stop after a few
// pages, trusting webhooks for the long tail.
func (s *Syncer) SyncOrders(ctx context.Context, full bool) (int, error) {
	started := s.now()

	var filters url.Values
	if !full {
		if v, ok := s.store.GetValue(lastOrderSyncKey); ok {
			filters = url.Values{"date_modification": {v}}
		}
	}

	synced := 0
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		resp, err := s.mkt.OrdersPage(ctx, page, pageSize, filters)
		if err != nil {
			return synced, fmt.Errorf("orders page %d: %w", page, err)
		}
		for _, r := range resp.Results {
			if err := s.upsertOrder(r); err != nil {
				logger.Warn("SYNC", fmt.Sprintf("order %s: %v", r.OrderID, err))
				continue
			}
			synced++
		}
		if resp.Next == "" {
			break
		}
		if !full && page >= incrementalPageCap {
			logger.Warn("SYNC", fmt.Sprintf("orders: incremental run capped at %d pages", incrementalPageCap))
			break
		}
	}

	if err := s.store.SetValue(lastOrderSyncKey, started.UTC().Format(time.RFC3339)); err != nil {
		logger.Warn("SYNC", fmt.Sprintf("record sync watermark: %v", err))
	}
	logger.Info("SYNC", fmt.Sprintf("orders: %d records", synced))
	return synced, nil
}

func (s *Syncer) upsertListing(r market.RemoteListing) error {
	return s.store.UpsertListing(db.Listing{
		ListingID:        r.ListingID,
		SKU:              r.SKU,
		Grade:            r.Grade,
		Price:            r.Price,
		Currency:         r.Currency,
		Quantity:         r.Quantity,
		PublicationState: r.PublicationState,
		Payload:          string(r.Raw),
		SyncedAt:         s.now(),
	})
}

func (s *Syncer) upsertOrder(r market.RemoteOrder) error {
	return s.store.UpsertOrder(db.Order{
		OrderID:  r.OrderID,
		State:    r.State,
		Payload:  string(r.Raw),
		SyncedAt: s.now(),
	})
}
