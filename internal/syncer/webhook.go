package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"refurb-bridge/internal/logger"
	"refurb-bridge/internal/traffic"
)

// webhookPayload is the envelope shared by every event type we care about.
type webhookPayload struct {
	OrderID   string `json:"order_id"`
	ListingID string `json:"listing_id"`
}

// HandleWebhook reacts to a marketplace push event by refetching the named
// resource at HIGH priority and upserting it. Unknown event types are
// logged and ignored; the webhook endpoint still answers 200 for them.
func (s *Syncer) HandleWebhook(ctx context.Context, eventType string, payload []byte) error {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	switch eventType {
	case "order.created", "order.updated":
		if p.OrderID == "" {
			return fmt.Errorf("%s event without order_id", eventType)
		}
		o, err := s.mkt.GetOrder(ctx, p.OrderID, traffic.High)
		if err != nil {
			return fmt.Errorf("refetch order %s: %w", p.OrderID, err)
		}
		return s.upsertOrder(*o)

	case "listing.updated":
		if p.ListingID == "" {
			return fmt.Errorf("%s event without listing_id", eventType)
		}
		l, err := s.mkt.GetListing(ctx, p.ListingID, traffic.High)
		if err != nil {
			return fmt.Errorf("refetch listing %s: %w", p.ListingID, err)
		}
		return s.upsertListing(*l)

	default:
		logger.Warn("WEBHOOK", "ignoring unknown event type "+eventType)
		return nil
	}
}
