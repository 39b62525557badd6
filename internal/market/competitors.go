package market

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"refurb-bridge/internal/pricing"
	"refurb-bridge/internal/traffic"
)

// CompetitorRecord is one raw competitor offer from the backbox endpoint.
type CompetitorRecord struct {
	MerchantID    string          `json:"merchant_id"`
	Price         decimal.Decimal `json:"price"`
	ObservedAt    time.Time       `json:"observed_at"`
	FeedbackCount int             `json:"feedback_count"`
}

type competitorSnapshot struct {
	Results []CompetitorRecord `json:"results"`
}

// Competitors fetches the competitor snapshot for a listing in one country.
// Concurrent calls for the same (listing, country) share a single fetch.
func (c *Client) Competitors(ctx context.Context, listingID, country string, prio traffic.Priority) ([]pricing.CompetitorPrice, error) {
	key := listingID + "|" + country
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		path := fmt.Sprintf("/ws/backbox/v1/competitors/%s?country=%s", listingID, country)
		var snap competitorSnapshot
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &snap, prio, 1); err != nil {
			return nil, err
		}
		out := make([]pricing.CompetitorPrice, 0, len(snap.Results))
		for _, r := range snap.Results {
			out = append(out, pricing.CompetitorPrice{
				CompetitorID:  r.MerchantID,
				Price:         r.Price,
				ObservedAt:    r.ObservedAt,
				FeedbackCount: r.FeedbackCount,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]pricing.CompetitorPrice), nil
}
