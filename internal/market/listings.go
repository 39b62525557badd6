package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"refurb-bridge/internal/traffic"
)

// RemoteListing is the marketplace's own listing representation. Raw keeps
// the untouched payload for the local mirror.
type RemoteListing struct {
	ListingID        string          `json:"listing_id"`
	SKU              string          `json:"sku"`
	Grade            int             `json:"grade"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	Quantity         int             `json:"quantity"`
	PublicationState int             `json:"publication_state"`

	Raw json.RawMessage `json:"-"`
}

// ListingsPage is one page of the paginated listings endpoint.
type ListingsPage struct {
	Results []RemoteListing
	Next    string
}

type rawPage struct {
	Results []json.RawMessage `json:"results"`
	Next    string            `json:"next"`
}

// ListingsPage fetches one page of listings at NORMAL priority.
func (c *Client) ListingsPage(ctx context.Context, page, limit int) (*ListingsPage, error) {
	path := fmt.Sprintf("/ws/listings?page=%d&limit=%d", page, limit)
	var rp rawPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rp, traffic.Normal, 1); err != nil {
		return nil, err
	}
	out := &ListingsPage{Next: rp.Next}
	for _, raw := range rp.Results {
		var l RemoteListing
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		l.Raw = raw
		out.Results = append(out.Results, l)
	}
	return out, nil
}

// GetListing fetches a single listing at the given priority.
func (c *Client) GetListing(ctx context.Context, listingID string, prio traffic.Priority) (*RemoteListing, error) {
	var raw json.RawMessage
	path := "/ws/listings/" + listingID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw, prio, 1); err != nil {
		return nil, err
	}
	var l RemoteListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", listingID, err)
	}
	l.Raw = raw
	return &l, nil
}

// ListingUpdate is the mutable subset of a listing the core publishes.
type ListingUpdate struct {
	Price       *decimal.Decimal `json:"price,omitempty"`
	Quantity    *int             `json:"quantity,omitempty"`
	CountryCode string           `json:"country_code,omitempty"`
}

// UpdateListing publishes a listing mutation. Priority and cost are caller
// controlled: the repricing pipeline derives priority from margin and
// velocity, and the probe dips at cost 1 with its peak token held in a
// reservation taken out beforehand.
func (c *Client) UpdateListing(ctx context.Context, listingID string, upd ListingUpdate, prio traffic.Priority, cost int) error {
	return c.doJSON(ctx, http.MethodPost, "/ws/listings/"+listingID, upd, nil, prio, cost)
}

// UpdateListingReserved publishes a mutation at zero token cost, riding a
// budget reservation (the probe's peak restore).
func (c *Client) UpdateListingReserved(ctx context.Context, listingID string, upd ListingUpdate, prio traffic.Priority, res *traffic.Reservation) error {
	return c.doJSONReserved(ctx, http.MethodPost, "/ws/listings/"+listingID, upd, nil, prio, res)
}

// bulkTaskDone and bulkTaskFailed are the observed completion codes of the
// marketplace's async import tasks.
const (
	bulkTaskDone   = 9
	bulkTaskFailed = 8
)

type bulkUploadBody struct {
	Catalog   string `json:"catalog"`
	Delimiter string `json:"delimiter"`
	Encoding  string `json:"encoding"`
}

type bulkTask struct {
	TaskID int64 `json:"task_id"`
}

type taskStatus struct {
	Status int `json:"status"`
}

// BulkUpload submits a CSV catalog and returns the async task id.
func (c *Client) BulkUpload(ctx context.Context, csv, delimiter, encoding string) (int64, error) {
	body := bulkUploadBody{Catalog: csv, Delimiter: delimiter, Encoding: encoding}
	var task bulkTask
	if err := c.doJSON(ctx, http.MethodPost, "/ws/listings", body, &task, traffic.Normal, 1); err != nil {
		return 0, err
	}
	return task.TaskID, nil
}

// WaitTask polls an async import task until it completes or attempts run
// out. Polling happens at LOW priority so it never crowds out repricing.
func (c *Client) WaitTask(ctx context.Context, taskID int64, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 30
	}
	path := fmt.Sprintf("/ws/tasks/%d", taskID)
	for i := 0; i < attempts; i++ {
		var st taskStatus
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &st, traffic.Low, 1); err != nil {
			return err
		}
		switch st.Status {
		case bulkTaskDone:
			return nil
		case bulkTaskFailed:
			return fmt.Errorf("bulk task %d failed", taskID)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("bulk task %d still pending after %d polls", taskID, attempts)
}
