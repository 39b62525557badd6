package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"refurb-bridge/internal/traffic"
)

// RemoteOrder is the marketplace's order representation, payload preserved.
type RemoteOrder struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`

	Raw json.RawMessage `json:"-"`
}

// OrdersPage is one page of the paginated orders endpoint.
type OrdersPage struct {
	Results []RemoteOrder
	Next    string
}

// OrdersPage fetches one page of orders at NORMAL priority, with optional
// extra query filters (e.g. modification date on incremental syncs).
func (c *Client) OrdersPage(ctx context.Context, page, limit int, filters url.Values) (*OrdersPage, error) {
	q := url.Values{}
	for k, vs := range filters {
		q[k] = vs
	}
	q.Set("page", fmt.Sprint(page))
	q.Set("limit", fmt.Sprint(limit))
	path := "/ws/buyback/v1/orders?" + q.Encode()

	var rp rawPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rp, traffic.Normal, 1); err != nil {
		return nil, err
	}
	out := &OrdersPage{Next: rp.Next}
	for _, raw := range rp.Results {
		var o RemoteOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		o.Raw = raw
		out.Results = append(out.Results, o)
	}
	return out, nil
}

// GetOrder fetches a single order at the given priority (HIGH on webhooks).
func (c *Client) GetOrder(ctx context.Context, orderID string, prio traffic.Priority) (*RemoteOrder, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/ws/buyback/v1/orders/"+orderID, nil, &raw, prio, 1); err != nil {
		return nil, err
	}
	var o RemoteOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	o.Raw = raw
	return &o, nil
}

// OrderMessage is one message on an order thread.
type OrderMessage struct {
	Body string `json:"body"`
}

// SendOrderMessage posts a message to an order thread.
func (c *Client) SendOrderMessage(ctx context.Context, orderID, body string) error {
	return c.doJSON(ctx, http.MethodPost, "/ws/buyback/v1/orders/"+orderID+"/messages",
		OrderMessage{Body: body}, nil, traffic.Normal, 1)
}

// SuspendOrder suspends an order, e.g. while a dispute is open.
func (c *Client) SuspendOrder(ctx context.Context, orderID string) error {
	return c.doJSON(ctx, http.MethodPut, "/ws/buyback/v1/orders/"+orderID+"/suspend",
		nil, nil, traffic.Normal, 1)
}
