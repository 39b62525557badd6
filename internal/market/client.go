package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/sync/singleflight"

	"refurb-bridge/internal/traffic"
)

// StatusError is a non-2xx marketplace response surfaced to the caller.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketplace %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure class is worth re-issuing later.
// 429 here means the controller already burned its retries.
func (e *StatusError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client is the typed marketplace API surface. Every call is paced through
// the traffic controller; the client itself never talks HTTP directly.
type Client struct {
	baseURL string
	token   string
	tc      *traffic.Controller

	// group collapses concurrent competitor fetches for the same key; the
	// competitor bucket is the tightest quota there is.
	group singleflight.Group
}

// NewClient wires a marketplace client to its traffic controller.
func NewClient(baseURL, token string, tc *traffic.Controller) *Client {
	return &Client{baseURL: baseURL, token: token, tc: tc}
}

// Controller exposes the underlying traffic controller for budget
// reservations (probe protocol).
func (c *Client) Controller() *traffic.Controller {
	return c.tc
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
		"User-Agent":   "refurb-bridge/1.0",
	}
	if c.token != "" {
		h["Authorization"] = "Basic " + c.token
	}
	return h
}

// do schedules one request and waits for its resolution.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, prio traffic.Priority, cost int, res *traffic.Reservation) (*traffic.Response, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}
	out := <-c.tc.Schedule(ctx, traffic.Request{
		URL:         c.baseURL + path,
		Method:      method,
		Header:      c.headers(),
		Body:        raw,
		Priority:    prio,
		Cost:        cost,
		Reservation: res,
	})
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Response, nil
}

// decodeResponse turns a 2xx response into dst; non-2xx becomes *StatusError.
func decodeResponse(resp *traffic.Response, method, path string, dst interface{}) error {
	if resp.Status < 200 || resp.Status >= 300 {
		return &StatusError{Status: resp.Status, Body: string(resp.Body)}
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// doJSON schedules a costed request and decodes the response.
func (c *Client) doJSON(ctx context.Context, method, path string, body, dst interface{}, prio traffic.Priority, cost int) error {
	resp, err := c.do(ctx, method, path, body, prio, cost, nil)
	if err != nil {
		return err
	}
	return decodeResponse(resp, method, path, dst)
}

// doJSONReserved is doJSON for zero-cost dispatches riding a prior budget
// reservation.
func (c *Client) doJSONReserved(ctx context.Context, method, path string, body, dst interface{}, prio traffic.Priority, res *traffic.Reservation) error {
	resp, err := c.do(ctx, method, path, body, prio, 0, res)
	if err != nil {
		return err
	}
	return decodeResponse(resp, method, path, dst)
}
