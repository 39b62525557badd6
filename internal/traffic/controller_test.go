package traffic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"refurb-bridge/internal/config"
)

// fakeTransport records request order and lets tests script responses.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	handler func(req *http.Request) (*http.Response, error)
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL.String())
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(req)
	}
	return okResponse(), nil
}

func (f *fakeTransport) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}
}

func statusResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("{}")),
	}
}

func limits(globalMax int, globalInterval time.Duration) config.RateLimits {
	big := config.BucketSpec{IntervalMS: 1000, MaxRequests: 1000}
	return config.RateLimits{
		Global:     config.BucketSpec{IntervalMS: globalInterval.Milliseconds(), MaxRequests: globalMax},
		Catalog:    big,
		Competitor: big,
		Care:       big,
	}
}

func newTestController(t *testing.T, rl config.RateLimits, ft *fakeTransport) *Controller {
	t.Helper()
	c := NewController(rl, ft)
	c.Backoff = 10 * time.Millisecond
	c.RetryBase = 10 * time.Millisecond
	t.Cleanup(c.Close)
	return c
}

func TestController_HappyPath(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(10, time.Second), ft)

	res := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/1", Method: "GET", Priority: Normal, Cost: 1,
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Response.Status != 200 {
		t.Errorf("status = %d, want 200", res.Response.Status)
	}
}

func TestController_RateLimitQueueing(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(1, 300*time.Millisecond), ft)

	start := time.Now()
	urls := []string{
		"https://m.test/ws/listings/a",
		"https://m.test/ws/listings/b",
		"https://m.test/ws/listings/c",
	}
	var futures []<-chan Result
	for _, u := range urls {
		futures = append(futures, c.Schedule(context.Background(), Request{
			URL: u, Method: "GET", Priority: Normal, Cost: 1,
		}))
	}
	for i, f := range futures {
		res := <-f
		if res.Err != nil || res.Response.Status != 200 {
			t.Fatalf("request %d failed: %+v", i, res)
		}
	}
	if elapsed := time.Since(start); elapsed < 600*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 600ms for three requests at 1/300ms", elapsed)
	}
	if got := ft.callOrder(); len(got) != 3 || !strings.HasSuffix(got[0], "/a") ||
		!strings.HasSuffix(got[1], "/b") || !strings.HasSuffix(got[2], "/c") {
		t.Errorf("dispatch order = %v, want enqueue order", got)
	}
}

func TestController_PriorityPreemption(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(1, 250*time.Millisecond), ft)

	// Empty the global bucket.
	<-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/first", Method: "GET", Priority: Normal, Cost: 1,
	})

	// Enqueue LOW before HIGH while the bucket is dry.
	lowF := c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/low", Method: "GET", Priority: Low, Cost: 1,
	})
	time.Sleep(20 * time.Millisecond)
	highF := c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/high", Method: "GET", Priority: High, Cost: 1,
	})
	<-lowF
	<-highF

	order := ft.callOrder()
	if len(order) != 3 {
		t.Fatalf("calls = %v, want 3", order)
	}
	if !strings.HasSuffix(order[1], "/high") || !strings.HasSuffix(order[2], "/low") {
		t.Errorf("dispatch order = %v, want high before low", order)
	}
}

func TestController_429Retry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	ft := &fakeTransport{handler: func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return statusResponse(429), nil
		}
		return okResponse(), nil
	}}

	var logMu sync.Mutex
	var outcomes []Outcome
	c := newTestController(t, limits(10, time.Second), ft)
	c.LogSink = func(e LogEntry) {
		logMu.Lock()
		outcomes = append(outcomes, e.Outcome)
		logMu.Unlock()
	}

	res := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/42", Method: "POST", Priority: Normal, Cost: 1,
	})
	if res.Err != nil || res.Response.Status != 200 {
		t.Fatalf("want eventual 200, got %+v", res)
	}

	logMu.Lock()
	defer logMu.Unlock()
	if len(outcomes) != 2 || outcomes[0] != Outcome429Hit || outcomes[1] != OutcomeExecuted {
		t.Errorf("log outcomes = %v, want [429_HIT EXECUTED]", outcomes)
	}
}

func TestController_429GivesUpAfterMaxRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	ft := &fakeTransport{handler: func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return statusResponse(429), nil
	}}
	c := newTestController(t, limits(100, time.Second), ft)

	res := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/9", Method: "POST", Priority: Normal, Cost: 1,
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	// The final 429 is surfaced unmodified after 3 retries.
	if res.Response.Status != 429 {
		t.Errorf("status = %d, want 429", res.Response.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4 (original + 3 retries)", attempts)
	}
}

func TestController_NetworkErrorSurfaced(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
	c := newTestController(t, limits(10, time.Second), ft)

	res := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/1", Method: "GET", Priority: Normal, Cost: 1,
	})
	if res.Err == nil {
		t.Fatal("expected network error")
	}
}

func TestController_ReservedDispatch(t *testing.T) {
	ft := &fakeTransport{}
	rl := limits(2, time.Hour) // no refill during the test
	rl.Catalog = config.BucketSpec{IntervalMS: time.Hour.Milliseconds(), MaxRequests: 2}
	c := newTestController(t, rl, ft)

	res, err := c.ReserveBudget(Catalog, 1)
	if err != nil {
		t.Fatalf("ReserveBudget: %v", err)
	}

	// Drain what is left of both buckets.
	<-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/drain", Method: "GET", Priority: Normal, Cost: 1,
	})

	// A costed request would now block until refill (an hour away); the
	// zero-cost request must ride the reservation immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := <-c.Schedule(ctx, Request{
		URL: "https://m.test/ws/listings/reserved", Method: "POST", Priority: High, Cost: 0, Reservation: res,
	})
	if out.Err != nil || out.Response.Status != 200 {
		t.Fatalf("reserved dispatch failed: %+v", out)
	}
	res.Release() // no-op, the dispatch debited the handle
}

func TestController_FailedReservedDispatchDoesNotRefund(t *testing.T) {
	ft := &fakeTransport{handler: func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	}}
	rl := limits(4, time.Hour)
	rl.Catalog = config.BucketSpec{IntervalMS: time.Hour.Milliseconds(), MaxRequests: 4}
	c := newTestController(t, rl, ft)

	mine, err := c.ReserveBudget(Catalog, 1)
	if err != nil {
		t.Fatalf("ReserveBudget: %v", err)
	}
	other, err := c.ReserveBudget(Catalog, 1)
	if err != nil {
		t.Fatalf("ReserveBudget: %v", err)
	}

	out := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/L1", Method: "POST", Priority: High, Cost: 0, Reservation: mine,
	})
	if out.Err == nil {
		t.Fatal("expected transport failure")
	}
	// The token went out with the failed dispatch; releasing the handle
	// afterwards must not touch the other reservation's token.
	mine.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ft.handler = nil
	out = <-c.Schedule(ctx, Request{
		URL: "https://m.test/ws/listings/L2", Method: "POST", Priority: High, Cost: 0, Reservation: other,
	})
	if out.Err != nil || out.Response.Status != 200 {
		t.Fatalf("second reservation lost its token: %+v", out)
	}
}

func TestController_ZeroCostWithoutReservation(t *testing.T) {
	c := newTestController(t, limits(5, time.Hour), &fakeTransport{})
	out := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/L1", Method: "POST", Priority: High, Cost: 0,
	})
	if out.Err == nil {
		t.Fatal("zero-cost request without a reservation must be rejected")
	}
}

func TestController_ReserveBudgetInsufficient(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(1, time.Hour), ft)

	if _, err := c.ReserveBudget(Catalog, 5); !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("err = %v, want ErrInsufficientBudget", err)
	}
}

func TestController_ReservationRelease(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(3, time.Hour), ft)

	res, err := c.ReserveBudget(Competitor, 2)
	if err != nil {
		t.Fatalf("ReserveBudget: %v", err)
	}
	res.Release()

	// All three tokens usable again.
	for i := 0; i < 3; i++ {
		out := <-c.Schedule(context.Background(), Request{
			URL: "https://m.test/ws/backbox/v1/competitors/1", Method: "GET", Priority: Normal, Cost: 1,
		})
		if out.Err != nil {
			t.Fatalf("request %d after release: %v", i, out.Err)
		}
	}
}

func TestController_CancelWhileQueued(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(1, time.Hour), ft)

	// Drain the bucket so the next request stays queued.
	<-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/drain", Method: "GET", Priority: Normal, Cost: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f := c.Schedule(ctx, Request{
		URL: "https://m.test/ws/listings/queued", Method: "GET", Priority: Normal, Cost: 1,
	})
	cancel()

	res := <-f
	if !errors.Is(res.Err, ErrCancelled) {
		t.Fatalf("err = %v, want cancellation", res.Err)
	}
	if calls := ft.callOrder(); len(calls) != 1 {
		t.Errorf("cancelled request should not dispatch, calls = %v", calls)
	}
}

func TestController_CloseRejectsQueued(t *testing.T) {
	ft := &fakeTransport{}
	c := NewController(limits(1, time.Hour), ft)
	c.Backoff = 10 * time.Millisecond

	<-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/drain", Method: "GET", Priority: Normal, Cost: 1,
	})
	f := c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/stuck", Method: "GET", Priority: Normal, Cost: 1,
	})
	c.Close()

	res := <-f
	if !errors.Is(res.Err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", res.Err)
	}

	// Scheduling after close fails fast.
	res2 := <-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/late", Method: "GET", Priority: Normal, Cost: 1,
	})
	if !errors.Is(res2.Err, ErrCancelled) {
		t.Errorf("post-close err = %v, want ErrCancelled", res2.Err)
	}
}

func TestController_UpdateConfig(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestController(t, limits(1, time.Hour), ft)

	<-c.Schedule(context.Background(), Request{
		URL: "https://m.test/ws/listings/one", Method: "GET", Priority: Normal, Cost: 1,
	})

	// Widen the global bucket; the queued request should now pass on the
	// next refill window.
	rl := limits(100, 50*time.Millisecond)
	c.UpdateConfig(rl)

	done := make(chan struct{})
	go func() {
		<-c.Schedule(context.Background(), Request{
			URL: "https://m.test/ws/listings/two", Method: "GET", Priority: Normal, Cost: 1,
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not dispatch after reconfigure")
	}
}
