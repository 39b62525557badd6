package traffic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"refurb-bridge/internal/config"
)

// ErrCancelled is returned for requests dropped by shutdown or deadline.
var ErrCancelled = errors.New("request cancelled")

// ErrInsufficientBudget is returned when a reservation cannot be satisfied
// from the current window.
var ErrInsufficientBudget = errors.New("insufficient token budget")

// DefaultTimeout bounds a request from enqueue to response when the caller
// supplies no deadline of its own.
const DefaultTimeout = 30 * time.Second

const maxRetries = 3

// Doer abstracts the HTTP transport so tests can substitute a fake.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request describes one outbound marketplace call.
type Request struct {
	URL      string
	Method   string
	Header   map[string]string
	Body     []byte
	Priority Priority
	Cost     int // tokens; 0 means ride Reservation instead
	Retries  int

	// Reservation backs a zero-cost request. The dispatcher debits it when
	// the request is accepted, so the handle's Release returns only tokens
	// no dispatch ever used.
	Reservation *Reservation
}

// Response is a fully-read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Result is the resolution of a scheduled request: a response or an error,
// never both.
type Result struct {
	Response *Response
	Err      error
}

// Outcome tags a dispatch-log entry.
type Outcome string

const (
	OutcomeExecuted Outcome = "EXECUTED"
	Outcome429Hit   Outcome = "429_HIT"
	OutcomeError    Outcome = "ERROR"
)

// LogEntry is handed to the controller's log sink after every dispatch.
type LogEntry struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Priority string        `json:"priority"`
	Outcome  Outcome       `json:"outcome"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration_ms"`
	At       time.Time     `json:"timestamp"`
}

type pendingRequest struct {
	req        Request
	ctx        context.Context
	cancel     context.CancelFunc
	result     chan Result
	enqueuedAt time.Time
}

// Controller serialises every outbound request to the marketplace API.
// Each of the four bucket classes owns a token bucket and a priority queue;
// a request dispatches only when both the Global bucket and its class bucket
// have tokens for its cost. One dispatcher goroutine runs per class.
type Controller struct {
	// LogSink, if set, receives one entry per dispatch attempt. It must not
	// call back into the controller. Set before first Schedule.
	LogSink func(LogEntry)

	// Backoff is the dispatcher's re-check delay when a bucket is dry.
	Backoff time.Duration
	// RetryBase scales the 429 exponential backoff (RetryBase · 2^retries).
	RetryBase time.Duration

	transport Doer

	mu         sync.Mutex
	buckets    [numClasses]*Bucket
	queues     [numClasses]*queue
	processing [numClasses]bool
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewController builds a controller with one bucket per class from the given
// rate limits.
func NewController(rl config.RateLimits, transport Doer) *Controller {
	c := &Controller{
		Backoff:   100 * time.Millisecond,
		RetryBase: time.Second,
		transport: transport,
		done:      make(chan struct{}),
	}
	specs := [numClasses]config.BucketSpec{
		Global:     rl.Global,
		Catalog:    rl.Catalog,
		Competitor: rl.Competitor,
		Care:       rl.Care,
	}
	for cls := 0; cls < numClasses; cls++ {
		c.buckets[cls] = NewBucket(specs[cls].MaxRequests, specs[cls].Interval())
		c.queues[cls] = &queue{}
	}
	return c
}

// UpdateConfig atomically reconfigures every bucket. In-flight reservations
// survive; refill windows keep their phase.
func (c *Controller) UpdateConfig(rl config.RateLimits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets[Global].Reconfigure(rl.Global.MaxRequests, rl.Global.Interval())
	c.buckets[Catalog].Reconfigure(rl.Catalog.MaxRequests, rl.Catalog.Interval())
	c.buckets[Competitor].Reconfigure(rl.Competitor.MaxRequests, rl.Competitor.Interval())
	c.buckets[Care].Reconfigure(rl.Care.MaxRequests, rl.Care.Interval())
}

// Schedule classifies, enqueues, and eventually dispatches a request.
// The returned channel receives exactly one Result.
func (c *Controller) Schedule(ctx context.Context, req Request) <-chan Result {
	result := make(chan Result, 1)
	if ctx == nil {
		ctx = context.Background()
	}
	item := &pendingRequest{req: req, result: result}
	if _, ok := ctx.Deadline(); !ok {
		item.ctx, item.cancel = context.WithTimeout(ctx, DefaultTimeout)
	} else {
		item.ctx = ctx
	}
	item.enqueuedAt = time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.resolve(item, Result{Err: fmt.Errorf("controller closed: %w", ErrCancelled)})
		return result
	}
	class := Classify(req.URL)
	c.queues[class].push(item)
	c.ensureDispatcherLocked(class)
	c.mu.Unlock()
	return result
}

// ensureDispatcherLocked starts the class dispatcher loop unless one is
// already running. Caller holds c.mu.
func (c *Controller) ensureDispatcherLocked(class Class) {
	if c.processing[class] {
		return
	}
	c.processing[class] = true
	go c.run(class)
}

// run is the single dispatcher loop for one class. It exits when the class
// queue is empty or the controller closes.
func (c *Controller) run(class Class) {
	for {
		c.mu.Lock()
		if c.closed {
			c.processing[class] = false
			c.mu.Unlock()
			return
		}
		item := c.queues[class].peek()
		if item == nil {
			c.processing[class] = false
			c.mu.Unlock()
			return
		}
		if item.ctx.Err() != nil {
			c.queues[class].pop()
			c.mu.Unlock()
			c.resolve(item, Result{Err: fmt.Errorf("%w: %v", ErrCancelled, item.ctx.Err())})
			continue
		}

		global := c.buckets[Global]
		var classBucket *Bucket
		if class != Global {
			classBucket = c.buckets[class]
		}

		cost := item.req.Cost
		if cost > 0 {
			if !global.CanSpend(cost) || (classBucket != nil && !classBucket.CanSpend(cost)) {
				c.mu.Unlock()
				if !c.pause(c.Backoff) {
					return
				}
				continue
			}
			c.queues[class].pop()
			global.Spend(cost)
			if classBucket != nil {
				classBucket.Spend(cost)
			}
		} else {
			// Zero cost rides a prior reservation (probe path). The handle
			// is debited here, at acceptance; once the request is past this
			// point the token is gone whatever the transport does.
			c.queues[class].pop()
			if item.req.Reservation == nil {
				c.mu.Unlock()
				c.resolve(item, Result{Err: errors.New("zero-cost request without reservation")})
				continue
			}
			if err := item.req.Reservation.spendOne(); err != nil {
				c.mu.Unlock()
				c.resolve(item, Result{Err: err})
				continue
			}
		}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.perform(item)
	}
}

// pause sleeps for d, returning false if the controller closed meanwhile.
func (c *Controller) pause(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.done:
		return false
	}
}

// perform executes one dispatched request off the dispatcher loop.
func (c *Controller) perform(item *pendingRequest) {
	defer c.wg.Done()

	start := time.Now()
	var bodyReader io.Reader
	if len(item.req.Body) > 0 {
		bodyReader = bytes.NewReader(item.req.Body)
	}
	httpReq, err := http.NewRequestWithContext(item.ctx, item.req.Method, item.req.URL, bodyReader)
	if err != nil {
		c.log(item, OutcomeError, 0, time.Since(start))
		c.resolve(item, Result{Err: fmt.Errorf("build request: %w", err)})
		return
	}
	for k, v := range item.req.Header {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.transport.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.log(item, OutcomeError, 0, duration)
		if item.ctx.Err() != nil {
			c.resolve(item, Result{Err: fmt.Errorf("%w: %v", ErrCancelled, item.ctx.Err())})
			return
		}
		c.resolve(item, Result{Err: fmt.Errorf("network: %w", err)})
		return
	}
	respBody, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}

	if resp.Status == http.StatusTooManyRequests && item.req.Retries < maxRetries {
		c.log(item, Outcome429Hit, resp.Status, duration)
		item.req.Retries++
		// Tokens already spent are not refunded: the remote counted them.
		delay := c.RetryBase * time.Duration(1<<item.req.Retries)
		select {
		case <-time.After(delay):
		case <-item.ctx.Done():
			c.resolve(item, Result{Err: fmt.Errorf("%w: %v", ErrCancelled, item.ctx.Err())})
			return
		case <-c.done:
			c.resolve(item, Result{Err: fmt.Errorf("controller closed: %w", ErrCancelled)})
			return
		}
		c.reenqueue(item)
		return
	}

	c.log(item, OutcomeExecuted, resp.Status, duration)
	c.resolve(item, Result{Response: resp})
}

// reenqueue puts a 429-hit request back at its original priority.
func (c *Controller) reenqueue(item *pendingRequest) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.resolve(item, Result{Err: fmt.Errorf("controller closed: %w", ErrCancelled)})
		return
	}
	class := Classify(item.req.URL)
	c.queues[class].push(item)
	c.ensureDispatcherLocked(class)
	c.mu.Unlock()
}

func (c *Controller) resolve(item *pendingRequest, r Result) {
	if item.cancel != nil {
		item.cancel()
	}
	item.result <- r
}

func (c *Controller) log(item *pendingRequest, outcome Outcome, status int, duration time.Duration) {
	if c.LogSink == nil {
		return
	}
	c.LogSink(LogEntry{
		ID:       uuid.NewString(),
		URL:      item.req.URL,
		Priority: item.req.Priority.String(),
		Outcome:  outcome,
		Status:   status,
		Duration: duration,
		At:       time.Now(),
	})
}

// Reservation is a first-class handle over tokens carved out of the Global
// bucket and one class bucket for a multi-step operation.
type Reservation struct {
	c     *Controller
	class Class

	mu        sync.Mutex
	remaining int
}

// ReserveBudget moves n tokens into the reservation ledger of both the
// Global bucket and the class bucket. All-or-nothing: on failure nothing
// stays reserved and ErrInsufficientBudget is returned.
func (c *Controller) ReserveBudget(class Class, n int) (*Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("controller closed: %w", ErrCancelled)
	}
	global := c.buckets[Global]
	if !global.Reserve(n) {
		return nil, ErrInsufficientBudget
	}
	if class != Global && !c.buckets[class].Reserve(n) {
		global.ReleaseReservation(n)
		return nil, ErrInsufficientBudget
	}
	return &Reservation{c: c, class: class, remaining: n}, nil
}

// spendOne debits the handle and marks one reserved token spent in both
// buckets. The dispatcher calls it when accepting a zero-cost request;
// holding r.mu across the bucket updates keeps the handle and the ledgers
// in step even with a concurrent Release.
func (r *Reservation) spendOne() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remaining == 0 {
		return fmt.Errorf("reservation exhausted: %w", ErrInsufficientBudget)
	}
	if err := r.c.buckets[Global].SpendReserved(1); err != nil {
		return err
	}
	if r.class != Global {
		if err := r.c.buckets[r.class].SpendReserved(1); err != nil {
			return err
		}
	}
	r.remaining--
	return nil
}

// Release returns the unconsumed remainder of the reservation to both
// buckets. Safe to call more than once.
func (r *Reservation) Release() {
	r.mu.Lock()
	n := r.remaining
	r.remaining = 0
	r.mu.Unlock()
	if n == 0 {
		return
	}
	r.c.buckets[Global].ReleaseReservation(n)
	if r.class != Global {
		r.c.buckets[r.class].ReleaseReservation(n)
	}
}

// Close stops dispatching, rejects everything still queued, and waits a
// bounded time for in-flight requests to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	var dropped []*pendingRequest
	for cls := 0; cls < numClasses; cls++ {
		dropped = append(dropped, c.queues[cls].drain()...)
	}
	c.mu.Unlock()

	for _, item := range dropped {
		c.resolve(item, Result{Err: fmt.Errorf("shutdown: %w", ErrCancelled)})
	}

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
	}
}
