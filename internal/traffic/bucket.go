package traffic

import (
	"fmt"
	"sync"
	"time"
)

// Bucket is an interval-window token bucket with a reservation sub-ledger.
// The whole budget renews once per interval; it is not a leaky bucket.
// Reserved tokens are invisible to CanSpend but survive refills, so a
// multi-step operation can carve out budget that a burst of ordinary
// requests cannot take away.
type Bucket struct {
	mu         sync.Mutex
	capacity   int
	interval   time.Duration
	spent      int
	reserved   int
	lastRefill time.Time

	now func() time.Time // injectable for tests
}

// NewBucket creates a full bucket of the given shape.
func NewBucket(capacity int, interval time.Duration) *Bucket {
	b := &Bucket{
		capacity: capacity,
		interval: interval,
		now:      time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// refillLocked resets the unreserved pool if at least one whole interval has
// elapsed. lastRefill advances by whole intervals only, never into the future.
func (b *Bucket) refillLocked() {
	elapsed := b.now().Sub(b.lastRefill)
	if elapsed < b.interval {
		return
	}
	intervals := elapsed / b.interval
	b.spent = 0
	b.lastRefill = b.lastRefill.Add(intervals * b.interval)
}

func (b *Bucket) availableLocked() int {
	b.refillLocked()
	n := b.capacity - b.spent - b.reserved
	if n < 0 {
		// Possible after Reconfigure to a smaller capacity.
		return 0
	}
	return n
}

// Available returns how many unreserved tokens remain in the current window.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

// CanSpend reports whether n unreserved tokens are available.
func (b *Bucket) CanSpend(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked() >= n
}

// Spend consumes n unreserved tokens. Returns false if not enough remain.
func (b *Bucket) Spend(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.availableLocked() < n {
		return false
	}
	b.spent += n
	return true
}

// Reserve moves n tokens from the unreserved pool into the reservation
// ledger. Returns false if not enough unreserved tokens remain.
func (b *Bucket) Reserve(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.availableLocked() < n {
		return false
	}
	b.reserved += n
	return true
}

// SpendReserved consumes n previously reserved tokens.
func (b *Bucket) SpendReserved(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if n > b.reserved {
		return fmt.Errorf("spend reserved: %d requested, %d reserved", n, b.reserved)
	}
	b.reserved -= n
	b.spent += n
	return nil
}

// ReleaseReservation returns n reserved tokens to the unreserved pool.
// Releasing more than is reserved releases what is there.
func (b *Bucket) ReleaseReservation(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.reserved {
		n = b.reserved
	}
	b.reserved -= n
}

// Reserved returns the size of the reservation ledger.
func (b *Bucket) Reserved() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reserved
}

// Reconfigure atomically changes the bucket shape. In-flight reservations
// survive; the next refill uses the new capacity.
func (b *Bucket) Reconfigure(capacity int, interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.interval = interval
}
