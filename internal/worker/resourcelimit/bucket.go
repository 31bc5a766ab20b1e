// Package resourcelimit implements fuel/resource-consumption budgeting for
// worker invocations: a token bucket refilled on a fixed period, the same
// shape as the teacher's containment-action rate limiter, repurposed here
// to bound WASM fuel and memory growth rather than escalation actions.
package resourcelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what a consumption request is spending budget on.
type Kind string

const (
	KindFuel         Kind = "fuel"
	KindMemoryGrowth Kind = "memory_growth"
	KindInvocation   Kind = "invocation"
)

// CostModel maps a Kind to its per-unit cost. Callers scale the cost by the
// amount requested (e.g. bytes of memory growth) before calling Consume.
type CostModel map[Kind]int64

// DefaultCostModel charges 1 token per unit for fuel and memory growth, and
// a flat 1 token per invocation — conservative defaults a deployment is
// expected to tune via configuration.
func DefaultCostModel() CostModel {
	return CostModel{
		KindFuel:         1,
		KindMemoryGrowth: 1,
		KindInvocation:   1,
	}
}

// Bucket is a thread-safe token bucket bounding a worker's resource
// consumption (§7 ResourceLimitExceeded).
type Bucket struct {
	mu           sync.Mutex
	capacity     int64
	tokens       int64
	refillPeriod time.Duration
	costs        CostModel

	consumedTotal atomic.Uint64
	refillCount   atomic.Uint64

	stop chan struct{}
}

// New creates a Bucket with the given capacity and starts its refill
// goroutine. Call Close to stop it.
func New(capacity int64, refillPeriod time.Duration, costs CostModel) *Bucket {
	if capacity <= 0 {
		panic("resourcelimit.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("resourcelimit.Bucket: refillPeriod must be > 0")
	}
	if costs == nil {
		costs = DefaultCostModel()
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		costs:        costs,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to spend `units` of the given Kind, returning false if
// insufficient budget remains.
// Consume attempts to spend cost = costs[kind]*units tokens, returning the
// amount actually consumed (0 on rejection) and whether the request was
// granted.
func (b *Bucket) Consume(kind Kind, units int64) (consumed int64, ok bool) {
	cost := b.costs[kind] * units
	if cost < 0 {
		cost = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return cost, true
	}
	return 0, false
}

// Remaining returns the current token level.
func (b *Bucket) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the bucket's maximum token level.
func (b *Bucket) Capacity() int64 { return b.capacity }

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 { return b.consumedTotal.Load() }

// RefillCount returns the number of completed refill cycles.
func (b *Bucket) RefillCount() uint64 { return b.refillCount.Load() }

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() { close(b.stop) }
