// Package idempotency remembers the outcome of an order submission keyed
// by client_order_id, so a retried submit after a network timeout returns
// the original result instead of placing the order twice.
package idempotency

import (
	"sync"
	"time"

	"bitfinex-trader/internal/core"
)

type entry struct {
	order     core.Order
	expiresAt time.Time
}

// Cache is a TTL-bounded map guarded by a single mutex; the expected
// working set (one entry per in-flight or recently-submitted order) never
// justifies the complexity of a sharded map.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New builds a Cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Lookup returns the previously stored order for clientOrderID, if present
// and not expired.
func (c *Cache) Lookup(clientOrderID string) (core.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[clientOrderID]
	if !ok {
		return core.Order{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, clientOrderID)
		return core.Order{}, false
	}
	return e.order, true
}

// Store records the outcome of submitting clientOrderID.
func (c *Cache) Store(clientOrderID string, order core.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[clientOrderID] = entry{order: order, expiresAt: c.now().Add(c.ttl)}
}

// Sweep removes expired entries; intended to be called periodically by a
// scheduler job rather than on every Lookup, so the hot path never pays
// for a full-map scan.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

var _ core.IIdempotencyCache = (*Cache)(nil)
