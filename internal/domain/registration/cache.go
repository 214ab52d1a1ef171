package registration

import (
	"context"
	"sync"

	"github.com/okian/rollcall/internal/domain/model"
)

// Cache holds the latest snapshot of one user's registrations. It is owned
// by whoever creates it and is fed from a ListMine stream.
type Cache struct {
	mu      sync.RWMutex
	byEvent map[string]model.Registration
	order   []string
	version uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byEvent: make(map[string]model.Registration)}
}

// Replace swaps in a full snapshot.
func (c *Cache) Replace(regs []model.Registration) {
	byEvent := make(map[string]model.Registration, len(regs))
	order := make([]string, 0, len(regs))
	for _, r := range regs {
		byEvent[r.EventID] = r
		order = append(order, r.EventID)
	}
	c.mu.Lock()
	c.byEvent = byEvent
	c.order = order
	c.version++
	c.mu.Unlock()
}

// Follow applies every snapshot from stream until it closes or ctx is done.
// onUpdate, when set, is called after each applied snapshot.
func (c *Cache) Follow(ctx context.Context, stream <-chan []model.Registration, onUpdate func([]model.Registration)) {
	for {
		select {
		case <-ctx.Done():
			return
		case regs, ok := <-stream:
			if !ok {
				return
			}
			c.Replace(regs)
			if onUpdate != nil {
				onUpdate(regs)
			}
		}
	}
}

// Get returns the cached registration for eventID.
func (c *Cache) Get(eventID string) (model.Registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byEvent[eventID]
	return r, ok
}

// IsRegistered reports whether the cached registration for eventID is live.
func (c *Cache) IsRegistered(eventID string) bool {
	r, ok := c.Get(eventID)
	return ok && r.Status.Live()
}

// All returns the cached registrations in snapshot order.
func (c *Cache) All() []model.Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Registration, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byEvent[id])
	}
	return out
}

// Version increments on every applied snapshot.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
