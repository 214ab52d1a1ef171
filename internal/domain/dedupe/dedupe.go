// Package dedupe remembers which lifecycle transitions were already
// published so repeated deliveries are dropped.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper records seen keys to ensure at-most-once publishing.
type Deduper interface {
	// SeenAndRecord reports whether key was seen and records it if not.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a failed publish can be retried.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// ringDeduper keeps the most recent maxSize keys. The oldest key is evicted
// first. maxSize <= 0 disables eviction.
type ringDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // key -> slot in ring, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ringDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *ringDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[key] = -1
		return false
	}

	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = key
	d.seen[key] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *ringDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

func (d *ringDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
