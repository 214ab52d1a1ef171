package repository

import (
	"sync"
)

// Hub fans change signals out to per-user subscribers. Each subscriber
// channel has capacity one, so bursts of changes coalesce into one signal.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan struct{}
	once sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers interest in userID's changes. release unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(userID string) (<-chan struct{}, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrClosed
	}
	s := &subscriber{ch: make(chan struct{}, 1)}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}

	release := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[userID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		s.close()
	}
	return s.ch, release, nil
}

// Publish signals every subscriber of userID.
func (h *Hub) Publish(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[userID] {
		s.signal()
	}
}

// Broadcast signals every subscriber. Used after a change feed reconnects
// and may have missed notifications.
func (h *Hub) Broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			s.signal()
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close closes every subscriber channel and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subs {
		for s := range set {
			s.close()
		}
		delete(h.subs, userID)
	}
}

func (s *subscriber) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}
