package repository

import (
	"context"
	"sync"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

type key struct {
	userID  string
	eventID string
}

// MemoryStore is a mutex-guarded in-process registration store.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[key]model.Registration
	hub    *Hub
	logger logger.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions("repository.memory", opts)
	return &MemoryStore{
		byKey:  make(map[key]model.Registration),
		hub:    NewHub(),
		logger: o.logger,
	}
}

// Get returns the record for (userID, eventID).
func (s *MemoryStore) Get(ctx context.Context, userID, eventID string) (model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return model.Registration{}, model.Unavailable("memory get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.byKey[key{userID, eventID}]
	if !ok {
		return model.Registration{}, model.ErrNoRecord
	}
	return clone(reg), nil
}

// CreateIfAbsent stores reg unless a non-cancelled record holds its key.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, reg model.Registration) (model.Registration, bool, error) {
	if err := validate(reg); err != nil {
		return model.Registration{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return model.Registration{}, false, model.Unavailable("memory create", err)
	}
	k := key{reg.UserID, reg.EventID}

	s.mu.Lock()
	if cur, ok := s.byKey[k]; ok && cur.Status != model.StatusCancelled {
		s.mu.Unlock()
		return clone(cur), false, nil
	}
	reg = clone(reg)
	s.byKey[k] = reg
	s.mu.Unlock()

	s.hub.Publish(reg.UserID)
	return clone(reg), true, nil
}

// CompareAndSetStatus swaps the status when it currently equals from.
func (s *MemoryStore) CompareAndSetStatus(ctx context.Context, userID, eventID string, from, to model.Status, at int64) (model.Registration, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Registration{}, false, model.Unavailable("memory compare-and-set", err)
	}
	k := key{userID, eventID}

	s.mu.Lock()
	cur, ok := s.byKey[k]
	if !ok {
		s.mu.Unlock()
		return model.Registration{}, false, model.ErrNoRecord
	}
	if cur.Status != from {
		s.mu.Unlock()
		return clone(cur), false, nil
	}
	cur = transition(cur, to, at)
	s.byKey[k] = cur
	s.mu.Unlock()

	s.hub.Publish(userID)
	return clone(cur), true, nil
}

// ListByUser returns all of userID's records.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.Unavailable("memory list", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Registration, 0)
	for k, reg := range s.byKey {
		if k.userID == userID {
			out = append(out, clone(reg))
		}
	}
	return out, nil
}

// CountByStatus counts eventID's records holding status.
func (s *MemoryStore) CountByStatus(ctx context.Context, eventID string, status model.Status) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, model.Unavailable("memory count", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, reg := range s.byKey {
		if k.eventID == eventID && reg.Status == status {
			n++
		}
	}
	return n, nil
}

// Watch subscribes to userID's changes.
func (s *MemoryStore) Watch(ctx context.Context, userID string) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, model.Unavailable("memory watch", err)
	}
	ch, release, err := s.hub.Subscribe(userID)
	if err != nil {
		return nil, nil, model.Unavailable("memory watch", err)
	}
	return ch, release, nil
}

// Subscribers reports open Watch subscriptions.
func (s *MemoryStore) Subscribers() int { return s.hub.Subscribers() }

// Close ends all subscriptions.
func (s *MemoryStore) Close() error {
	s.hub.Close()
	return nil
}

func validate(reg model.Registration) error {
	switch {
	case reg.UserID == "":
		return ErrInvalidRegistration
	case reg.EventID == "":
		return ErrInvalidRegistration
	case !reg.Status.Valid():
		return ErrInvalidRegistration
	}
	return nil
}

func transition(reg model.Registration, to model.Status, at int64) model.Registration {
	reg.Status = to
	if to == model.StatusCompleted {
		ts := at
		reg.CompletedAt = &ts
	}
	return reg
}

func clone(reg model.Registration) model.Registration {
	if reg.CompletedAt != nil {
		ts := *reg.CompletedAt
		reg.CompletedAt = &ts
	}
	return reg
}
