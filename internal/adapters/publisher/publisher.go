// Package publisher delivers registration lifecycle events to downstream
// consumers.
package publisher

import (
	"context"
	"sync"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

// Publisher delivers one lifecycle event.
type Publisher interface {
	Publish(ctx context.Context, e model.LifecycleEvent) error
	Close() error
}

// LogPublisher writes lifecycle events to the log. Used when no broker is
// configured.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(l logger.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.OrGlobal(l, "publisher")}
}

// Publish logs e.
func (p *LogPublisher) Publish(ctx context.Context, e model.LifecycleEvent) error {
	p.logger.Info(ctx, "lifecycle event",
		logger.String("id", e.ID),
		logger.String("kind", string(e.Kind)),
		logger.String("user_id", e.UserID),
		logger.String("event_id", e.EventID))
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
	fail   error
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// FailWith makes subsequent Publish calls return err; nil restores success.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Publish records e.
func (p *MemoryPublisher) Publish(_ context.Context, e model.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []model.LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.LifecycleEvent(nil), p.events...)
}

// Close is a no-op.
func (p *MemoryPublisher) Close() error { return nil }
