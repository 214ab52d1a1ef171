// Package queue buffers lifecycle events between the request path and the
// publishing workers. Enqueue never blocks the caller.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/metrics"
)

const defaultCapacity = 10000

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds e or returns ErrFull / ErrClosed.
	Enqueue(ctx context.Context, e model.LifecycleEvent) error

	// Dequeue returns a channel that yields queued events. It is closed once
	// the queue is closed and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan model.LifecycleEvent

	// Len returns the number of buffered events.
	Len() int

	// Close stops accepting events. Buffered events are still delivered.
	Close() error
}

// InMemoryQueue implements Queue with a bounded channel.
type InMemoryQueue struct {
	events   chan model.LifecycleEvent
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan model.LifecycleEvent, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.observe()
	return q
}

// Enqueue adds e without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e model.LifecycleEvent) error {
	start := time.Now()
	defer func() { metrics.RecordQueueProcessingLatency(metrics.Since(start)) }()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.reject("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		q.reject("context_cancelled")
		return err
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	default:
		q.reject("queue_full")
		return ErrFull
	}
}

// Dequeue forwards buffered events until the queue drains after Close or
// ctx is done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.LifecycleEvent {
	out := make(chan model.LifecycleEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- e:
					metrics.RecordQueueDequeue()
					q.observe()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of buffered events.
func (q *InMemoryQueue) Len() int { return len(q.events) }

// Capacity returns the configured bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close stops accepting events. Calling it twice is a no-op.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.events)
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) observe() {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

func (q *InMemoryQueue) reject(reason string) {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
}
