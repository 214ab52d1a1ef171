// Package worker drains the lifecycle queue and hands each event to a
// publisher exactly once per transition.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
)

const (
	defaultWorkerCount  = 4
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 100 * time.Millisecond
	poolShutdownTimeout = 30 * time.Second
)

// Queue is where workers receive events from.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.LifecycleEvent
}

// Deduper drops transitions that were already published.
type Deduper interface {
	SeenAndRecord(ctx context.Context, key string) bool
	Unrecord(ctx context.Context, key string)
}

// Publisher delivers an event downstream.
type Publisher interface {
	Publish(ctx context.Context, e model.LifecycleEvent) error
}

// Worker processes events until its queue closes.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker publishes events read from a Queue.
type InMemoryWorker struct {
	queue     Queue
	deduper   Deduper
	publisher Publisher
	name      string

	maxAttempts int
	backoff     time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(queue Queue, deduper Deduper, publisher Publisher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       queue,
		deduper:     deduper,
		publisher:   publisher,
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logger.OrGlobal(w.logger, "worker").Named(w.name)
	return w
}

// Run processes events until the queue drains, ctx is done or Shutdown is
// called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := w.process(ctx, e); err != nil {
				w.logger.Error(ctx, "error publishing lifecycle event", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker without waiting for the queue to drain.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, e model.LifecycleEvent) error {
	start := time.Now()
	defer func() { metrics.RecordWorkerProcessingLatency(metrics.Since(start)) }()

	key := e.DedupeKey()
	if w.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordLifecycleDuplicate()
		w.logger.Debug(ctx, "duplicate lifecycle event dropped", logger.String("key", key))
		return nil
	}

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.publisher.Publish(ctx, e); err == nil {
			metrics.RecordLifecyclePublished(string(e.Kind))
			return nil
		}
		if attempt == w.maxAttempts || !w.wait(ctx, attempt) {
			break
		}
	}

	w.deduper.Unrecord(ctx, key)
	metrics.RecordWorkerError()
	metrics.RecordPublishError(w.name)
	metrics.RecordErrorByComponent("worker", "publish_error")
	return fmt.Errorf("publish %s (%s): %w", e.ID, key, err)
}

// wait sleeps for the attempt's linear backoff; false when ctx ended first.
func (w *InMemoryWorker) wait(ctx context.Context, attempt int) bool {
	t := time.NewTimer(time.Duration(attempt) * w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.shutdown:
		return false
	case <-t.C:
		return true
	}
}

// Pool manages several workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers. Non-positive counts use the default.
func NewPool(workerCount int, queue Queue, deduper Deduper, publisher Publisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.OrGlobal(nil, "worker-pool"),
	}
	for i := range p.workers {
		wopts := append(append([]Option(nil), opts...), WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(queue, deduper, publisher, wopts...)
	}
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start runs every worker in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Shutdown closes the queue when it can be closed, lets workers drain what
// is buffered, and stops them when ctx (bounded by a pool timeout) expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-drainCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			_ = w.Shutdown(context.Background())
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	if timedOut {
		return fmt.Errorf("worker pool drain: %w", drainCtx.Err())
	}
	return nil
}
