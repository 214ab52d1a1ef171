package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/rollcall/internal/adapters/mq/queue"
	worker "github.com/okian/rollcall/internal/adapters/mq/worker"
	"github.com/okian/rollcall/internal/adapters/publisher"
	"github.com/okian/rollcall/internal/domain/dedupe"
	model "github.com/okian/rollcall/internal/domain/model"
	logging "github.com/okian/rollcall/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []model.LifecycleEvent
}

func (p *flakyPublisher) Publish(_ context.Context, e model.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, e)
	return nil
}

func (p *flakyPublisher) snapshot() (int, []model.LifecycleEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]model.LifecycleEvent(nil), p.got...)
}

func event(id string, kind model.LifecycleKind, user string) model.LifecycleEvent {
	return model.LifecycleEvent{ID: id, Kind: kind, UserID: user, EventID: "ev_1", RegisteredAt: 100, At: time.Now()}
}

func runUntilDrained(q *queue.InMemoryQueue, w *worker.InMemoryWorker) {
	_ = q.Close()
	w.Run(context.Background())
}

func TestInMemoryWorker(t *testing.T) {
	ctx := context.Background()
	nop := worker.WithLogger(logging.NewNop())

	convey.Convey("Given a worker with a memory publisher", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		pub := publisher.NewMemoryPublisher()
		d := dedupe.NewInMemoryDeduper()
		w := worker.NewInMemoryWorker(q, d, pub, nop, worker.WithName("test"))

		convey.Convey("When distinct transitions are queued", func() {
			convey.So(q.Enqueue(ctx, event("1", model.KindRegistered, "u1")), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, event("2", model.KindCheckedIn, "u1")), convey.ShouldBeNil)
			runUntilDrained(q, w)

			convey.Convey("Then each is published once in order", func() {
				got := pub.Events()
				convey.So(got, convey.ShouldHaveLength, 2)
				convey.So(got[0].ID, convey.ShouldEqual, "1")
				convey.So(got[1].ID, convey.ShouldEqual, "2")
			})
		})

		convey.Convey("When the same transition is delivered twice", func() {
			convey.So(q.Enqueue(ctx, event("1", model.KindRegistered, "u1")), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, event("1-redelivered", model.KindRegistered, "u1")), convey.ShouldBeNil)
			runUntilDrained(q, w)

			convey.Convey("Then the duplicate is dropped", func() {
				convey.So(pub.Events(), convey.ShouldHaveLength, 1)
				convey.So(d.Size(), convey.ShouldEqual, 1)
			})
		})
	})

	convey.Convey("Given a publisher that fails transiently", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		pub := &flakyPublisher{failures: 2}
		d := dedupe.NewInMemoryDeduper()
		w := worker.NewInMemoryWorker(q, d, pub, nop, worker.WithRetry(3, time.Millisecond))

		convey.So(q.Enqueue(ctx, event("1", model.KindCancelled, "u1")), convey.ShouldBeNil)
		runUntilDrained(q, w)

		convey.Convey("Then the retries succeed", func() {
			calls, got := pub.snapshot()
			convey.So(calls, convey.ShouldEqual, 3)
			convey.So(got, convey.ShouldHaveLength, 1)
		})
	})

	convey.Convey("Given a publisher that keeps failing", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		pub := &flakyPublisher{failures: 100}
		d := dedupe.NewInMemoryDeduper()
		w := worker.NewInMemoryWorker(q, d, pub, nop, worker.WithRetry(2, time.Millisecond))

		convey.So(q.Enqueue(ctx, event("1", model.KindCancelled, "u1")), convey.ShouldBeNil)
		runUntilDrained(q, w)

		convey.Convey("Then the key is forgotten so a later delivery can retry", func() {
			calls, got := pub.snapshot()
			convey.So(calls, convey.ShouldEqual, 2)
			convey.So(got, convey.ShouldBeEmpty)
			convey.So(d.Size(), convey.ShouldEqual, 0)
		})
	})

	convey.Convey("Given a running worker", t, func() {
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, dedupe.NewInMemoryDeduper(), publisher.NewMemoryPublisher(), nop)
		go w.Run(ctx)

		convey.Convey("When shutting down", func() {
			err := w.Shutdown(ctx)

			convey.Convey("Then it stops promptly and a second call is safe", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a pool of workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(256))
		pub := publisher.NewMemoryPublisher()
		p := worker.NewPool(4, q, dedupe.NewInMemoryDeduper(), pub, worker.WithLogger(logging.NewNop()))
		convey.So(p.Size(), convey.ShouldEqual, 4)
		p.Start(ctx)

		convey.Convey("When events are queued and the pool shuts down", func() {
			for i := 0; i < 100; i++ {
				e := event("id", model.KindRegistered, "u"+string(rune('a'+i%26))+string(rune('a'+i/26)))
				convey.So(q.Enqueue(ctx, e), convey.ShouldBeNil)
			}
			err := p.Shutdown(ctx)

			convey.Convey("Then every buffered event is published", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(pub.Events(), convey.ShouldHaveLength, 100)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a non-positive worker count", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), dedupe.NewInMemoryDeduper(), publisher.NewMemoryPublisher())
		convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
