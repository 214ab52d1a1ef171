package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
)

func lifecycle(id string) model.LifecycleEvent {
	return model.LifecycleEvent{ID: id, Kind: model.KindRegistered, UserID: "u1", EventID: "ev_" + id, At: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if err := q.Enqueue(ctx, lifecycle("1")); err != nil {
		t.Fatalf("expected enqueue to succeed: %v", err)
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	e := <-q.Dequeue(ctx)
	if e.ID != "1" {
		t.Errorf("expected event 1, got %v", e.ID)
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"1", "2"} {
		if err := q.Enqueue(ctx, lifecycle(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if err := q.Enqueue(ctx, lifecycle("3")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if q.Capacity() != 2 || q.Len() != 2 {
		t.Errorf("unexpected capacity %d / len %d", q.Capacity(), q.Len())
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	_ = q.Enqueue(ctx, lifecycle("1"))
	_ = q.Enqueue(ctx, lifecycle("2"))
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if err := q.Enqueue(ctx, lifecycle("3")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	var got []string
	for e := range q.Dequeue(ctx) {
		got = append(got, e.ID)
	}
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("expected buffered events to drain in order, got %v", got)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, lifecycle("1")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	select {
	case _, ok := <-q.Dequeue(ctx):
		if ok {
			t.Error("expected closed dequeue channel")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel should close when ctx is done")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	const producers, perProducer = 10, 100
	q := NewInMemoryQueue(WithCapacity(producers * perProducer))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := q.Enqueue(ctx, lifecycle(fmt.Sprintf("%d-%d", p, j))); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()
	_ = q.Close()

	seen := make(map[string]bool)
	for e := range q.Dequeue(ctx) {
		seen[e.ID] = true
	}
	if len(seen) != producers*perProducer {
		t.Errorf("expected %d unique events, got %d", producers*perProducer, len(seen))
	}
}
