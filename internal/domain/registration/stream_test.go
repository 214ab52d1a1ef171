package registration_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/registration"
	. "github.com/smartystreets/goconvey/convey"
)

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestListMine(t *testing.T) {
	Convey("Given a user following their registrations", t, func() {
		store := repository.NewMemoryStore()
		m := newManager(store)
		_, err := m.Register(context.Background(), "ev_1", event("ev_1"), "u1", "Ana")
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stream := m.ListMine(ctx, "u1")

		Convey("Then the current set arrives first", func() {
			regs := recv(stream)
			So(regs, ShouldHaveLength, 1)
			So(regs[0].EventID, ShouldEqual, "ev_1")

			Convey("And every change pushes a fresh ordered set", func() {
				_, err := m.Register(context.Background(), "ev_2", event("ev_2"), "u1", "Ana")
				So(err, ShouldBeNil)
				regs := recv(stream)
				So(regs, ShouldHaveLength, 2)
				So(regs[0].EventID, ShouldEqual, "ev_2")

				_, err = m.Cancel(context.Background(), "ev_1", "u1")
				So(err, ShouldBeNil)
				regs = recv(stream)
				So(regs[1].Status, ShouldEqual, model.StatusCancelled)
			})

			Convey("And other users' changes are not pushed", func() {
				_, err := m.Register(context.Background(), "ev_1", event("ev_1"), "u2", "Bo")
				So(err, ShouldBeNil)
				select {
				case <-stream:
					So("unexpected snapshot", ShouldBeEmpty)
				case <-time.After(50 * time.Millisecond):
				}
			})

			Convey("And cancelling releases the store subscription", func() {
				So(store.Subscribers(), ShouldEqual, 1)
				cancel()
				So(waitFor(func() bool { return store.Subscribers() == 0 }), ShouldBeTrue)
				_, ok := <-stream
				for ok {
					_, ok = <-stream
				}
				So(ok, ShouldBeFalse)
			})
		})
	})

	Convey("Given a store whose reads fail once", t, func() {
		store := &faultyStore{MemoryStore: repository.NewMemoryStore(), failList: 1}
		m := newManager(store)
		_, err := m.Register(context.Background(), "ev_1", event("ev_1"), "u1", "Ana")
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stream := m.ListMine(ctx, "u1")

		Convey("Then an empty list is sent and the stream stays open", func() {
			So(recv(stream), ShouldBeEmpty)
			_, err := m.Register(context.Background(), "ev_2", event("ev_2"), "u1", "Ana")
			So(err, ShouldBeNil)
			So(recv(stream), ShouldHaveLength, 2)
		})
	})

	Convey("Given a store whose subscription fails once", t, func() {
		store := &faultyStore{MemoryStore: repository.NewMemoryStore(), failWatch: 1}
		m := newManager(store)
		_, err := m.Register(context.Background(), "ev_1", event("ev_1"), "u1", "Ana")
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stream := m.ListMine(ctx, "u1")

		Convey("Then an empty list is sent and the stream resubscribes", func() {
			So(recv(stream), ShouldBeEmpty)
			So(recv(stream), ShouldHaveLength, 1)
		})
	})

	Convey("Given the store closes subscriptions", t, func() {
		store := repository.NewMemoryStore()
		m := newManager(store)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		stream := m.ListMine(ctx, "u1")
		So(recv(stream), ShouldBeEmpty)

		Convey("Then the stream keeps going with empty snapshots until cancelled", func() {
			_ = store.Close()
			So(recv(stream), ShouldBeEmpty)
			cancel()
		})
	})

	Convey("Given an anonymous follower", t, func() {
		m := newManager(repository.NewMemoryStore())
		ctx, cancel := context.WithCancel(context.Background())
		stream := m.ListMine(ctx, "")

		Convey("Then a single empty list is sent until cancelled", func() {
			So(recv(stream), ShouldBeEmpty)
			cancel()
			_, ok := <-stream
			So(ok, ShouldBeFalse)
		})
	})
}

func TestCache(t *testing.T) {
	Convey("Given a caller-owned cache fed by ListMine", t, func() {
		m := newManager(repository.NewMemoryStore())
		cache := registration.NewCache()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := make(chan int, 8)
		go cache.Follow(ctx, m.ListMine(ctx, "u1"), func(regs []model.Registration) { updates <- len(regs) })
		So(<-updates, ShouldEqual, 0)

		Convey("When the user registers", func() {
			_, err := m.Register(context.Background(), "ev_1", event("ev_1"), "u1", "Ana")
			So(err, ShouldBeNil)
			So(<-updates, ShouldEqual, 1)

			Convey("Then the cache reflects it", func() {
				So(cache.IsRegistered("ev_1"), ShouldBeTrue)
				So(cache.IsRegistered("ev_2"), ShouldBeFalse)
				So(cache.All(), ShouldHaveLength, 1)
				So(cache.Version(), ShouldEqual, 2)
				reg, ok := cache.Get("ev_1")
				So(ok, ShouldBeTrue)
				So(reg.UserID, ShouldEqual, "u1")
			})
		})
	})

	Convey("Two caches are independent", t, func() {
		a, b := registration.NewCache(), registration.NewCache()
		a.Replace([]model.Registration{{EventID: "ev_1", Status: model.StatusRegistered}})
		So(a.IsRegistered("ev_1"), ShouldBeTrue)
		So(b.IsRegistered("ev_1"), ShouldBeFalse)
	})
}
