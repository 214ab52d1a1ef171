package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/rollcall/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("Then it starts empty", func() {
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When a key is new", func() {
			seen := d.SeenAndRecord(ctx, "registered/u1/ev_1/100")

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And seeing it again reports a duplicate", func() {
				So(d.SeenAndRecord(ctx, "registered/u1/ev_1/100"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And unrecording it allows a retry", func() {
				d.Unrecord(ctx, "registered/u1/ev_1/100")
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "registered/u1/ev_1/100"), ShouldBeFalse)
			})
		})

		Convey("When unrecording an unknown key", func() {
			d.Unrecord(ctx, "missing")
			So(d.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		Convey("When more keys arrive than fit", func() {
			for i := 0; i < 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
			}

			Convey("Then the oldest key is forgotten", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "k3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "k0"), ShouldBeFalse)
			})
		})

		Convey("When an unrecorded slot is reused", func() {
			d.SeenAndRecord(ctx, "a")
			d.Unrecord(ctx, "a")
			d.SeenAndRecord(ctx, "b")
			d.SeenAndRecord(ctx, "c")
			d.SeenAndRecord(ctx, "d")

			Convey("Then no live key is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i))
		}
		So(d.Size(), ShouldEqual, 1000)
		So(d.SeenAndRecord(ctx, "k0"), ShouldBeTrue)
	})

	Convey("Given concurrent callers racing on one key", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var (
			wg    sync.WaitGroup
			first atomic.Int32
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, "same") {
					first.Add(1)
				}
			}()
		}
		wg.Wait()
		So(first.Load(), ShouldEqual, 1)
	})
}
