package tracing

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSetup(t *testing.T) {
	Convey("Given tracing setup", t, func() {
		ctx := context.Background()

		Convey("When no endpoint is configured", func() {
			shutdown, err := Setup(ctx, "rollcall-test", "")

			Convey("Then a no-op shutdown is returned", func() {
				So(err, ShouldBeNil)
				So(shutdown(ctx), ShouldBeNil)
			})
		})

		Convey("When an unreachable endpoint is configured", func() {
			shutdown, err := Setup(ctx, "rollcall-test", "http://192.0.2.1:4318")

			Convey("Then the provider is created and shuts down cleanly", func() {
				So(err, ShouldBeNil)
				So(shutdown(ctx), ShouldBeNil)
			})
		})
	})
}
