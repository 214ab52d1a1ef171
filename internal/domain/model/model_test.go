package model_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	model "github.com/okian/rollcall/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestStatus(t *testing.T) {
	convey.Convey("Given registration statuses", t, func() {
		convey.Convey("When parsing known values", func() {
			for in, want := range map[string]model.Status{
				"registered": model.StatusRegistered,
				"Cancelled":  model.StatusCancelled,
				" completed": model.StatusCompleted,
			} {
				got, err := model.ParseStatus(in)
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldEqual, want)
			}
		})

		convey.Convey("When parsing an unknown value", func() {
			_, err := model.ParseStatus("pending")

			convey.Convey("Then it should be rejected", func() {
				convey.So(errors.Is(err, model.ErrInvalidStatus), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When checking liveness", func() {
			convey.So(model.StatusRegistered.Live(), convey.ShouldBeTrue)
			convey.So(model.StatusCancelled.Live(), convey.ShouldBeFalse)
			convey.So(model.StatusCompleted.Live(), convey.ShouldBeFalse)
			convey.So(model.StatusUnknown.Valid(), convey.ShouldBeFalse)
		})

		convey.Convey("When marshalling to JSON", func() {
			b, err := json.Marshal(struct {
				S model.Status `json:"s"`
			}{model.StatusCompleted})

			convey.Convey("Then the status should be a string", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(b), convey.ShouldEqual, `{"s":"completed"}`)
			})
		})

		convey.Convey("When marshalling the zero value", func() {
			_, err := json.Marshal(struct {
				S model.Status `json:"s"`
			}{})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestNewRegistration(t *testing.T) {
	convey.Convey("Given a catalog snapshot", t, func() {
		at := time.UnixMilli(1_700_000_000_000)
		ev := model.EventRecord{ID: "ev_42", Title: "Jazz Night", Date: "2026-11-01", Location: "Malang", Latitude: -7.97, Longitude: 112.63}

		convey.Convey("When building a registration", func() {
			reg := model.NewRegistration("u1", "Ana", ev, at)

			convey.Convey("Then it should copy the snapshot and start registered", func() {
				convey.So(reg.EventID, convey.ShouldEqual, "ev_42")
				convey.So(reg.UserID, convey.ShouldEqual, "u1")
				convey.So(reg.EventTitle, convey.ShouldEqual, "Jazz Night")
				convey.So(reg.EventLatitude, convey.ShouldEqual, -7.97)
				convey.So(reg.Status, convey.ShouldEqual, model.StatusRegistered)
				convey.So(reg.RegisteredAt, convey.ShouldEqual, int64(1_700_000_000_000))
				convey.So(reg.CompletedAt, convey.ShouldBeNil)
			})
		})
	})
}

func TestEventRecord(t *testing.T) {
	convey.Convey("HasCoordinates treats (0,0) as unknown", t, func() {
		convey.So(model.EventRecord{}.HasCoordinates(), convey.ShouldBeFalse)
		convey.So(model.EventRecord{Latitude: -7.97}.HasCoordinates(), convey.ShouldBeTrue)
		convey.So(model.EventRecord{Longitude: 112.63}.HasCoordinates(), convey.ShouldBeTrue)
	})
	convey.Convey("Identity is authenticated only with a user id", t, func() {
		convey.So(model.Identity{Email: "a@b"}.Authenticated(), convey.ShouldBeFalse)
		convey.So(model.Identity{UserID: "u1"}.Authenticated(), convey.ShouldBeTrue)
	})
}

func TestErrors(t *testing.T) {
	convey.Convey("Given backend failures", t, func() {
		cause := errors.New("connection refused")
		err := model.Unavailable("get", cause)

		convey.Convey("Then they classify as store unavailable and keep the cause", func() {
			convey.So(errors.Is(err, model.ErrStoreUnavailable), convey.ShouldBeTrue)
			convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
			convey.So(model.IsBusiness(err), convey.ShouldBeFalse)
			convey.So(model.Unavailable("get", nil), convey.ShouldBeNil)
		})
	})

	convey.Convey("Business errors stay business errors when wrapped", t, func() {
		convey.So(model.IsBusiness(fmt.Errorf("register: %w", model.ErrAlreadyRegistered)), convey.ShouldBeTrue)
		convey.So(model.IsBusiness(model.ErrAlreadyCheckedIn), convey.ShouldBeTrue)
	})
}

func TestLifecycleDedupeKey(t *testing.T) {
	convey.Convey("Dedupe keys ignore the delivery id", t, func() {
		a := model.LifecycleEvent{ID: "1", Kind: model.KindCheckedIn, UserID: "u1", EventID: "ev_42", RegisteredAt: 10}
		b := a
		b.ID = "2"
		convey.So(a.DedupeKey(), convey.ShouldEqual, b.DedupeKey())
		convey.So(a.DedupeKey(), convey.ShouldEqual, "checked_in/u1/ev_42/10")
	})
}
