package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestClassify(t *testing.T) {
	convey.Convey("Given domain errors", t, func() {
		cases := []struct {
			err    error
			status int
			kind   string
		}{
			{model.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
			{model.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
			{model.ErrAlreadyCheckedIn, http.StatusConflict, "already_checked_in"},
			{model.ErrNotRegistered, http.StatusNotFound, "not_registered"},
			{model.ErrRegistrationNotFound, http.StatusNotFound, "registration_not_found"},
			{model.ErrEventNotFound, http.StatusNotFound, "event_not_found"},
			{model.ErrMalformedToken, http.StatusBadRequest, "malformed_token"},
			{model.ErrTokenOwnershipMismatch, http.StatusForbidden, "token_ownership_mismatch"},
			{model.Unavailable("get", errors.New("conn refused")), http.StatusServiceUnavailable, "store_unavailable"},
			{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		}

		convey.Convey("Then each maps to its HTTP status through wrapping", func() {
			for _, c := range cases {
				status, kind := classify(Wrap("api.test", fmt.Errorf("ctx: %w", c.err)))
				convey.So(status, convey.ShouldEqual, c.status)
				convey.So(kind, convey.ShouldEqual, c.kind)
			}
		})
	})
}

func TestErrorHelpers(t *testing.T) {
	convey.Convey("Given the api error helpers", t, func() {
		cause := errors.New("unexpected EOF")

		convey.Convey("Then WrapKind keeps both kind and cause", func() {
			err := WrapKind("api.checkin", ErrBadRequest, cause)
			convey.So(err.Error(), convey.ShouldEqual, "api.checkin: bad request: unexpected EOF")
			convey.So(errors.Is(err, ErrBadRequest), convey.ShouldBeTrue)
			convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
		})

		convey.Convey("Then NewKind and Wrap format their parts", func() {
			convey.So(NewKind("api.stream", ErrStream).Error(), convey.ShouldEqual, "api.stream: streaming unsupported")
			convey.So(Wrap("api.get", cause).Error(), convey.ShouldEqual, "api.get: unexpected EOF")
			convey.So(Wrap("api.get", nil), convey.ShouldBeNil)
		})
	})
}

func TestClassifyStatus(t *testing.T) {
	convey.Convey("Status codes map to metric labels", t, func() {
		for code, want := range map[int]string{503: "server_error", 401: "unauthorized", 409: "conflict", 404: "not_found", 400: "client_error"} {
			class, _, failed := classifyStatus(code)
			convey.So(failed, convey.ShouldBeTrue)
			convey.So(class, convey.ShouldEqual, want)
		}
		_, severity, _ := classifyStatus(500)
		convey.So(severity, convey.ShouldEqual, "high")
		_, severity, _ = classifyStatus(403)
		convey.So(severity, convey.ShouldEqual, "medium")
		_, _, failed := classifyStatus(200)
		convey.So(failed, convey.ShouldBeFalse)
	})
}
