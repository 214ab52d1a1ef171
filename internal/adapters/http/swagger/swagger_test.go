package swagger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a chi router with the docs registered", t, func() {
		r := chi.NewRouter()
		Register(context.Background(), r)

		convey.Convey("Then it should handle /openapi.yaml", func() {
			req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", http.NoBody)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
			convey.So(w.Body.Len(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("And it should handle /api-docs", func() {
			req := httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
		})
	})

	convey.Convey("Given a standard library mux", t, func() {
		mux := http.NewServeMux()
		convey.So(func() { Register(context.TODO(), mux) }, convey.ShouldNotPanic)
	})

	convey.Convey("Given a nil router", t, func() {
		convey.So(func() { Register(context.Background(), nil) }, convey.ShouldPanic)
	})
}

func TestOpenAPIDocument(t *testing.T) {
	convey.Convey("Given the embedded OpenAPI document", t, func() {
		var doc struct {
			OpenAPI string                    `yaml:"openapi"`
			Paths   map[string]map[string]any `yaml:"paths"`
		}
		convey.So(yaml.Unmarshal(OpenAPI, &doc), convey.ShouldBeNil)

		convey.Convey("Then every API route is documented", func() {
			convey.So(doc.OpenAPI, convey.ShouldStartWith, "3.")
			for path, method := range map[string]string{
				"/v1/events":                   "get",
				"/v1/events/nearby":            "get",
				"/v1/events/{id}":              "get",
				"/v1/events/{id}/count":        "get",
				"/v1/events/{id}/registration": "post",
				"/v1/events/{id}/token":        "get",
				"/v1/checkin":                  "post",
				"/v1/me/location":              "put",
				"/v1/me/registrations":         "get",
				"/v1/me/registrations/stream":  "get",
				"/healthz":                     "get",
				"/stats":                       "get",
			} {
				convey.So(doc.Paths, convey.ShouldContainKey, path)
				convey.So(doc.Paths[path], convey.ShouldContainKey, method)
			}
			convey.So(doc.Paths["/v1/events/{id}/registration"], convey.ShouldContainKey, "delete")
		})
	})
}
