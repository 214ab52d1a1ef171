// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/types"
	"github.com/okian/rollcall/pkg/logger"
)

const (
	defaultHeartbeat = 15 * time.Second
	maxBodyBytes     = 1 << 16
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RankedEvents(ctx context.Context, id model.Identity, category string) []model.DistanceAnnotatedEvent
	NearbyEvents(ctx context.Context, id model.Identity, category string) []model.DistanceAnnotatedEvent
	RadiusKm() float64
	Event(ctx context.Context, eventID string) (model.EventRecord, error)
	Count(ctx context.Context, eventID string) (int, error)

	SetLocation(ctx context.Context, id model.Identity, lat, lon float64) (model.Location, error)
	Location(ctx context.Context, id model.Identity) (model.Location, bool, error)

	Register(ctx context.Context, id model.Identity, eventID string) (model.Registration, error)
	Cancel(ctx context.Context, id model.Identity, eventID string) (model.Registration, error)
	Token(ctx context.Context, id model.Identity, eventID string) (string, error)
	CheckIn(ctx context.Context, id model.Identity, rawToken string) (model.Registration, error)
	MyRegistrations(ctx context.Context, id model.Identity) ([]model.Registration, error)
	Subscribe(ctx context.Context, id model.Identity) (<-chan []model.Registration, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	opsHandler          *OpsHandler
	eventsHandler       *EventsHandler
	registrationHandler *RegistrationHandler
	streamHandler       *StreamHandler
	identities          identity.Provider
	logger              logger.Logger
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	heartbeat time.Duration
	logger    logger.Logger
	streams   context.Context
}

// WithHeartbeat sets the keep-alive interval of registration streams.
func WithHeartbeat(d time.Duration) Option {
	return func(o *serverOptions) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithStreamContext ends every open registration stream once ctx is done.
// Without it streams only end when their client goes away.
func WithStreamContext(ctx context.Context) Option {
	return func(o *serverOptions) {
		if ctx != nil {
			o.streams = ctx
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, identities identity.Provider, opts ...Option) *Server {
	o := serverOptions{heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(&o)
	}
	l := logger.OrGlobal(o.logger, "api")
	streams := NewStreamHandler(deps, o.heartbeat, l)
	if o.streams != nil {
		streams.base = o.streams
	}
	return &Server{
		opsHandler:          NewOpsHandler(statsProvider),
		eventsHandler:       NewEventsHandler(deps),
		registrationHandler: NewRegistrationHandler(deps, l),
		streamHandler:       streams,
		identities:          identities,
		logger:              l,
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", MetricsMiddleware(s.opsHandler.Healthz, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.opsHandler.Stats, "stats"))

	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(s.identities, s.logger))

		r.Get("/events", MetricsMiddleware(s.eventsHandler.HandleList, "events"))
		r.Get("/events/nearby", MetricsMiddleware(s.eventsHandler.HandleNearby, "events_nearby"))
		r.Get("/events/{id}", MetricsMiddleware(s.eventsHandler.HandleGet, "event"))
		r.Get("/events/{id}/count", MetricsMiddleware(s.eventsHandler.HandleCount, "event_count"))

		r.Post("/events/{id}/registration", MetricsMiddleware(s.registrationHandler.HandleRegister, "registration"))
		r.Delete("/events/{id}/registration", MetricsMiddleware(s.registrationHandler.HandleCancel, "registration"))
		r.Get("/events/{id}/token", MetricsMiddleware(s.registrationHandler.HandleToken, "token"))
		r.Post("/checkin", MetricsMiddleware(s.registrationHandler.HandleCheckIn, "checkin"))

		r.Get("/me/location", MetricsMiddleware(s.registrationHandler.HandleGetLocation, "location"))
		r.Put("/me/location", MetricsMiddleware(s.registrationHandler.HandleSetLocation, "location"))
		r.Get("/me/registrations", MetricsMiddleware(s.registrationHandler.HandleMine, "registrations"))
		r.Get("/me/registrations/stream", MetricsMiddleware(s.streamHandler.HandleStream, "registrations_stream"))
	})
}

// Handler returns a router serving every API route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.Error{Error: msg, Kind: kind})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
