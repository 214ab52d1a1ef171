// Package ranking orders catalog events by distance from the user's last
// known location.
package ranking

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/okian/rollcall/internal/domain/geo"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// LabelUnavailable is the label given to events without a computable distance.
const LabelUnavailable = "location unavailable"

// DefaultNearbyRadiusKm bounds the nearby view.
const DefaultNearbyRadiusKm = 30.0

// Unavailable is the sentinel distance. It sorts after every real distance.
var Unavailable = math.Inf(1)

// Rank annotates every event with its distance from user and sorts them
// ascending. Events are unranked when user is nil or the event sits at (0,0);
// those keep their input order after all located events.
func Rank(user *model.Location, events []model.EventRecord) []model.DistanceAnnotatedEvent {
	out := make([]model.DistanceAnnotatedEvent, len(events))
	for i, ev := range events {
		out[i] = annotate(user, ev)
	}
	slices.SortStableFunc(out, func(a, b model.DistanceAnnotatedEvent) int {
		switch {
		case a.DistanceKm < b.DistanceKm:
			return -1
		case a.DistanceKm > b.DistanceKm:
			return 1
		default:
			return 0
		}
	})
	assignRanks(out)
	return out
}

// Nearby keeps located events strictly closer than radiusKm.
func Nearby(ranked []model.DistanceAnnotatedEvent, radiusKm float64) []model.DistanceAnnotatedEvent {
	out := make([]model.DistanceAnnotatedEvent, 0, len(ranked))
	for _, e := range ranked {
		if e.DistanceKm < radiusKm && e.DistanceLabel != LabelUnavailable {
			out = append(out, e)
		}
	}
	return out
}

func annotate(user *model.Location, ev model.EventRecord) model.DistanceAnnotatedEvent {
	if user == nil || !ev.HasCoordinates() {
		return model.DistanceAnnotatedEvent{Event: ev, DistanceKm: Unavailable, DistanceLabel: LabelUnavailable}
	}
	km := geo.HaversineKm(user.Lat, user.Lon, ev.Latitude, ev.Longitude)
	return model.DistanceAnnotatedEvent{Event: ev, DistanceKm: km, DistanceLabel: geo.FormatDistance(km)}
}

// assignRanks gives located entries a dense rank; equal distances share one.
func assignRanks(entries []model.DistanceAnnotatedEvent) {
	rank := 0
	for i := range entries {
		if math.IsInf(entries[i].DistanceKm, 1) {
			entries[i].Rank = 0
			continue
		}
		if i == 0 || entries[i].DistanceKm != entries[i-1].DistanceKm {
			rank++
		}
		entries[i].Rank = rank
	}
}

// Engine wraps Rank and Nearby with the configured radius, logging and
// metrics.
type Engine struct {
	logger   logger.Logger
	radiusKm float64
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{radiusKm: DefaultNearbyRadiusKm}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.OrGlobal(e.logger, "ranking")
	return e
}

// RadiusKm returns the nearby radius.
func (e *Engine) RadiusKm() float64 { return e.radiusKm }

// Rank ranks events for user and records how many could be located.
func (e *Engine) Rank(ctx context.Context, user *model.Location, events []model.EventRecord) []model.DistanceAnnotatedEvent {
	_, span := otel.Tracer("rollcall/ranking").Start(ctx, "ranking.Rank")
	defer span.End()

	start := time.Now()
	out := Rank(user, events)

	located := 0
	for _, r := range out {
		if r.Rank > 0 {
			located++
		}
	}
	metrics.RecordRankingLatency(metrics.Since(start))
	metrics.RecordRankedEvents(located, len(out)-located)
	span.SetAttributes(
		attribute.Int("ranking.events", len(out)),
		attribute.Int("ranking.located", located),
		attribute.Bool("ranking.user_located", user != nil),
	)
	e.logger.Debug(ctx, "ranked events",
		logger.Int("events", len(out)),
		logger.Int("located", located),
		logger.Bool("user_located", user != nil))
	return out
}

// Nearby ranks events and keeps those within the engine radius.
func (e *Engine) Nearby(ctx context.Context, user *model.Location, events []model.EventRecord) []model.DistanceAnnotatedEvent {
	return Nearby(e.Rank(ctx, user, events), e.radiusKm)
}
