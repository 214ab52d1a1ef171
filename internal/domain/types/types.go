// Package types contains the JSON views returned by the HTTP API.
package types

import (
	"math"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
)

// RankedEvent is a distance-annotated event.
type RankedEvent struct {
	Rank          int               `json:"rank"`
	Event         model.EventRecord `json:"event"`
	DistanceKm    *float64          `json:"distance_km"`
	DistanceLabel string            `json:"distance_label"`
}

// FromRanked converts ranking output; the +Inf sentinel becomes null.
func FromRanked(in []model.DistanceAnnotatedEvent) []RankedEvent {
	out := make([]RankedEvent, 0, len(in))
	for _, e := range in {
		re := RankedEvent{Rank: e.Rank, Event: e.Event, DistanceLabel: e.DistanceLabel}
		if !math.IsInf(e.DistanceKm, 1) {
			d := e.DistanceKm
			re.DistanceKm = &d
		}
		out = append(out, re)
	}
	return out
}

// Token is the check-in token issued to a registered user.
type Token struct {
	Token   string `json:"token"`
	EventID string `json:"event_id"`
}

// Count is the number of live registrations for an event.
type Count struct {
	EventID    string `json:"event_id"`
	Registered int    `json:"registered"`
}

// CheckInRequest is the body of POST /v1/checkin.
type CheckInRequest struct {
	Token string `json:"token"`
}

// LocationRequest is the body of PUT /v1/me/location.
type LocationRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Location is a user's last known position.
type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromLocation converts a model location.
func FromLocation(l model.Location) Location {
	return Location{Lat: l.Lat, Lon: l.Lon, UpdatedAt: l.UpdatedAt}
}

// Error is the error body returned by every endpoint.
type Error struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
