// Package model contains domain models passed between layers.
package model

import "time"

// EventRecord is a read-only event definition sourced from the catalog.
// Coordinates of (0,0) mean the venue location is unknown.
type EventRecord struct {
	ID        string  `yaml:"id" json:"id"`
	Title     string  `yaml:"title" json:"title"`
	Date      string  `yaml:"date" json:"date"`
	Time      string  `yaml:"time" json:"time"`
	Location  string  `yaml:"location" json:"location"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	Category  string  `yaml:"category" json:"category"`
	ImageRef  string  `yaml:"image_ref" json:"image_ref"`
}

// HasCoordinates reports whether the event carries a real venue position.
func (e EventRecord) HasCoordinates() bool {
	return e.Latitude != 0 || e.Longitude != 0
}

// Location is a user's last known position.
type Location struct {
	Lat       float64
	Lon       float64
	UpdatedAt time.Time
}

// Identity is what the identity provider knows about the current user.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticated reports whether the identity names a user.
func (i Identity) Authenticated() bool { return i.UserID != "" }

// DistanceAnnotatedEvent is an event together with its distance from the user.
// DistanceKm is +Inf when the distance cannot be computed.
type DistanceAnnotatedEvent struct {
	Event         EventRecord
	DistanceKm    float64
	DistanceLabel string
	Rank          int // dense rank among located events, 0 when unavailable
}
