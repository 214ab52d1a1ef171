package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a registration.
type Status uint8

// Registration states. Registered is the only live state.
const (
	StatusUnknown Status = iota
	StatusRegistered
	StatusCancelled
	StatusCompleted
)

var statusNames = [...]string{
	StatusUnknown:    "unknown",
	StatusRegistered: "registered",
	StatusCancelled:  "cancelled",
	StatusCompleted:  "completed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	return s == StatusRegistered || s == StatusCancelled || s == StatusCompleted
}

// Live reports whether s is the registered state.
func (s Status) Live() bool { return s == StatusRegistered }

// ParseStatus maps a stored status string onto the enum.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "registered":
		return StatusRegistered, nil
	case "cancelled":
		return StatusCancelled, nil
	case "completed":
		return StatusCompleted, nil
	default:
		return StatusUnknown, fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Registration is one user's registration for one event, keyed by
// (UserID, EventID). Timestamps are epoch milliseconds.
type Registration struct {
	EventID        string  `json:"event_id"`
	UserID         string  `json:"user_id"`
	UserName       string  `json:"user_name,omitempty"`
	EventTitle     string  `json:"event_title"`
	EventDate      string  `json:"event_date"`
	EventLocation  string  `json:"event_location"`
	EventLatitude  float64 `json:"event_latitude"`
	EventLongitude float64 `json:"event_longitude"`
	Status         Status  `json:"status"`
	RegisteredAt   int64   `json:"registered_at"`
	CompletedAt    *int64  `json:"completed_at,omitempty"`
}

// NewRegistration builds a registered record from a catalog snapshot.
func NewRegistration(userID, userName string, snapshot EventRecord, at time.Time) Registration {
	return Registration{
		EventID:        snapshot.ID,
		UserID:         userID,
		UserName:       userName,
		EventTitle:     snapshot.Title,
		EventDate:      snapshot.Date,
		EventLocation:  snapshot.Location,
		EventLatitude:  snapshot.Latitude,
		EventLongitude: snapshot.Longitude,
		Status:         StatusRegistered,
		RegisteredAt:   at.UnixMilli(),
	}
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// LifecycleKind names what happened to a registration.
type LifecycleKind string

// Lifecycle kinds published after successful writes.
const (
	KindRegistered LifecycleKind = "registered"
	KindCancelled  LifecycleKind = "cancelled"
	KindCheckedIn  LifecycleKind = "checked_in"
)

// LifecycleEvent records a successful registration write for downstream
// consumers.
type LifecycleEvent struct {
	ID           string        `json:"id"`
	Kind         LifecycleKind `json:"kind"`
	UserID       string        `json:"user_id"`
	EventID      string        `json:"event_id"`
	RegisteredAt int64         `json:"registered_at"`
	At           time.Time     `json:"at"`
}

// DedupeKey identifies a lifecycle transition independent of its delivery id.
func (e LifecycleEvent) DedupeKey() string {
	return fmt.Sprintf("%s/%s/%s/%d", e.Kind, e.UserID, e.EventID, e.RegisteredAt)
}
