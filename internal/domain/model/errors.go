package model

import (
	"errors"
	"fmt"
)

// Business-rule failures. These are never retried.
var (
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrAlreadyRegistered      = errors.New("already registered")
	ErrNotRegistered          = errors.New("not registered")
	ErrMalformedToken         = errors.New("malformed check-in token")
	ErrTokenOwnershipMismatch = errors.New("check-in token belongs to another user")
	ErrRegistrationNotFound   = errors.New("registration not found")
	ErrAlreadyCheckedIn       = errors.New("already checked in")
	ErrEventNotFound          = errors.New("event not found")
)

// ErrStoreUnavailable marks backend failures, distinct from business errors.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrNoRecord is returned by stores when a key has never been written.
var ErrNoRecord = errors.New("no record")

// ErrInvalidStatus is returned for unknown status values.
var ErrInvalidStatus = errors.New("invalid registration status")

// Unavailable wraps a backend failure so it classifies as ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsBusiness reports whether err is a business-rule failure.
func IsBusiness(err error) bool {
	switch {
	case errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrNotRegistered),
		errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrTokenOwnershipMismatch),
		errors.Is(err, ErrRegistrationNotFound),
		errors.Is(err, ErrAlreadyCheckedIn),
		errors.Is(err, ErrEventNotFound):
		return true
	}
	return false
}
