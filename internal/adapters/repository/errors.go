package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrClosed              = errors.New("store closed")
	ErrUnsupportedDriver   = errors.New("unsupported store driver")
	ErrInvalidRegistration = errors.New("invalid registration")
)
