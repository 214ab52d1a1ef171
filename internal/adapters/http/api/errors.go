package api

import (
	"errors"
	"net/http"

	"github.com/okian/rollcall/internal/adapters/repository"
	"github.com/okian/rollcall/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrStream     = errors.New("streaming unsupported")
)

// Error carries the operation that failed, a classifying kind and the cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap annotates err with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// NewKind creates an error of kind for op.
func NewKind(op string, kind error) error { return &Error{Op: op, Kind: kind} }

// WrapKind annotates err with op and kind.
func WrapKind(op string, kind, err error) error { return &Error{Op: op, Kind: kind, Err: err} }

// classify maps an error to an HTTP status and a stable kind string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, model.ErrAlreadyRegistered):
		return http.StatusConflict, "already_registered"
	case errors.Is(err, model.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, model.ErrNotRegistered):
		return http.StatusNotFound, "not_registered"
	case errors.Is(err, model.ErrRegistrationNotFound):
		return http.StatusNotFound, "registration_not_found"
	case errors.Is(err, model.ErrEventNotFound):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, model.ErrMalformedToken):
		return http.StatusBadRequest, "malformed_token"
	case errors.Is(err, repository.ErrInvalidLocation):
		return http.StatusBadRequest, "invalid_location"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrTokenOwnershipMismatch):
		return http.StatusForbidden, "token_ownership_mismatch"
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
