package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/types"
)

// APIError is a non-2xx response. It unwraps to the matching model
// sentinel so callers can use errors.Is across the wire.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
}

var kindSentinels = map[string]error{
	"not_authenticated":        model.ErrNotAuthenticated,
	"already_registered":       model.ErrAlreadyRegistered,
	"already_checked_in":       model.ErrAlreadyCheckedIn,
	"not_registered":           model.ErrNotRegistered,
	"registration_not_found":   model.ErrRegistrationNotFound,
	"event_not_found":          model.ErrEventNotFound,
	"malformed_token":          model.ErrMalformedToken,
	"token_ownership_mismatch": model.ErrTokenOwnershipMismatch,
	"store_unavailable":        model.ErrStoreUnavailable,
}

func (e *APIError) Unwrap() error { return kindSentinels[e.Kind] }

func decodeError(status int, body []byte) error {
	var eb types.Error
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
		return &APIError{Status: status, Message: string(body)}
	}
	return &APIError{Status: status, Kind: eb.Kind, Message: eb.Error}
}
