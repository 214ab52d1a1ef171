// Package token encodes and decodes check-in tokens of the form
// "<userId>_<eventId>". Event ids may contain underscores; user ids may not.
package token

import (
	"fmt"
	"strings"

	"github.com/okian/rollcall/internal/domain/model"
)

const separator = "_"

// Token is a parsed check-in token.
type Token struct {
	UserID  string
	EventID string
}

// Parse splits raw on the first underscore only. Both parts must be non-empty.
func Parse(raw string) (Token, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), separator, 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Token{}, fmt.Errorf("%w: %q", model.ErrMalformedToken, raw)
	}
	return Token{UserID: parts[0], EventID: parts[1]}, nil
}

// Format builds the wire token for a registration.
func Format(userID, eventID string) (string, error) {
	if userID == "" || eventID == "" || strings.Contains(userID, separator) {
		return "", fmt.Errorf("%w: user %q event %q", model.ErrMalformedToken, userID, eventID)
	}
	return userID + separator + eventID, nil
}

func (t Token) String() string { return t.UserID + separator + t.EventID }
