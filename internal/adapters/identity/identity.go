// Package identity resolves bearer tokens into model identities.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/okian/rollcall/internal/domain/model"
)

var (
	// ErrMissingSecret is returned when a provider is built without a signing key.
	ErrMissingSecret = errors.New("identity: signing secret is required")
	// ErrTokenExpired is returned for bearer tokens past their expiry.
	ErrTokenExpired = errors.New("identity: token expired")
	// ErrInvalidToken is returned for bearer tokens that fail validation.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Provider turns a bearer credential into the caller's identity.
type Provider interface {
	Identify(ctx context.Context, bearer string) (model.Identity, error)
}

// Issuer mints bearer tokens for an identity.
type Issuer interface {
	Issue(id model.Identity, ttl time.Duration) (string, error)
}

var (
	_ Provider = (*JWT)(nil)
	_ Issuer   = (*JWT)(nil)
	_ Provider = Static(nil)
)

// Claims are the JWT claims understood by the service.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWT validates and mints HS256 tokens.
type JWT struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewJWT creates a JWT provider. issuer may be empty, in which case it is
// neither set nor checked.
func NewJWT(secret, issuer string) (*JWT, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWT{key: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for id that expires after ttl.
func (p *JWT) Issue(id model.Identity, ttl time.Duration) (string, error) {
	if !id.Authenticated() {
		return "", model.ErrNotAuthenticated
	}
	now := p.now()
	claims := Claims{
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Identify validates bearer, accepting an optional "Bearer " prefix.
func (p *JWT) Identify(_ context.Context, bearer string) (model.Identity, error) {
	raw := strings.TrimSpace(bearer)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return model.Identity{}, model.ErrNotAuthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return p.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, fmt.Errorf("%w: %w", model.ErrNotAuthenticated, ErrTokenExpired)
		}
		return model.Identity{}, fmt.Errorf("%w: %w: %v", model.ErrNotAuthenticated, ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return model.Identity{}, fmt.Errorf("%w: %w", model.ErrNotAuthenticated, ErrInvalidToken)
	}
	return model.Identity{UserID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// Static is a Provider that maps fixed bearer strings to identities.
type Static map[string]model.Identity

// Identify looks up bearer verbatim.
func (s Static) Identify(_ context.Context, bearer string) (model.Identity, error) {
	id, ok := s[strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))]
	if !ok {
		return model.Identity{}, model.ErrNotAuthenticated
	}
	return id, nil
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored in ctx, or the zero identity.
func FromContext(ctx context.Context) model.Identity {
	id, _ := ctx.Value(ctxKey{}).(model.Identity)
	return id
}
