// Package checkin verifies scanned check-in tokens and performs the
// registered -> completed transition exactly once.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/registration"
	"github.com/okian/rollcall/internal/domain/token"
	"github.com/okian/rollcall/pkg/logger"
	"github.com/okian/rollcall/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OwnershipPolicy decides whether verifier may check in the token's holder.
type OwnershipPolicy interface {
	Authorize(ctx context.Context, tok token.Token, verifierUserID string) error
}

// SelfPolicy only lets holders check themselves in.
type SelfPolicy struct{}

// Authorize requires the token's user to be the verifier.
func (SelfPolicy) Authorize(_ context.Context, tok token.Token, verifierUserID string) error {
	if tok.UserID != verifierUserID {
		return model.ErrTokenOwnershipMismatch
	}
	return nil
}

// Verifier runs the check-in protocol against a registration store.
type Verifier struct {
	store     registration.Store
	policy    OwnershipPolicy
	now       func() time.Time
	logger    logger.Logger
	storeName string
}

// NewVerifier creates a Verifier with the self check-in policy.
func NewVerifier(store registration.Store, opts ...Option) *Verifier {
	v := &Verifier{
		store:     store,
		policy:    SelfPolicy{},
		now:       time.Now,
		storeName: "store",
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logger.OrGlobal(v.logger, "checkin")
	return v
}

// Verify checks in the registration named by rawToken on behalf of
// verifierUserID. Steps short-circuit in order: parse, ownership, existence,
// idempotency, transition.
func (v *Verifier) Verify(ctx context.Context, rawToken, verifierUserID string) (model.Registration, error) {
	ctx, span := otel.Tracer("rollcall/checkin").Start(ctx, "checkin.Verify")
	defer span.End()

	reg, err := v.verify(ctx, rawToken, verifierUserID)
	outcome := outcomeOf(err)
	metrics.RecordCheckIn(outcome)
	span.SetAttributes(attribute.String("checkin.outcome", outcome))
	if err != nil {
		if errors.Is(err, model.ErrStoreUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store failure")
			v.logger.Error(ctx, "check-in failed", logger.String("user_id", verifierUserID), logger.Error(err))
		} else {
			v.logger.Debug(ctx, "check-in rejected", logger.String("user_id", verifierUserID), logger.String("outcome", outcome))
		}
		return reg, err
	}
	v.logger.Info(ctx, "checked in", logger.String("user_id", reg.UserID), logger.String("event_id", reg.EventID))
	return reg, nil
}

func (v *Verifier) verify(ctx context.Context, rawToken, verifierUserID string) (model.Registration, error) {
	if verifierUserID == "" {
		return model.Registration{}, model.ErrNotAuthenticated
	}

	tok, err := token.Parse(rawToken)
	if err != nil {
		return model.Registration{}, err
	}
	if err := v.policy.Authorize(ctx, tok, verifierUserID); err != nil {
		return model.Registration{}, err
	}

	reg, err := v.store.Get(ctx, tok.UserID, tok.EventID)
	switch {
	case errors.Is(err, model.ErrNoRecord):
		return model.Registration{}, model.ErrRegistrationNotFound
	case err != nil:
		metrics.RecordStoreError(v.storeName, "get")
		return model.Registration{}, fmt.Errorf("check-in %s: %w", tok.EventID, err)
	}
	if reg.UserID != tok.UserID || reg.EventID != tok.EventID {
		v.logger.Warn(ctx, "store returned a record for another key",
			logger.String("token_user_id", tok.UserID), logger.String("record_user_id", reg.UserID))
		return model.Registration{}, model.ErrRegistrationNotFound
	}

	if err := stateError(reg.Status); err != nil {
		return reg, err
	}

	start := time.Now()
	cur, swapped, err := v.store.CompareAndSetStatus(ctx, tok.UserID, tok.EventID,
		model.StatusRegistered, model.StatusCompleted, model.Millis(v.now()))
	metrics.RecordStoreOperation(v.storeName, "compare_and_set", metrics.Since(start))
	switch {
	case errors.Is(err, model.ErrNoRecord):
		return model.Registration{}, model.ErrRegistrationNotFound
	case err != nil:
		metrics.RecordStoreError(v.storeName, "compare_and_set")
		return model.Registration{}, fmt.Errorf("check-in %s: %w", tok.EventID, err)
	case !swapped:
		// Lost a race with another scan or a cancel.
		if err := stateError(cur.Status); err != nil {
			return cur, err
		}
		return cur, model.ErrAlreadyCheckedIn
	}
	return cur, nil
}

// stateError maps a non-live status to its check-in failure.
func stateError(s model.Status) error {
	switch s {
	case model.StatusRegistered:
		return nil
	case model.StatusCompleted:
		return model.ErrAlreadyCheckedIn
	default:
		return model.ErrRegistrationNotFound
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, model.ErrNotAuthenticated):
		return "unauthenticated"
	case errors.Is(err, model.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, model.ErrTokenOwnershipMismatch):
		return "ownership_mismatch"
	case errors.Is(err, model.ErrRegistrationNotFound):
		return "not_found"
	case errors.Is(err, model.ErrAlreadyCheckedIn):
		return "already_checked_in"
	default:
		return "error"
	}
}
