package checkin

import (
	"time"

	"github.com/okian/rollcall/pkg/logger"
)

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithClock overrides the time source used for CompletedAt.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithPolicy replaces the self check-in policy.
func WithPolicy(p OwnershipPolicy) Option {
	return func(v *Verifier) {
		if p != nil {
			v.policy = p
		}
	}
}

// WithStoreName labels store metrics.
func WithStoreName(name string) Option {
	return func(v *Verifier) {
		if name != "" {
			v.storeName = name
		}
	}
}
