package registration

import (
	"time"

	"github.com/okian/rollcall/pkg/logger"
)

const defaultResubscribeInterval = time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithResubscribeInterval sets how long ListMine waits before retrying a
// failed or broken subscription.
func WithResubscribeInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resubscribe = d
		}
	}
}

// WithStoreName labels store metrics.
func WithStoreName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.storeName = name
		}
	}
}
