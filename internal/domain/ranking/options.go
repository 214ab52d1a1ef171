package ranking

import "github.com/okian/rollcall/pkg/logger"

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNearbyRadiusKm overrides the nearby radius. Non-positive values are ignored.
func WithNearbyRadiusKm(km float64) Option {
	return func(e *Engine) {
		if km > 0 {
			e.radiusKm = km
		}
	}
}
