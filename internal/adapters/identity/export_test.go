package identity

import "time"

// SetClock overrides the provider clock in tests.
func (p *JWT) SetClock(now func() time.Time) { p.now = now }
