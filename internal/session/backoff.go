package session

import (
	"time"

	"github.com/mcoot/spinroom/internal/dependencies/random"
)

// ReconnectPolicy controls how the live channel is re-established
type ReconnectPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Randomization spreads each delay over [d*(1-r), d*(1+r)]
	Randomization float64
	MaxAttempts   int
}

// DefaultReconnectPolicy returns the default reconnect policy
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:     time.Second,
		MaxDelay:      5 * time.Second,
		Randomization: 0.5,
		MaxAttempts:   50,
	}
}

// Delay returns the wait before reconnect attempt n (1-based). The delay
// doubles each attempt and never exceeds MaxDelay.
func (p ReconnectPolicy) Delay(attempt int, rnd random.Random) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, p.MaxDelay)

	if p.Randomization > 0 {
		delta := p.Randomization * float64(d)
		d = time.Duration(float64(d) - delta + rnd.Float64()*2*delta)
	}
	return min(d, p.MaxDelay)
}
