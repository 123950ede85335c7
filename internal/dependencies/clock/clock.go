package clock

import "time"

// Clock provides time operations that can be mocked for testing
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock
type RealClock struct{}

// New creates a new RealClock
func New() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// NowMillis returns the clock's current time in unix milliseconds, the
// resolution of every timestamp carried by events and notifications
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}
