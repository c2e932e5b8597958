package eventcore

import (
	"time"

	"github.com/trickstertwo/xclock"
)

// Clock supplies the current time to components that stamp messages.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// DefaultClock returns the process wall clock.
func DefaultClock() Clock {
	return xclock.Default()
}

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
