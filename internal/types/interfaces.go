package types

import "time"

// Clock abstracts time for testability. Every component captures a single
// Now() at the top of each operation and threads it through comparisons.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock implements Clock with a constant instant, for tests and for
// manual job invocations with a reference-time override.
type FixedClock struct{ T time.Time }

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }
