// Package clock abstracts wall time so that countdowns and debounced saves can
// be driven by a simulated clock in tests.
package clock

import "time"

// Clock schedules callbacks and reports the current time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback created by AfterFunc.
type Timer interface {
	// Stop cancels the callback. It returns false if the callback already ran
	// or was already stopped.
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Clock { return Real{} }

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc runs f in its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
