// Package clock abstracts time so timers can be driven deterministically in tests.
package clock

import "time"

// Timer is a cancellable scheduled callback
type Timer interface {
	Stop() bool
}

// Clock provides the current time and scheduled callbacks
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
