package engine

import "time"

// Timer is a one-shot timer handle. *time.Timer satisfies it.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// TimerFunc arranges for f to be called once after d.
//
// Implementations must call f from another goroutine (or later, from a
// test driver), never synchronously from inside the TimerFunc call.
type TimerFunc func(d time.Duration, f func()) Timer

// RealTimers is the production TimerFunc backed by time.AfterFunc.
func RealTimers(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
