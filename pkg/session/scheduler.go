package session

import "time"

// Timer is a pending deferred action.
type Timer interface {
	Stop() bool
}

// Scheduler arms deferred actions. The proactive refresh only needs a single
// cancellable timer, so any clock that can run a func later will do.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
