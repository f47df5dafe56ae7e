// Package clock abstracts the current time so session expiry can be
// tested deterministically. Production code injects Real(); tests inject
// Fake() and move time with Advance.
//
// Readings are UTC and truncated to microseconds, the resolution of a
// Postgres TIMESTAMPTZ, so a stored timestamp reads back equal to the one
// handed to the caller.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Resolution is the precision of every Clock reading.
const Resolution = time.Microsecond

func (realClock) Now() time.Time { return time.Now().UTC().Truncate(Resolution) }

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

// FakeClock is a manually advanced Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Truncate(Resolution)
}

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the clock to t.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}
