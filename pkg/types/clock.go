package types

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so the simulator and replay runner can
// drive time deterministically. Production components take a Clock in their
// constructor and default to RealClock when passed nil.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// SimClock is a settable clock. While unset it falls through to the wall
// clock, so a paper stack behaves identically to live until a scenario
// pins time.
type SimClock struct {
	mu  sync.Mutex
	t   time.Time
	set bool
}

// NewSimClock returns an unset SimClock.
func NewSimClock() *SimClock { return &SimClock{} }

// Now returns the pinned time when set, else the wall clock.
func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return c.t
	}
	return time.Now()
}

// Set pins the clock to t.
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.set = true
	c.mu.Unlock()
}

// Advance moves a pinned clock forward by d. Calling Advance on an unset
// clock pins it to now+d.
func (c *SimClock) Advance(d time.Duration) {
	c.mu.Lock()
	if !c.set {
		c.t = time.Now()
		c.set = true
	}
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Clear unpins the clock, returning Now to the wall clock.
func (c *SimClock) Clear() {
	c.mu.Lock()
	c.set = false
	c.mu.Unlock()
}
