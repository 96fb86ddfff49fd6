package timer

import (
	"time"
)

type Clock interface {
	Now() time.Time
}

// Coarse is a clock that changes only when ticked. Every loop ticks its own clock once
// per iteration, so all the timestamps taken while handling a batch of events are
// equal and cost nothing.
type Coarse struct {
	now time.Time
}

func NewCoarse() *Coarse {
	c := new(Coarse)
	c.Tick()
	return c
}

// Tick updates the clock to the current time.
func (c *Coarse) Tick() time.Time {
	c.now = time.Now()
	return c.now
}

func (c *Coarse) Now() time.Time {
	return c.now
}

// Manual is a clock driven entirely by its user.
type Manual struct {
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}
