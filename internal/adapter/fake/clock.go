package fake

import (
	"sync"
	"time"
)

// Clock is a manual time source for the Now hooks of the dialer and the
// workload service. When Step is set every read advances it, so successive
// stamps are distinct and ordered.
type Clock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

func NewClock(start time.Time) *Clock {
	return &Clock{at: start}
}

// NewSteppingClock returns a clock that moves forward by step after each read.
func NewSteppingClock(start time.Time, step time.Duration) *Clock {
	return &Clock{at: start, step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.at
	c.at = c.at.Add(c.step)
	return t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}
