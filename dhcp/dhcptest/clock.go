// Package dhcptest provides fakes for exercising DHCP clients without a
// network: a manual clock, an in-memory transport and a small server.
package dhcptest

import (
	"sync"
	"time"
)

// Epoch is where every Clock starts.
var Epoch = time.Date(2018, time.August, 24, 14, 58, 55, 0, time.UTC)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: Epoch}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceTo moves the clock to t unless it is already past it.
func (c *Clock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
