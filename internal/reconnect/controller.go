package reconnect

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Controller holds at most one pending reconnect timer.
type Controller struct {
	policy Policy

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	attempts int
}

// NewController returns a controller using policy, or Default when nil.
func NewController(policy Policy) *Controller {
	if policy == nil {
		policy = Default()
	}
	return &Controller{policy: policy}
}

// Schedule arranges for fire to run after the policy's next delay,
// replacing any pending timer. It returns false without scheduling when the
// policy has given up.
func (c *Controller) Schedule(fire func()) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}

	c.stopLocked()
	c.attempts++
	gen := c.gen

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		fire()
	})
	return delay, true
}

// Cancel drops the pending timer, if any. A timer that already fired but
// has not yet called fire is suppressed too.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Reset restarts the policy and the attempt count after a successful
// connection.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy.Reset()
	c.attempts = 0
}

// Attempts returns how many attempts were scheduled since the last Reset.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Pending reports whether a timer is waiting to fire.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}
