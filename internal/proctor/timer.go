package proctor

// Countdown tracks the remaining seconds of a time-limited session.
// It is driven by Tick on a one-second cadence and is not safe for
// concurrent use; the owning Controller serializes access.
type Countdown struct {
	remaining int
	running   bool
	expired   bool
}

// Start sets the remaining time and begins ticking. A non-positive value
// means the assessment has no time limit and the countdown is not started.
func (c *Countdown) Start(initialSeconds int) error {
	if initialSeconds <= 0 {
		return ErrNoTimeLimit
	}
	c.remaining = initialSeconds
	c.running = true
	c.expired = false
	return nil
}

// Tick decrements the remaining time by one second. It returns true exactly
// once: on the tick that brings the remaining time to zero. Ticks after
// that, or while stopped, do nothing.
func (c *Countdown) Tick() (expired bool) {
	if !c.running {
		return false
	}
	c.remaining--
	if c.remaining > 0 {
		return false
	}
	c.remaining = 0
	c.running = false
	c.expired = true
	return true
}

// Stop halts ticking and freezes the remaining time. Idempotent.
func (c *Countdown) Stop() {
	c.running = false
}

// Remaining returns the frozen or live remaining seconds, never negative.
func (c *Countdown) Remaining() int { return c.remaining }

// Running reports whether ticks still decrement the countdown.
func (c *Countdown) Running() bool { return c.running }

// Expired reports whether the countdown reached zero.
func (c *Countdown) Expired() bool { return c.expired }
