package core

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond counter. It wraps around every ~49.7
// days; callers compare durations with unsigned subtraction.
type Clock interface {
	Millis() uint32
}

// SystemClock counts milliseconds since it was created
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock starting at zero
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Millis returns the milliseconds elapsed since creation, truncated to 32 bits
func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}

// ManualClock is a clock driven explicitly, by a tick interrupt on hardware
// or by tests. Safe to advance from interrupt context.
type ManualClock struct {
	ticks uint32
}

// Millis returns the current tick count
func (c *ManualClock) Millis() uint32 {
	return atomic.LoadUint32(&c.ticks)
}

// Set sets the current tick count
func (c *ManualClock) Set(ms uint32) {
	atomic.StoreUint32(&c.ticks, ms)
}

// Advance moves the clock forward by ms
func (c *ManualClock) Advance(ms uint32) {
	atomic.AddUint32(&c.ticks, ms)
}

// elapsed returns now-since, correct across counter wraparound
func elapsed(now, since uint32) uint32 {
	return now - since
}
