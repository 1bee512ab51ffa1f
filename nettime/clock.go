// Package nettime wraps the non-blocking UDP socket, monotonic clock,
// periodic timer, and token-bucket pacer that the connection and group
// layers build on (spec §4.H). The clock is injected as an interface so
// tests run against a deterministic stub rather than real wall time;
// randomness is not injected here (spec §9 "Global state: none").
package nettime

import "time"

// Clock returns monotonic microseconds since an implementation-defined
// epoch. Every protocol timestamp derives from it.
type Clock interface {
	NowMicro() uint32
	Now() time.Time
}

// SystemClock is a Clock backed by the process's monotonic clock, epoched
// at construction time.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a SystemClock epoched at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// NowMicro returns microseconds elapsed since the clock's epoch, wrapping
// modulo 2**32 as the wire format's 32-bit timestamp field requires.
func (c *SystemClock) NowMicro() uint32 {
	return uint32(time.Since(c.epoch).Microseconds())
}

// Now returns the current wall-clock instant.
func (c *SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a deterministic Clock for tests: it never advances on its
// own, only when Advance is called.
type FakeClock struct {
	now time.Time
}

// NewFakeClock constructs a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// NowMicro returns the fake instant as microseconds since the Unix epoch,
// truncated to 32 bits.
func (c *FakeClock) NowMicro() uint32 { return uint32(c.now.UnixMicro()) }

// Now returns the fake clock's current instant.
func (c *FakeClock) Now() time.Time { return c.now }
