package nettime

import "time"

// Timer fires no more often than period; a late call to Ready does not
// cause ticks to accumulate (spec §4.H: "missed ticks do not accumulate").
type Timer struct {
	period time.Duration
	next   time.Time
	clock  Clock
}

// NewTimer constructs a Timer that is immediately ready.
func NewTimer(clock Clock, period time.Duration) *Timer {
	return &Timer{period: period, next: clock.Now(), clock: clock}
}

// Ready reports whether period has elapsed since the timer last fired. If
// so, it rearms itself relative to now rather than relative to the missed
// deadline, so a long stall does not produce a burst of fires.
func (t *Timer) Ready() bool {
	now := t.clock.Now()
	if now.Before(t.next) {
		return false
	}
	t.next = now.Add(t.period)
	return true
}

// Reset rearms the timer to fire no sooner than period from now.
func (t *Timer) Reset() {
	t.next = t.clock.Now().Add(t.period)
}

// SetPeriod changes the timer's period, taking effect on the next Reset or
// successful Ready.
func (t *Timer) SetPeriod(period time.Duration) { t.period = period }
