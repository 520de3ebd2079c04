// Package timeutil provides an injectable clock and time-of-day helpers used
// by expiration checks, score recency and quiet hours.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time. Domain code takes a Clock instead of
// calling time.Now so tests can pin the instant.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a manually advanced clock for tests and replays.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock starts a clock at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─────────────────────────────────────────────────────────────────────────────
// Time of day
// ─────────────────────────────────────────────────────────────────────────────

// TimeOfDay is a wall-clock time in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "H:MM" or "HH:MM" (24h). Seconds ("HH:MM:SS", as
// Postgres TIME renders) are accepted and dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	n, _ := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if n < 2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// Of returns the time of day of t in its own location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String renders "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// InWindow reports whether t lies in [start, end], both ends inclusive at
// minute resolution. A window whose end is before its start spans midnight.
func InWindow(start, end, t TimeOfDay) bool {
	if start <= end {
		return t >= start && t <= end
	}
	return t >= start || t <= end
}
