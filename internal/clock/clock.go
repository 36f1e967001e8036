package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in a fixed location
type System struct {
	Location *time.Location
}

// Now returns the current time in the configured location
func (s System) Now() time.Time {
	if s.Location == nil {
		return time.Now()
	}
	return time.Now().In(s.Location)
}

// Fixed is a settable clock for tests
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed creates a clock frozen at t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

// Now returns the frozen instant
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Today returns the civil date of c's current time
func Today(c Clock) time.Time {
	return Date(c.Now())
}

// Date returns the civil date of t, read in t's own location, as midnight UTC.
// Stored DATE columns scan back in the same form, so civil dates compare
// with Equal and Before.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays adds n calendar days to a civil date
func AddDays(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, n)
}

// SameDay reports whether a and b fall on the same civil date
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
