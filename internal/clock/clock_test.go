package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDate_UsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	// 23:30 local on March 1 is already March 2 in UTC
	late := time.Date(2025, 3, 1, 23, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Date(late))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Today(NewFixed(late)))
}

func TestAddDays_AcrossMonthEnd(t *testing.T) {
	d := time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), AddDays(d, 15))
}

func TestFixed(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFixed(start)

	c.Advance(36 * time.Hour)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), Today(c))

	c.Set(start)
	assert.True(t, SameDay(c.Now(), start))
	assert.False(t, SameDay(c.Now(), start.Add(24*time.Hour)))
}
