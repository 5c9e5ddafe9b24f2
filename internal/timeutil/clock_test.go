package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	var c RealClock
	before := time.Now()
	c.Sleep(time.Millisecond)
	assert.False(t, c.Now().Before(before))
}

func TestMockClock_SleepIsRecorded(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(start)

	c.Sleep(200 * time.Millisecond)
	c.Sleep(time.Second)

	assert.Equal(t, []time.Duration{200 * time.Millisecond, time.Second}, c.Sleeps())
	assert.Equal(t, start, c.Now(), "Sleep must not move the clock")
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), c.Now())
	assert.Equal(t, UnixMillis(start)+1500, UnixMillis(c.Now()))
}

func TestUnixMillis(t *testing.T) {
	assert.Equal(t, uint64(1500), UnixMillis(time.UnixMilli(1500)))
	assert.Equal(t, uint64(0), UnixMillis(time.UnixMilli(-10)))
}
