package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsUntilCap(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second)

	// Jitter is ±20%, so consecutive delays must still be distinguishable.
	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, b.Next())
	}

	assert.InDelta(t, float64(100*time.Millisecond), float64(delays[0]), float64(20*time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64(delays[1]), float64(40*time.Millisecond))
	assert.InDelta(t, float64(400*time.Millisecond), float64(delays[2]), float64(80*time.Millisecond))
	assert.InDelta(t, float64(800*time.Millisecond), float64(delays[3]), float64(160*time.Millisecond))

	// Capped from here on.
	assert.InDelta(t, float64(time.Second), float64(delays[4]), float64(200*time.Millisecond))
	assert.InDelta(t, float64(time.Second), float64(delays[5]), float64(200*time.Millisecond))
}

func TestBackoff_StrictlyIncreasingBeforeCap(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 10*time.Second)

	prev := b.Current()
	for i := 0; i < 5; i++ {
		b.Next()
		cur := b.Current()
		assert.Greater(t, cur, prev, "window should grow on every failure before the cap")
		prev = cur
	}
}

func TestBackoff_ResetRestoresBase(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second)

	for i := 0; i < 4; i++ {
		b.Next()
	}
	assert.Equal(t, time.Second, b.Current())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestBackoff_NormalizesDegenerateBounds(t *testing.T) {
	t.Run("non-positive base defaults to one second", func(t *testing.T) {
		b := newBackoff(0, time.Minute)
		assert.Equal(t, time.Second, b.Current())
	})

	t.Run("max below base is raised to base", func(t *testing.T) {
		b := newBackoff(time.Minute, time.Second)
		assert.Equal(t, time.Minute, b.Current())

		// The cap equals base, so the window never grows.
		b.Next()
		assert.Equal(t, time.Minute, b.Current())
	})
}
