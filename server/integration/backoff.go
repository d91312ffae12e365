package integration

import (
	"math/rand"
	"time"
)

// backoff is an exponential retry timer with a capped delay and jitter.
// Jitter spreads reconnect attempts so many integrations failing at once
// (e.g., after a network blip) do not retry in lockstep.
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, cur: base}
}

// Next returns the next delay and advances the window. The returned delay
// carries up to ±20% jitter around the current value.
func (b *backoff) Next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return jitter(d)
}

// Current returns the delay Next would base its result on, without
// advancing the window or applying jitter.
func (b *backoff) Current() time.Duration {
	return b.cur
}

// Reset restores the initial state so the next delay starts at base again.
// Called after any successful publish.
func (b *backoff) Reset() {
	b.cur = b.base
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	// ±20%
	spread := int64(d) / 5
	if spread == 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int63n(2*spread))
}
