package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilLimiterAlwaysAllows(t *testing.T) {
	var l *Limiter
	for i := 0; i < 100; i++ {
		assert.Greater(t, l.Hit("anything"), 1)
	}
}

func TestHitSuppressesAfterLimit(t *testing.T) {
	l := New(3, time.Minute)

	// First hit: count=0 before, remaining=3.
	assert.Equal(t, 3, l.Hit("k"))
	// Second: count=1 before, remaining=2.
	assert.Equal(t, 2, l.Hit("k"))
	// Third: count=2 before, remaining=1 -> caller should annotate.
	assert.Equal(t, 1, l.Hit("k"))
	// Fourth: count=3 before, remaining=0 -> suppress.
	assert.Equal(t, 0, l.Hit("k"))
	// Fifth: still suppressed, never negative.
	assert.Equal(t, 0, l.Hit("k"))
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	l := New(1, 10*time.Millisecond)

	assert.Equal(t, 1, l.Hit("k"))
	assert.Equal(t, 0, l.Hit("k"))

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, l.Hit("k"), "new window should reset the count")
}

func TestIndependentKeys(t *testing.T) {
	l := New(1, time.Minute)

	assert.Equal(t, 1, l.Hit("a"))
	assert.Equal(t, 0, l.Hit("a"))
	assert.Equal(t, 1, l.Hit("b"), "key b must not be affected by key a's usage")
}
