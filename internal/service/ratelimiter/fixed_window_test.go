package ratelimiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(opts Options) (*Limiter, *clock) {
	c := &clock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	return New(opts).WithClock(c.now), c
}

func TestAttemptCeilingWithinWindow(t *testing.T) {
	l, _ := newTestLimiter(Options{})
	for i := 0; i < DefaultMaxAttempt; i++ {
		require.True(t, l.Attempt("user-1", "ref"), "attempt %d should pass", i+1)
	}
	assert.False(t, l.Attempt("user-1", "ref"))
	// Other keys are unaffected.
	assert.True(t, l.Attempt("user-2", "ref"))
}

func TestWindowIsFixedNotSliding(t *testing.T) {
	l, c := newTestLimiter(Options{TTL: 60 * time.Second})
	require.True(t, l.Attempt("u", "r"))

	// Attempts late in the window never extend it.
	c.advance(59 * time.Second)
	require.True(t, l.Attempt("u", "r"))
	require.True(t, l.Attempt("u", "r"))
	assert.False(t, l.Attempt("u", "r"))

	// Two seconds later the original window has lapsed; the counter
	// restarts even though the last attempt was moments ago.
	c.advance(2 * time.Second)
	assert.True(t, l.Attempt("u", "r"))
}

func TestWindowExpiryResetsCount(t *testing.T) {
	l, c := newTestLimiter(Options{TTL: 60 * time.Second})
	for i := 0; i < 3; i++ {
		require.True(t, l.Attempt("u", "r"))
	}
	require.False(t, l.Attempt("u", "r"))

	c.advance(61 * time.Second)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Attempt("u", "r"), "attempt %d after expiry", i+1)
	}
	assert.False(t, l.Attempt("u", "r"))
}

func TestGlobalLiveKeyCap(t *testing.T) {
	l, c := newTestLimiter(Options{TTL: 60 * time.Second, Max: 2})
	require.True(t, l.Attempt("a", "r"))
	require.True(t, l.Attempt("b", "r"))
	// Third distinct key hits the cap; existing keys still work.
	assert.False(t, l.Attempt("c", "r"))
	assert.True(t, l.Attempt("a", "r"))
	assert.Equal(t, 2, l.Live())

	// Expiry frees slots via the lazy sweep on insert.
	c.advance(61 * time.Second)
	assert.True(t, l.Attempt("c", "r"))
	assert.Equal(t, 1, l.Live())
}

func TestSetMaxAttempt(t *testing.T) {
	l, _ := newTestLimiter(Options{})
	l.SetMaxAttempt(1, "ref")
	require.True(t, l.Attempt("u", "r"))
	assert.False(t, l.Attempt("u", "r"))

	// Non-positive resets to the default.
	l.SetMaxAttempt(0, "ref")
	for i := 0; i < 2; i++ {
		assert.True(t, l.Attempt("v", "r"))
	}
}

func TestDefaultsApplied(t *testing.T) {
	l, c := newTestLimiter(Options{})
	for i := 0; i < DefaultMax; i++ {
		require.True(t, l.Attempt(fmt.Sprintf("k%d", i), "r"))
	}
	assert.False(t, l.Attempt("overflow", "r"))
	c.advance(DefaultTTL + time.Second)
	assert.True(t, l.Attempt("overflow", "r"))
}
