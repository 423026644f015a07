package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *Breaker {
	return New("gist-api",
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithCooldown(10*time.Second),
		WithClock(clock.now),
	)
}

func fail(b *Breaker, n int) (unavailable bool, change StateChange) {
	for range n {
		unavailable, change = b.RecordFailure()
	}
	return unavailable, change
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("gist-api")
	assert.Equal(t, "gist-api", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})

	unavailable, change := fail(b, 2)
	assert.False(t, unavailable)
	assert.Equal(t, StateChange{}, change)

	unavailable, change = b.RecordFailure()
	assert.True(t, unavailable)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())

	_, change = b.RecordFailure()
	assert.False(t, change.Opened, "already open")
}

func TestBreaker_SuccessBreaksFailureStreak(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})

	fail(b, 2)
	healthy, _ := b.RecordSuccess()
	assert.True(t, healthy)
	fail(b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbesAfterCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	fail(b, 3)

	clock.advance(9 * time.Second)
	assert.False(t, b.Allow())

	clock.advance(time.Second)
	assert.True(t, b.Allow(), "one probe after cooldown")
	assert.False(t, b.Allow(), "next probe waits a full cooldown")
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	fail(b, 3)
	clock.advance(10 * time.Second)
	require.True(t, b.Allow())

	healthy, change := b.RecordSuccess()
	assert.False(t, healthy)
	assert.False(t, change.Closed)

	healthy, change = b.RecordSuccess()
	assert.True(t, healthy)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeRestartsSuccessCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	fail(b, 3)

	b.RecordSuccess()
	unavailable, _ := b.RecordFailure()
	assert.True(t, unavailable)
	_, change := b.RecordSuccess()
	assert.False(t, change.Closed, "success streak restarted")
	assert.True(t, b.IsOpen())
}

func TestBreaker_StateString(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	assert.Equal(t, "closed", b.State().String())
	fail(b, 3)
	assert.Equal(t, "open", b.State().String())
}
