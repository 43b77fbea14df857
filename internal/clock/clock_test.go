package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_Advance_FiresDueTimersInOrder(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Unix(1_700_000_000, 0))
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(time.Minute, func() { fired = append(fired, "late") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Len(t, c.Pending(), 1)
}

func TestFake_Stop_PreventsFiring(t *testing.T) {
	t.Parallel()

	c := NewFake(time.Unix(0, 0))
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports nothing to stop")
	c.Advance(time.Hour)
	assert.False(t, called)
}

func TestFake_Sleep_AdvancesTime(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	c := NewFake(start)
	require.NoError(t, c.Sleep(context.Background(), 100*time.Millisecond))
	assert.Equal(t, start.Add(100*time.Millisecond), c.Now())
}

func TestReal_Sleep_ReturnsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Real().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
