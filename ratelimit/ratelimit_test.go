package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBlocksOverLimit(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("client-a"), "request %d", i)
	}
	require.False(t, l.Allow("client-a"))

	// Other clients are unaffected.
	require.True(t, l.Allow("client-b"))
}

func TestLimiterWindowSlides(t *testing.T) {
	l := New(2, time.Minute)
	base := time.Now()
	l.SetClock(func() time.Time { return base })

	require.True(t, l.Allow("c"))
	require.True(t, l.Allow("c"))
	require.False(t, l.Allow("c"))

	l.SetClock(func() time.Time { return base.Add(61 * time.Second) })
	require.True(t, l.Allow("c"))
}

func TestActivePrunesIdleClients(t *testing.T) {
	l := New(1, time.Minute)
	base := time.Now()
	l.SetClock(func() time.Time { return base })

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Active())

	l.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	require.Equal(t, 0, l.Active())
}
