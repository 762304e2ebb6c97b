package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_CapsWithinWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	w := newSlidingWindow(3, 10*time.Second)

	require.True(t, w.allow(now))
	require.True(t, w.allow(now.Add(time.Second)))
	require.True(t, w.allow(now.Add(2*time.Second)))
	require.False(t, w.allow(now.Add(3*time.Second)))
}

func TestSlidingWindow_RecoversAsWindowSlides(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	w := newSlidingWindow(2, 10*time.Second)

	require.True(t, w.allow(now))
	require.True(t, w.allow(now.Add(time.Second)))
	require.False(t, w.allow(now.Add(2*time.Second)))

	// First entry ages out after 10s.
	require.True(t, w.allow(now.Add(11*time.Second)))
}

func TestSlidingWindow_ZeroMaxMeansUnlimited(t *testing.T) {
	w := newSlidingWindow(0, time.Second)
	now := time.Now()
	for i := 0; i < 100; i++ {
		require.True(t, w.allow(now))
	}
}
