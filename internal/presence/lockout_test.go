package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGuard() *Guard {
	return NewGuard(GuardConfig{AccuracyLimitMeters: 50, BufferMeters: 30, Checks: 2})
}

func TestGuardTwoConsecutiveOutsideReadingsLock(t *testing.T) {
	g := newTestGuard()

	// 250m from a 100m zone, good accuracy: outside, but one reading is
	// not enough.
	dec := g.Observe("w1", 250, 100, 10)
	require.True(t, dec.Qualifying)
	require.True(t, dec.Outside)
	require.Equal(t, 1, dec.OutsideStreak)
	require.False(t, dec.Locked)

	dec = g.Observe("w1", 260, 100, 10)
	require.True(t, dec.Locked)
	require.True(t, dec.Engaged)
	require.True(t, g.Locked("w1"))

	// Already locked: still locked, but not freshly engaged.
	dec = g.Observe("w1", 270, 100, 10)
	require.True(t, dec.Locked)
	require.False(t, dec.Engaged)
}

func TestGuardInsideReadingResetsStreak(t *testing.T) {
	g := newTestGuard()

	g.Observe("w1", 250, 100, 10)
	dec := g.Observe("w1", 50, 100, 10)
	require.True(t, dec.Qualifying)
	require.False(t, dec.Outside)

	// The streak restarted, so one more outside reading does not lock.
	dec = g.Observe("w1", 250, 100, 10)
	require.Equal(t, 1, dec.OutsideStreak)
	require.False(t, dec.Locked)
}

func TestGuardPoorAccuracyIgnored(t *testing.T) {
	g := newTestGuard()

	g.Observe("w1", 250, 100, 10)
	// 80m accuracy exceeds the 50m limit: neither confirms nor denies.
	dec := g.Observe("w1", 250, 100, 80)
	require.False(t, dec.Qualifying)
	require.Equal(t, 1, dec.OutsideStreak)
	require.False(t, dec.Locked)

	dec = g.Observe("w1", 250, 100, 20)
	require.True(t, dec.Locked)
}

func TestGuardBufferWidensZone(t *testing.T) {
	g := newTestGuard()

	// 120m from a 100m zone is within radius+buffer (130m): inside.
	dec := g.Observe("w1", 120, 100, 10)
	require.False(t, dec.Outside)

	dec = g.Observe("w1", 131, 100, 10)
	require.True(t, dec.Outside)
}

func TestGuardInsideUnlocksAndResetIsolatesWorkers(t *testing.T) {
	g := newTestGuard()

	g.Observe("w1", 250, 100, 10)
	g.Observe("w1", 250, 100, 10)
	require.True(t, g.Locked("w1"))
	require.False(t, g.Locked("w2"))

	g.Observe("w1", 50, 100, 10)
	require.False(t, g.Locked("w1"))

	g.Observe("w2", 250, 100, 10)
	g.Observe("w2", 250, 100, 10)
	g.Reset("w2")
	require.False(t, g.Locked("w2"))
}
