package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestHeartbeatFresh(t *testing.T) {
	staleAfter := 90 * time.Second

	require.True(t, HeartbeatFresh(base, base, staleAfter))
	// Exactly at the threshold is still fresh.
	require.True(t, HeartbeatFresh(base, base.Add(90*time.Second), staleAfter))
	// One step past it is not.
	require.False(t, HeartbeatFresh(base, base.Add(90*time.Second+time.Nanosecond), staleAfter))
	require.False(t, HeartbeatFresh(time.Time{}, base, staleAfter))
}

func TestResolveStrictStatus(t *testing.T) {
	staleAfter := 90 * time.Second

	require.Equal(t, OnSite, ResolveStrictStatus(true, base, base.Add(30*time.Second), staleAfter))
	require.Equal(t, OnSite, ResolveStrictStatus(true, base, base.Add(90*time.Second), staleAfter))

	// A stale "inside" reading is never reported as on-site.
	require.Equal(t, OffSite, ResolveStrictStatus(true, base, base.Add(91*time.Second), staleAfter))
	// Outside is off-site no matter how fresh.
	require.Equal(t, OffSite, ResolveStrictStatus(false, base, base, staleAfter))
	require.Equal(t, OffSite, ResolveStrictStatus(false, base, base.Add(10*time.Minute), staleAfter))
}

func TestOpenSessionEnd(t *testing.T) {
	staleAfter := 90 * time.Second

	// Fresh heartbeat: the session is still accruing, end is now.
	now := base.Add(60 * time.Second)
	require.Equal(t, now, OpenSessionEnd(base, now, staleAfter))

	// Stale heartbeat: accrued time freezes at the last confirmed sighting.
	for _, gap := range []time.Duration{91 * time.Second, 10 * time.Minute, 48 * time.Hour} {
		require.Equal(t, base, OpenSessionEnd(base, base.Add(gap), staleAfter), "gap %s", gap)
	}

	// A heartbeat from the future never pushes the boundary past now.
	require.Equal(t, base, OpenSessionEnd(base.Add(time.Hour), base, staleAfter))
}
