package presence

import "time"

type StrictStatus string

const (
	OnSite  StrictStatus = "ON_SITE"
	OffSite StrictStatus = "OFF_SITE"
)

// DefaultStaleAfter is how long a heartbeat stays trustworthy.
const DefaultStaleAfter = 90 * time.Second

// HeartbeatFresh reports whether the last sighting is recent enough to
// trust. A worker whose device stopped reporting is never live, no matter
// what the last reading said.
func HeartbeatFresh(lastSeen, now time.Time, staleAfter time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= staleAfter
}

// ResolveStrictStatus is ON_SITE only when the last reading was inside the
// zone AND the heartbeat is fresh. A stale "inside" reading must not be
// reported as currently on-site.
func ResolveStrictStatus(insideZone bool, lastSeen, now time.Time, staleAfter time.Duration) StrictStatus {
	if insideZone && HeartbeatFresh(lastSeen, now, staleAfter) {
		return OnSite
	}
	return OffSite
}

// OpenSessionEnd returns the end boundary for the elapsed duration of a
// session with no check-out yet. While the heartbeat is fresh the boundary
// is now; once the device goes silent it freezes at the last confirmed
// sighting, so accrued on-site time stops growing with wall-clock time.
func OpenSessionEnd(lastSeen, now time.Time, staleAfter time.Duration) time.Time {
	if HeartbeatFresh(lastSeen, now, staleAfter) {
		return now
	}
	if lastSeen.After(now) {
		return now
	}
	return lastSeen
}
