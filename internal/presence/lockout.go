package presence

import "sync"

// GuardConfig tunes the anti-flutter lockout policy layered on top of the
// geofence check.
type GuardConfig struct {
	// AccuracyLimitMeters rejects readings whose self-reported accuracy is
	// worse than this; such a reading neither confirms nor denies presence.
	AccuracyLimitMeters float64
	// BufferMeters widens the zone radius before a reading counts as outside.
	BufferMeters float64
	// Checks is how many consecutive qualifying outside readings are needed
	// before the lockout engages.
	Checks int
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{AccuracyLimitMeters: 50, BufferMeters: 30, Checks: 2}
}

type Decision struct {
	// Qualifying is false when the reading was ignored for poor accuracy.
	Qualifying bool
	Outside    bool
	// OutsideStreak is the consecutive qualifying outside count after this
	// reading.
	OutsideStreak int
	Locked        bool
	// Engaged is true on the reading that flipped the lockout on.
	Engaged bool
}

// Guard holds per-worker consecutive-outside counters. State is in-memory
// only: a process restart degrades to "not yet locked", never to falsely
// locked.
type Guard struct {
	mu      sync.Mutex
	cfg     GuardConfig
	streaks map[string]int
	locked  map[string]bool
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Checks <= 0 {
		cfg.Checks = DefaultGuardConfig().Checks
	}
	return &Guard{cfg: cfg, streaks: map[string]int{}, locked: map[string]bool{}}
}

// Observe feeds one reading for a worker: distanceMeters is the measured
// distance from the zone center, radiusMeters the configured radius, and
// accuracyMeters the reading's self-reported accuracy.
func (g *Guard) Observe(workerID string, distanceMeters, radiusMeters, accuracyMeters float64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if accuracyMeters > g.cfg.AccuracyLimitMeters {
		return Decision{Qualifying: false, OutsideStreak: g.streaks[workerID], Locked: g.locked[workerID]}
	}

	outside := distanceMeters > radiusMeters+g.cfg.BufferMeters
	if !outside {
		g.streaks[workerID] = 0
		g.locked[workerID] = false
		return Decision{Qualifying: true}
	}

	g.streaks[workerID]++
	streak := g.streaks[workerID]
	wasLocked := g.locked[workerID]
	locked := streak >= g.cfg.Checks
	g.locked[workerID] = locked
	return Decision{
		Qualifying:    true,
		Outside:       true,
		OutsideStreak: streak,
		Locked:        locked,
		Engaged:       locked && !wasLocked,
	}
}

func (g *Guard) Locked(workerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked[workerID]
}

// Reset clears the worker's counter, e.g. after a manual override.
func (g *Guard) Reset(workerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.streaks, workerID)
	delete(g.locked, workerID)
}
