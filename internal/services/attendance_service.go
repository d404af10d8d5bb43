package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"fieldpulse/internal/geo"
	"fieldpulse/internal/logging"
	"fieldpulse/internal/models"
	"fieldpulse/internal/presence"
	"fieldpulse/internal/queue"
	"fieldpulse/internal/repos"
)

var ErrConflict = errors.New("conflict")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Options struct {
	StaleAfter          time.Duration
	AccuracyLimitMeters float64
	DayLocation         *time.Location
	Clock               quartz.Clock
}

// AttendanceService is the session reconciler: it ingests pulses, owns the
// worker's presence fields, and opens/closes attendance sessions
// idempotently. All distance math goes through geo, all duration math
// through presence.
type AttendanceService struct {
	repo  *repos.AttendanceRepo
	queue *queue.Queue
	guard *presence.Guard
	log   *logging.Logger
	clock quartz.Clock

	staleAfter    time.Duration
	accuracyLimit float64
	dayLoc        *time.Location
	locks         *workerLocks
}

func NewAttendanceService(repo *repos.AttendanceRepo, q *queue.Queue, guard *presence.Guard, log *logging.Logger, opts Options) *AttendanceService {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = presence.DefaultStaleAfter
	}
	if opts.AccuracyLimitMeters <= 0 {
		opts.AccuracyLimitMeters = 50
	}
	if opts.DayLocation == nil {
		opts.DayLocation = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	return &AttendanceService{
		repo:          repo,
		queue:         q,
		guard:         guard,
		log:           log.Component("reconciler"),
		clock:         opts.Clock,
		staleAfter:    opts.StaleAfter,
		accuracyLimit: opts.AccuracyLimitMeters,
		dayLoc:        opts.DayLocation,
		locks:         newWorkerLocks(),
	}
}

type PulseInput struct {
	Lat      float64
	Lng      float64
	Accuracy float64
}

type PulseResult struct {
	IsInside           bool                  `json:"is_inside"`
	Transitioned       bool                  `json:"transitioned"`
	StrictStatus       presence.StrictStatus `json:"strict_status"`
	TotalOnSiteSeconds int64                 `json:"total_on_site_seconds_today"`
	Locked             bool                  `json:"locked"`
}

// IngestPulse processes one device reading. The presence update and the
// session transition happen in a single transaction serialized per worker,
// so replaying the same pulse reaches the same state as ingesting it once.
// Side effects are enqueued only after the transaction commits.
func (s *AttendanceService) IngestPulse(ctx context.Context, workerID string, in PulseInput) (*PulseResult, error) {
	point := geo.LatLng{Lat: in.Lat, Lng: in.Lng}
	if err := point.Validate(); err != nil {
		return nil, &ValidationError{Field: "coordinates", Reason: "latitude or longitude out of range"}
	}
	if in.Accuracy < 0 {
		return nil, &ValidationError{Field: "accuracy", Reason: "must be non-negative"}
	}

	unlock := s.locks.lock(workerID)
	defer unlock()

	now := s.clock.Now().UTC()
	var (
		result  PulseResult
		pending []pendingJob

		guarded       bool
		guardDistance float64
		guardRadius   float64
		guardZoneID   string
	)
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		pending = pending[:0]
		guarded = false

		worker, err := s.repo.GetWorkerTx(ctx, tx, workerID)
		if err != nil {
			return err
		}

		// A worker without a configured zone degrades to always-inside.
		var zone *models.Zone
		if worker.ZoneID != nil {
			z, err := s.repo.GetZoneTx(ctx, tx, *worker.ZoneID)
			if err != nil && !errors.Is(err, repos.ErrNotFound) {
				return err
			}
			zone = z
		}

		inside := true
		distance := 0.0
		if zone != nil {
			distance = geo.Distance(point, zone.Center())
			if !worker.BypassZoneCheck {
				inside = geo.IsInside(point, zone.Center(), zone.RadiusMeters, 0)
			}
		}

		// First pulse defaults to previously-inside so a brand-new worker
		// cannot fire a spurious exit event.
		firstPulse := worker.LastSeenAt == nil
		previousInside := true
		if !firstPulse {
			previousInside = worker.IsInsideZone
		}

		if err := s.repo.UpdateWorkerPresenceTx(ctx, tx, worker.ID, point.Lat, point.Lng, now, inside); err != nil {
			return err
		}

		open, err := s.repo.FindOpenSessionTx(ctx, tx, worker.ID)
		if err != nil && !errors.Is(err, repos.ErrNotFound) {
			return err
		}

		transitioned := false
		switch {
		case inside && open == nil:
			sess := &models.AttendanceSession{
				ID:         uuid.NewString(),
				WorkerID:   worker.ID,
				CheckIn:    now,
				Status:     models.SessionPresent,
				OriginNote: models.OriginAutoGeofence,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.repo.CreateSessionTx(ctx, tx, sess); err != nil {
				return err
			}
			open = sess
			transitioned = true
			pending = append(pending, auditJob(models.GeofenceEvent{
				Event: models.EventSessionOpened, WorkerID: worker.ID, ZoneID: zoneID(zone),
				SessionID: sess.ID, Lat: point.Lat, Lng: point.Lng, At: now,
			}))
		case !inside && open != nil:
			if err := s.repo.CloseSessionTx(ctx, tx, open.ID, now, models.SessionOffSite); err != nil {
				return err
			}
			transitioned = true
			pending = append(pending, auditJob(models.GeofenceEvent{
				Event: models.EventSessionClosed, WorkerID: worker.ID, ZoneID: zoneID(zone),
				SessionID: open.ID, Lat: point.Lat, Lng: point.Lng, At: now,
			}))
			out := now
			open.CheckOut = &out
		}
		// Already-open-and-still-inside and already-closed-and-still-outside
		// are no-ops, which is what makes pulse replay idempotent.

		if zone != nil && !worker.BypassZoneCheck {
			guarded = true
			guardDistance = distance
			guardRadius = zone.RadiusMeters
			guardZoneID = zone.ID

			// Crossing events are suppressed on the very first pulse: there
			// is no trusted prior reading to transition from.
			if !firstPulse {
				accurate := in.Accuracy <= s.accuracyLimit
				if previousInside && !inside && accurate {
					ev := models.GeofenceEvent{
						Event: models.EventGeofenceExit, WorkerID: worker.ID, ZoneID: zone.ID,
						SessionID: sessionID(open), Lat: point.Lat, Lng: point.Lng,
						BreachDistance: distance, Accuracy: in.Accuracy, At: now,
					}
					pending = append(pending, auditJob(ev), notifyJob(ev))
				}
				if !previousInside && inside {
					ev := models.GeofenceEvent{
						Event: models.EventGeofenceReentry, WorkerID: worker.ID, ZoneID: zone.ID,
						SessionID: sessionID(open), Lat: point.Lat, Lng: point.Lng,
						BreachDistance: distance, Accuracy: in.Accuracy, At: now,
					}
					pending = append(pending, auditJob(ev), notifyJob(ev))
				}
			}
		}

		pending = append(pending, analyticsJob(models.LocationSample{
			WorkerID: worker.ID, Lat: point.Lat, Lng: point.Lng,
			Accuracy: in.Accuracy, InsideZone: inside, RecordedAt: now,
		}))

		summary, err := s.daySummaryTx(ctx, tx, worker.ID, now)
		if err != nil {
			return err
		}

		result = PulseResult{
			IsInside:           inside,
			Transitioned:       transitioned,
			StrictStatus:       presence.ResolveStrictStatus(inside, now, now, s.staleAfter),
			TotalOnSiteSeconds: summary.OnSiteSeconds,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The lockout streak advances only once the unit of work has committed:
	// a pulse retried after a storage failure counts one reading, not two.
	if guarded {
		dec := s.guard.Observe(workerID, guardDistance, guardRadius, in.Accuracy)
		result.Locked = dec.Locked
		if dec.Engaged {
			pending = append(pending, auditJob(models.GeofenceEvent{
				Event: models.EventLockoutEngaged, WorkerID: workerID, ZoneID: guardZoneID,
				Lat: point.Lat, Lng: point.Lng, BreachDistance: guardDistance, Accuracy: in.Accuracy, At: now,
			}))
		}
	}

	for _, j := range pending {
		s.queue.Enqueue(j.kind, j.payload)
	}
	return &result, nil
}

type ClockAction string

const (
	ActionClockIn  ClockAction = "CLOCK_IN"
	ActionClockOut ClockAction = "CLOCK_OUT"
)

// Clock handles the manual override path. Unlike pulse-driven transitions
// it does not silently no-op: a human explicitly asked for a state change,
// so a clock-in with an open shift (or a clock-out without one) is a
// conflict.
func (s *AttendanceService) Clock(ctx context.Context, workerID string, action ClockAction) (*models.AttendanceSession, error) {
	switch action {
	case ActionClockIn, ActionClockOut:
	default:
		return nil, &ValidationError{Field: "action", Reason: "must be CLOCK_IN or CLOCK_OUT"}
	}

	unlock := s.locks.lock(workerID)
	defer unlock()

	now := s.clock.Now().UTC()
	var (
		result *models.AttendanceSession
		event  string
	)
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		worker, err := s.repo.GetWorkerTx(ctx, tx, workerID)
		if err != nil {
			return err
		}

		open, err := s.repo.FindOpenSessionTx(ctx, tx, worker.ID)
		if err != nil && !errors.Is(err, repos.ErrNotFound) {
			return err
		}

		if action == ActionClockIn {
			if open != nil {
				return fmt.Errorf("%w: a shift is already open", ErrConflict)
			}
			sess := &models.AttendanceSession{
				ID:         uuid.NewString(),
				WorkerID:   worker.ID,
				CheckIn:    now,
				Status:     models.SessionPresent,
				OriginNote: models.OriginManual,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.repo.CreateSessionTx(ctx, tx, sess); err != nil {
				return err
			}
			result, event = sess, models.EventManualClockIn
			return nil
		}

		if open == nil {
			return fmt.Errorf("%w: no open shift to clock out of", ErrConflict)
		}
		if err := s.repo.CloseSessionTx(ctx, tx, open.ID, now, models.SessionOffSite); err != nil {
			return err
		}
		out := now
		open.CheckOut = &out
		open.Status = models.SessionOffSite
		open.UpdatedAt = now
		result, event = open, models.EventManualClockOut
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.guard.Reset(workerID)
	s.queue.Enqueue(KindAudit, models.GeofenceEvent{
		Event: event, WorkerID: workerID, SessionID: result.ID, At: now,
	})
	return result, nil
}

type StatusResult struct {
	Status                presence.StrictStatus `json:"status"`
	HasActiveShift        bool                  `json:"has_active_shift"`
	ClockInTime           *time.Time            `json:"clock_in_time"`
	CurrentSessionSeconds int64                 `json:"current_session_seconds"`
	TotalOnSiteSeconds    int64                 `json:"total_on_site_seconds"`
	TotalOffSiteSeconds   int64                 `json:"total_off_site_seconds"`
	IsInsideZone          bool                  `json:"is_inside_zone"`
	LastSeen              *time.Time            `json:"last_seen"`
	Locked                bool                  `json:"locked"`
}

func (s *AttendanceService) Status(ctx context.Context, workerID string) (*StatusResult, error) {
	now := s.clock.Now().UTC()

	worker, err := s.repo.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}

	var lastSeen time.Time
	if worker.LastSeenAt != nil {
		lastSeen = *worker.LastSeenAt
	}

	open, err := s.repo.FindOpenSession(ctx, workerID)
	if err != nil && !errors.Is(err, repos.ErrNotFound) {
		return nil, err
	}

	from, to := s.dayBounds(now)
	sessions, err := s.repo.ListSessionsBetween(ctx, workerID, from, to)
	if err != nil {
		return nil, err
	}
	summary := s.foldSessions(sessions, worker.LastSeenAt, now)

	res := &StatusResult{
		Status:              presence.ResolveStrictStatus(worker.IsInsideZone, lastSeen, now, s.staleAfter),
		TotalOnSiteSeconds:  summary.OnSiteSeconds,
		TotalOffSiteSeconds: summary.OffSiteSeconds,
		IsInsideZone:        worker.IsInsideZone,
		LastSeen:            worker.LastSeenAt,
		Locked:              s.guard.Locked(workerID),
	}
	if open != nil {
		res.HasActiveShift = true
		in := open.CheckIn
		res.ClockInTime = &in
		res.CurrentSessionSeconds = s.sessionSeconds(*open, worker.LastSeenAt, now)
	}
	return res, nil
}

func (s *AttendanceService) AuditTrail(ctx context.Context, workerID string, limit int) ([]models.AuditEntry, error) {
	if _, err := s.repo.GetWorker(ctx, workerID); err != nil {
		return nil, err
	}
	return s.repo.ListAuditEntries(ctx, workerID, limit)
}

type DaySummary struct {
	OnSiteSeconds  int64
	OffSiteSeconds int64
}

func (s *AttendanceService) daySummaryTx(ctx context.Context, tx *sql.Tx, workerID string, now time.Time) (DaySummary, error) {
	from, to := s.dayBounds(now)
	sessions, err := s.repo.ListSessionsBetweenTx(ctx, tx, workerID, from, to)
	if err != nil {
		return DaySummary{}, err
	}
	// Inside the ingestion transaction the heartbeat is the pulse being
	// processed, i.e. now.
	return s.foldSessions(sessions, &now, now), nil
}

// foldSessions accumulates today's on-site seconds, bounding every open
// session through presence.OpenSessionEnd. Off-site time is the remainder
// of the span since the first check-in.
func (s *AttendanceService) foldSessions(sessions []models.AttendanceSession, lastSeen *time.Time, now time.Time) DaySummary {
	var sum DaySummary
	var firstIn *time.Time
	for i := range sessions {
		sess := sessions[i]
		if firstIn == nil || sess.CheckIn.Before(*firstIn) {
			in := sess.CheckIn
			firstIn = &in
		}
		sum.OnSiteSeconds += s.sessionSeconds(sess, lastSeen, now)
	}
	if firstIn != nil {
		span := int64(now.Sub(*firstIn).Seconds())
		if off := span - sum.OnSiteSeconds; off > 0 {
			sum.OffSiteSeconds = off
		}
	}
	return sum
}

func (s *AttendanceService) sessionSeconds(sess models.AttendanceSession, lastSeen *time.Time, now time.Time) int64 {
	end := now
	if sess.CheckOut != nil {
		end = *sess.CheckOut
	} else {
		// The freshness boundary never predates the check-in itself, so a
		// manual shift with no pulses yet accrues nothing rather than
		// going negative.
		heartbeat := sess.CheckIn
		if lastSeen != nil && lastSeen.After(heartbeat) {
			heartbeat = *lastSeen
		}
		end = presence.OpenSessionEnd(heartbeat, now, s.staleAfter)
	}
	d := end.Sub(sess.CheckIn)
	if d <= 0 {
		return 0
	}
	return int64(d.Seconds())
}

func (s *AttendanceService) dayBounds(now time.Time) (time.Time, time.Time) {
	local := now.In(s.dayLoc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.dayLoc)
	return start.UTC(), start.Add(24 * time.Hour).UTC()
}

func zoneID(z *models.Zone) string {
	if z == nil {
		return ""
	}
	return z.ID
}

func sessionID(s *models.AttendanceSession) string {
	if s == nil {
		return ""
	}
	return s.ID
}
