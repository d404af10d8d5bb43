package models

import (
	"time"

	"fieldpulse/internal/geo"
)

type SessionStatus string

const (
	SessionPresent SessionStatus = "PRESENT"
	SessionOffSite SessionStatus = "OFF_SITE"
)

type OriginNote string

const (
	OriginManual       OriginNote = "MANUAL"
	OriginAutoGeofence OriginNote = "AUTO_GEOFENCE"
)

// Worker is the subset of the user record the attendance core reads and
// writes. Presence fields are mutated only by pulse ingestion.
type Worker struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	ZoneID          *string    `json:"zone_id"`
	BypassZoneCheck bool       `json:"bypass_zone_check"`
	LastKnownLat    float64    `json:"last_known_lat"`
	LastKnownLng    float64    `json:"last_known_lng"`
	LastSeenAt      *time.Time `json:"last_seen_at"`
	IsInsideZone    bool       `json:"is_inside_zone"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (w *Worker) LastPoint() geo.LatLng {
	return geo.LatLng{Lat: w.LastKnownLat, Lng: w.LastKnownLng}
}

// Zone is a circular geofence. Immutable from the core's perspective.
type Zone struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CenterLat    float64 `json:"center_lat"`
	CenterLng    float64 `json:"center_lng"`
	RadiusMeters float64 `json:"radius_meters"`
}

func (z Zone) Center() geo.LatLng {
	return geo.LatLng{Lat: z.CenterLat, Lng: z.CenterLng}
}

// AttendanceSession is one clock-in/out span. At most one session per worker
// may have a nil CheckOut.
type AttendanceSession struct {
	ID         string        `json:"id"`
	WorkerID   string        `json:"worker_id"`
	CheckIn    time.Time     `json:"check_in"`
	CheckOut   *time.Time    `json:"check_out"`
	Status     SessionStatus `json:"status"`
	OriginNote OriginNote    `json:"origin_note"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

func (s *AttendanceSession) Open() bool {
	return s.CheckOut == nil
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	WorkerID  string    `json:"worker_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type LocationSample struct {
	ID         int64     `json:"id"`
	WorkerID   string    `json:"worker_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	InsideZone bool      `json:"inside_zone"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Geofence event names carried in side-effect payloads.
const (
	EventGeofenceExit    = "GEOFENCE_EXIT"
	EventGeofenceReentry = "GEOFENCE_REENTRY"
	EventLockoutEngaged  = "LOCKOUT_ENGAGED"
	EventSessionOpened   = "SESSION_OPENED"
	EventSessionClosed   = "SESSION_CLOSED"
	EventManualClockIn   = "MANUAL_CLOCK_IN"
	EventManualClockOut  = "MANUAL_CLOCK_OUT"
)

// GeofenceEvent carries enough context for audit and notification sinks
// without re-querying state later.
type GeofenceEvent struct {
	Event          string    `json:"event"`
	WorkerID       string    `json:"worker_id"`
	ZoneID         string    `json:"zone_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	BreachDistance float64   `json:"breach_distance,omitempty"`
	Accuracy       float64   `json:"accuracy,omitempty"`
	At             time.Time `json:"at"`
}
