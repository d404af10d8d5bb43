package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fieldpulse/internal/models"
)

var ErrNotFound = errors.New("not found")

type AttendanceRepo struct {
	db *sql.DB
}

func NewAttendanceRepo(db *sql.DB) *AttendanceRepo {
	return &AttendanceRepo{db: db}
}

func (r *AttendanceRepo) DB() *sql.DB {
	return r.db
}

// WithTx runs fn inside one transaction; fn returning an error rolls the
// whole unit of work back.
func (r *AttendanceRepo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *AttendanceRepo) GetWorkerTx(ctx context.Context, tx *sql.Tx, id string) (*models.Worker, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, name, zone_id, bypass_zone_check, last_known_lat, last_known_lng,
		       last_seen_at, is_inside_zone, created_at, updated_at
		FROM workers WHERE id = ?
	`, id)
	return scanWorker(row)
}

func (r *AttendanceRepo) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, zone_id, bypass_zone_check, last_known_lat, last_known_lng,
		       last_seen_at, is_inside_zone, created_at, updated_at
		FROM workers WHERE id = ?
	`, id)
	return scanWorker(row)
}

func (r *AttendanceRepo) GetZoneTx(ctx context.Context, tx *sql.Tx, id string) (*models.Zone, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, name, center_lat, center_lng, radius_meters FROM zones WHERE id = ?
	`, id)
	return scanZone(row)
}

func (r *AttendanceRepo) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, center_lat, center_lng, radius_meters FROM zones WHERE id = ?
	`, id)
	return scanZone(row)
}

func (r *AttendanceRepo) UpdateWorkerPresenceTx(ctx context.Context, tx *sql.Tx, id string, lat, lng float64, seenAt time.Time, inside bool) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE workers
		SET last_known_lat = ?, last_known_lng = ?, last_seen_at = ?, is_inside_zone = ?, updated_at = ?
		WHERE id = ?
	`, lat, lng, seenAt.UTC(), inside, seenAt.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r *AttendanceRepo) FindOpenSessionTx(ctx context.Context, tx *sql.Tx, workerID string) (*models.AttendanceSession, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, worker_id, check_in, check_out, status, origin_note, created_at, updated_at
		FROM attendance_sessions WHERE worker_id = ? AND check_out IS NULL
	`, workerID)
	return scanSession(row)
}

func (r *AttendanceRepo) FindOpenSession(ctx context.Context, workerID string) (*models.AttendanceSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, worker_id, check_in, check_out, status, origin_note, created_at, updated_at
		FROM attendance_sessions WHERE worker_id = ? AND check_out IS NULL
	`, workerID)
	return scanSession(row)
}

func (r *AttendanceRepo) CreateSessionTx(ctx context.Context, tx *sql.Tx, s *models.AttendanceSession) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, worker_id, check_in, check_out, status, origin_note, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?, ?, ?)
	`, s.ID, s.WorkerID, s.CheckIn.UTC(), s.Status, s.OriginNote, s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return err
}

func (r *AttendanceRepo) CloseSessionTx(ctx context.Context, tx *sql.Tx, id string, checkOut time.Time, status models.SessionStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET check_out = ?, status = ?, updated_at = ?
		WHERE id = ? AND check_out IS NULL
	`, checkOut.UTC(), status, checkOut.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ListSessionsBetweenTx returns the worker's sessions whose check-in falls in
// [from, to), oldest first.
func (r *AttendanceRepo) ListSessionsBetweenTx(ctx context.Context, tx *sql.Tx, workerID string, from, to time.Time) ([]models.AttendanceSession, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, worker_id, check_in, check_out, status, origin_note, created_at, updated_at
		FROM attendance_sessions
		WHERE worker_id = ? AND check_in >= ? AND check_in < ?
		ORDER BY check_in ASC
	`, workerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *AttendanceRepo) ListSessionsBetween(ctx context.Context, workerID string, from, to time.Time) ([]models.AttendanceSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, worker_id, check_in, check_out, status, origin_note, created_at, updated_at
		FROM attendance_sessions
		WHERE worker_id = ? AND check_in >= ? AND check_in < ?
		ORDER BY check_in ASC
	`, workerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *AttendanceRepo) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (worker_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?)
	`, e.WorkerID, e.Kind, e.Detail, e.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		e.ID = id
	}
	return nil
}

// ListAuditEntries caps limit at maxAuditPageSize; the value arrives from an
// untrusted query parameter and sizes an allocation.
const maxAuditPageSize = 500

func (r *AttendanceRepo) ListAuditEntries(ctx context.Context, workerID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, worker_id, kind, detail, created_at
		FROM audit_log WHERE worker_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, workerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AttendanceRepo) InsertLocationSample(ctx context.Context, s *models.LocationSample) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO location_history (worker_id, lat, lng, accuracy, inside_zone, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.WorkerID, s.Lat, s.Lng, s.Accuracy, s.InsideZone, s.RecordedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		s.ID = id
	}
	return nil
}

func (r *AttendanceRepo) CreateZone(ctx context.Context, z *models.Zone) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO zones (id, name, center_lat, center_lng, radius_meters)
		VALUES (?, ?, ?, ?, ?)
	`, z.ID, z.Name, z.CenterLat, z.CenterLng, z.RadiusMeters)
	return err
}

func (r *AttendanceRepo) CreateWorker(ctx context.Context, w *models.Worker) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}
	var seen any
	if w.LastSeenAt != nil {
		seen = w.LastSeenAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workers (id, name, zone_id, bypass_zone_check, last_known_lat, last_known_lng,
		                     last_seen_at, is_inside_zone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, w.ZoneID, w.BypassZoneCheck, w.LastKnownLat, w.LastKnownLng,
		seen, w.IsInsideZone, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

func scanWorker(row interface{ Scan(dest ...any) error }) (*models.Worker, error) {
	var w models.Worker
	var zoneID sql.NullString
	var seenAt sql.NullTime
	err := row.Scan(&w.ID, &w.Name, &zoneID, &w.BypassZoneCheck, &w.LastKnownLat, &w.LastKnownLng,
		&seenAt, &w.IsInsideZone, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if zoneID.Valid {
		w.ZoneID = &zoneID.String
	}
	if seenAt.Valid {
		t := seenAt.Time
		w.LastSeenAt = &t
	}
	return &w, nil
}

func scanZone(row interface{ Scan(dest ...any) error }) (*models.Zone, error) {
	var z models.Zone
	err := row.Scan(&z.ID, &z.Name, &z.CenterLat, &z.CenterLng, &z.RadiusMeters)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &z, nil
}

func scanSession(row interface{ Scan(dest ...any) error }) (*models.AttendanceSession, error) {
	var s models.AttendanceSession
	var out sql.NullTime
	err := row.Scan(&s.ID, &s.WorkerID, &s.CheckIn, &out, &s.Status, &s.OriginNote, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if out.Valid {
		t := out.Time
		s.CheckOut = &t
	}
	return &s, nil
}

func collectSessions(rows *sql.Rows) ([]models.AttendanceSession, error) {
	defer rows.Close()
	var sessions []models.AttendanceSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
