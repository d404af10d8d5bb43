package repos

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"fieldpulse/internal/models"
)

func setupTestRepo(t *testing.T) *AttendanceRepo {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	stmts := []string{
		`CREATE TABLE zones (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			center_lat REAL NOT NULL,
			center_lng REAL NOT NULL,
			radius_meters REAL NOT NULL DEFAULT 150
		);`,
		`CREATE TABLE workers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			zone_id TEXT REFERENCES zones(id),
			bypass_zone_check INTEGER NOT NULL DEFAULT 0,
			last_known_lat REAL NOT NULL DEFAULT 0,
			last_known_lng REAL NOT NULL DEFAULT 0,
			last_seen_at DATETIME,
			is_inside_zone INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE attendance_sessions (
			id TEXT PRIMARY KEY,
			worker_id TEXT NOT NULL REFERENCES workers(id),
			check_in DATETIME NOT NULL,
			check_out DATETIME,
			status TEXT NOT NULL DEFAULT 'PRESENT',
			origin_note TEXT NOT NULL DEFAULT 'MANUAL',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX idx_sessions_one_open
			ON attendance_sessions(worker_id) WHERE check_out IS NULL;`,
		`CREATE TABLE audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE location_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id TEXT NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			accuracy REAL NOT NULL DEFAULT 0,
			inside_zone INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL
		);`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return NewAttendanceRepo(db)
}

func newSession(workerID string, checkIn time.Time) *models.AttendanceSession {
	return &models.AttendanceSession{
		ID:         "sess-" + checkIn.Format("150405.000"),
		WorkerID:   workerID,
		CheckIn:    checkIn,
		Status:     models.SessionPresent,
		OriginNote: models.OriginAutoGeofence,
		CreatedAt:  checkIn,
		UpdatedAt:  checkIn,
	}
}

func TestOpenSessionInvariantEnforcedByIndex(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateWorker(ctx, &models.Worker{ID: "w1"}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	err := repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CreateSessionTx(ctx, tx, newSession("w1", now))
	})
	require.NoError(t, err)

	// A second open session for the same worker must be rejected by the
	// partial unique index.
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CreateSessionTx(ctx, tx, newSession("w1", now.Add(time.Minute)))
	})
	require.Error(t, err)

	// Closing the first allows a new one.
	open, err := repo.FindOpenSession(ctx, "w1")
	require.NoError(t, err)
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CloseSessionTx(ctx, tx, open.ID, now.Add(time.Hour), models.SessionOffSite)
	})
	require.NoError(t, err)
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CreateSessionTx(ctx, tx, newSession("w1", now.Add(2*time.Hour)))
	})
	require.NoError(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateWorker(ctx, &models.Worker{ID: "w1"}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := repo.CreateSessionTx(ctx, tx, newSession("w1", now)); err != nil {
			return err
		}
		if err := repo.UpdateWorkerPresenceTx(ctx, tx, "w1", 1, 2, now, true); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing from the failed unit of work is visible.
	_, err = repo.FindOpenSession(ctx, "w1")
	require.ErrorIs(t, err, ErrNotFound)
	w, err := repo.GetWorker(ctx, "w1")
	require.NoError(t, err)
	require.Nil(t, w.LastSeenAt)
	require.Zero(t, w.LastKnownLat)
}

func TestUpdateWorkerPresenceUnknownWorker(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.UpdateWorkerPresenceTx(ctx, tx, "ghost", 1, 2, time.Now(), true)
	})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetWorker(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCloseSessionIsIdempotentAtTheStore(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateWorker(ctx, &models.Worker{ID: "w1"}))

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	sess := newSession("w1", now)
	require.NoError(t, repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CreateSessionTx(ctx, tx, sess)
	}))

	require.NoError(t, repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CloseSessionTx(ctx, tx, sess.ID, now.Add(time.Hour), models.SessionOffSite)
	}))

	// Closing an already-closed session matches no rows.
	err := repo.WithTx(ctx, func(tx *sql.Tx) error {
		return repo.CloseSessionTx(ctx, tx, sess.ID, now.Add(2*time.Hour), models.SessionOffSite)
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsBetween(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateWorker(ctx, &models.Worker{ID: "w1"}))

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{day.Add(9 * time.Hour), day.Add(13 * time.Hour), day.Add(30 * time.Hour)} {
		s := newSession("w1", at)
		s.ID = s.ID + "-" + string(rune('a'+i))
		require.NoError(t, repo.WithTx(ctx, func(tx *sql.Tx) error {
			if err := repo.CreateSessionTx(ctx, tx, s); err != nil {
				return err
			}
			return repo.CloseSessionTx(ctx, tx, s.ID, at.Add(time.Hour), models.SessionOffSite)
		}))
	}

	sessions, err := repo.ListSessionsBetween(ctx, "w1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.True(t, sessions[0].CheckIn.Before(sessions[1].CheckIn))
}

func TestListAuditEntriesClampsLimit(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.InsertAuditEntry(ctx, &models.AuditEntry{
			WorkerID: "w1", Kind: "SESSION_OPENED", Detail: "{}", CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	// The limit comes straight from a query parameter and sizes an
	// allocation; absurd values must not panic or allocate absurdly.
	entries, err := repo.ListAuditEntries(ctx, "w1", math.MaxInt64)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries, err = repo.ListAuditEntries(ctx, "w1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
