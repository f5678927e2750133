// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Attendance persistence with automatic schema creation and constraint-mapped errors

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clinova/attendance/internal/worktime"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The modernc driver returns SQLITE_BUSY when pooled connections write
	// concurrently; one connection serializes writers so constraint
	// violations surface instead of lock errors.
	db.SetMaxOpenConns(1)

	// WAL keeps concurrent check-in reads cheap while writes serialize.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS work_locations (
			id                                TEXT PRIMARY KEY,
			name                              TEXT NOT NULL,
			latitude                          REAL NOT NULL,
			longitude                         REAL NOT NULL,
			radius_meters                     REAL NOT NULL CHECK (radius_meters > 0),
			location_type                     TEXT NOT NULL DEFAULT 'clinic',
			strict_geofence                   INTEGER NOT NULL DEFAULT 0,
			require_photo                     INTEGER NOT NULL DEFAULT 0,
			allow_unscheduled                 INTEGER NOT NULL DEFAULT 0,
			late_tolerance_minutes            INTEGER NOT NULL DEFAULT 0 CHECK (late_tolerance_minutes >= 0),
			early_departure_tolerance_minutes INTEGER NOT NULL DEFAULT 0 CHECK (early_departure_tolerance_minutes >= 0),
			checkin_before_shift_minutes      INTEGER NOT NULL DEFAULT 0 CHECK (checkin_before_shift_minutes >= 0),
			checkout_after_shift_minutes      INTEGER NOT NULL DEFAULT 0 CHECK (checkout_after_shift_minutes >= 0),
			gps_accuracy_required_meters      REAL NOT NULL DEFAULT 0,
			created_at                        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS staff_assignments (
			user_id          TEXT PRIMARY KEY,
			work_location_id TEXT NOT NULL,
			shift_start      TEXT NOT NULL,
			shift_end        TEXT NOT NULL,
			active           INTEGER NOT NULL DEFAULT 1,
			updated_at       TEXT NOT NULL,
			FOREIGN KEY (work_location_id) REFERENCES work_locations(id)
		);

		CREATE TABLE IF NOT EXISTS attendance_sessions (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			work_location_id    TEXT NOT NULL,
			date                TEXT NOT NULL,
			status              TEXT NOT NULL,
			check_in_time       TEXT,
			check_in_lat        REAL,
			check_in_lng        REAL,
			check_in_accuracy   REAL,
			check_out_time      TEXT,
			check_out_lat       REAL,
			check_out_lng       REAL,
			check_out_accuracy  REAL,
			is_late             INTEGER NOT NULL DEFAULT 0,
			device_fingerprint  TEXT NOT NULL DEFAULT '',
			distance_check_in_m REAL,
			distance_check_out_m REAL,
			duration_minutes    INTEGER,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			CHECK (status IN ('incomplete', 'checked_in', 'checked_out')),
			FOREIGN KEY (work_location_id) REFERENCES work_locations(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_date
			ON attendance_sessions(user_id, date);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_status
			ON attendance_sessions(user_id, status);

		CREATE TABLE IF NOT EXISTS location_validations (
			id                  TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			session_id          TEXT,
			phase               TEXT NOT NULL,
			latitude            REAL NOT NULL,
			longitude           REAL NOT NULL,
			accuracy_meters     REAL NOT NULL,
			distance_meters     REAL NOT NULL,
			fingerprint         TEXT NOT NULL DEFAULT '',
			risk_level          TEXT NOT NULL,
			risk_score          INTEGER NOT NULL,
			is_spoofed          INTEGER NOT NULL DEFAULT 0,
			is_blocked          INTEGER NOT NULL DEFAULT 0,
			action_taken        TEXT NOT NULL,
			detection_json      TEXT,
			indicators_json     TEXT,
			created_at          TEXT NOT NULL,

			CHECK (phase IN ('check_in', 'check_out')),
			CHECK (risk_level IN ('low', 'medium', 'high', 'critical')),
			CHECK (action_taken IN ('none', 'warning', 'flagged', 'blocked')),
			CHECK (risk_score BETWEEN 0 AND 100)
		);

		CREATE INDEX IF NOT EXISTS idx_validations_user_created
			ON location_validations(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS accrual_events (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			work_location_id     TEXT NOT NULL,
			date                 TEXT NOT NULL,
			duration_minutes     INTEGER NOT NULL,
			is_late              INTEGER NOT NULL DEFAULT 0,
			distance_check_in_m  REAL NOT NULL DEFAULT 0,
			distance_check_out_m REAL NOT NULL DEFAULT 0,
			delivered_at         TEXT,
			created_at           TEXT NOT NULL,

			UNIQUE(user_id, date)
		);

		CREATE INDEX IF NOT EXISTS idx_accrual_undelivered
			ON accrual_events(created_at) WHERE delivered_at IS NULL;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint
// violation on the given column. FOREIGN KEY and CHECK failures carry a
// different message and must not be mistaken for duplicates.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") &&
		strings.Contains(errStr, column)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- work locations ---

func (s *SQLiteStore) CreateWorkLocation(ctx context.Context, loc *WorkLocation) error {
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO work_locations (
			id, name, latitude, longitude, radius_meters, location_type,
			strict_geofence, require_photo, allow_unscheduled,
			late_tolerance_minutes, early_departure_tolerance_minutes,
			checkin_before_shift_minutes, checkout_after_shift_minutes,
			gps_accuracy_required_meters, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.RadiusMeters, loc.LocationType,
		loc.StrictGeofence, loc.RequirePhoto, loc.AllowUnscheduled,
		loc.LateToleranceMinutes, loc.EarlyDepartureToleranceMinutes,
		loc.CheckInBeforeShiftMinutes, loc.CheckOutAfterShiftMinutes,
		loc.GPSAccuracyRequiredMeters, loc.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting work location: %w", err)
	}

	s.logger.Debug("created work location", "id", loc.ID, "name", loc.Name)
	return nil
}

const workLocationColumns = `
	id, name, latitude, longitude, radius_meters, location_type,
	strict_geofence, require_photo, allow_unscheduled,
	late_tolerance_minutes, early_departure_tolerance_minutes,
	checkin_before_shift_minutes, checkout_after_shift_minutes,
	gps_accuracy_required_meters, created_at
`

func scanWorkLocation(row interface{ Scan(...any) error }) (*WorkLocation, error) {
	var loc WorkLocation
	var createdAt string

	err := row.Scan(
		&loc.ID, &loc.Name, &loc.Latitude, &loc.Longitude, &loc.RadiusMeters, &loc.LocationType,
		&loc.StrictGeofence, &loc.RequirePhoto, &loc.AllowUnscheduled,
		&loc.LateToleranceMinutes, &loc.EarlyDepartureToleranceMinutes,
		&loc.CheckInBeforeShiftMinutes, &loc.CheckOutAfterShiftMinutes,
		&loc.GPSAccuracyRequiredMeters, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	loc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &loc, nil
}

func (s *SQLiteStore) GetWorkLocation(ctx context.Context, id string) (*WorkLocation, error) {
	query := `SELECT ` + workLocationColumns + ` FROM work_locations WHERE id = ?`

	loc, err := scanWorkLocation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying work location: %w", err)
	}
	return loc, nil
}

func (s *SQLiteStore) ListWorkLocations(ctx context.Context) ([]*WorkLocation, error) {
	query := `SELECT ` + workLocationColumns + ` FROM work_locations ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing work locations: %w", err)
	}
	defer rows.Close()

	var locs []*WorkLocation
	for rows.Next() {
		loc, err := scanWorkLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work location: %w", err)
		}
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// --- staff assignments ---

func (s *SQLiteStore) UpsertAssignment(ctx context.Context, a *StaffAssignment) error {
	a.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO staff_assignments (user_id, work_location_id, shift_start, shift_end, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			work_location_id = excluded.work_location_id,
			shift_start = excluded.shift_start,
			shift_end = excluded.shift_end,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		a.UserID, a.WorkLocationID, a.ShiftStart, a.ShiftEnd, a.Active,
		a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, userID string) (*StaffAssignment, error) {
	query := `
		SELECT user_id, work_location_id, shift_start, shift_end, active, updated_at
		FROM staff_assignments
		WHERE user_id = ?
	`

	var a StaffAssignment
	var updatedAt string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&a.UserID, &a.WorkLocationID, &a.ShiftStart, &a.ShiftEnd, &a.Active, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assignment: %w", err)
	}
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// --- sessions ---

const sessionColumns = `
	id, user_id, work_location_id, date, status,
	check_in_time, check_in_lat, check_in_lng, check_in_accuracy,
	check_out_time, check_out_lat, check_out_lng, check_out_accuracy,
	is_late, device_fingerprint, distance_check_in_m, distance_check_out_m,
	duration_minutes, created_at, updated_at
`

// CreateSession inserts a new session row. The unique index on (user_id,
// date) is the race guard: a concurrent duplicate insert surfaces as
// ErrDuplicateSession rather than a second row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *AttendanceSession) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	query := `
		INSERT INTO attendance_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.WorkLocationID, sess.Date, string(sess.Status),
		formatTimePtr(sess.CheckInTime), sess.CheckInLatitude, sess.CheckInLongitude, sess.CheckInAccuracyM,
		formatTimePtr(sess.CheckOutTime), sess.CheckOutLatitude, sess.CheckOutLongitude, sess.CheckOutAccuracyM,
		sess.IsLate, sess.DeviceFingerprint, sess.DistanceCheckInM, sess.DistanceCheckOutM,
		sess.DurationMinutes, sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err, "attendance_sessions.user_id") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "user", sess.UserID, "date", sess.Date)
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*AttendanceSession, error) {
	var sess AttendanceSession
	var status string
	var checkIn, checkOut sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.WorkLocationID, &sess.Date, &status,
		&checkIn, &sess.CheckInLatitude, &sess.CheckInLongitude, &sess.CheckInAccuracyM,
		&checkOut, &sess.CheckOutLatitude, &sess.CheckOutLongitude, &sess.CheckOutAccuracyM,
		&sess.IsLate, &sess.DeviceFingerprint, &sess.DistanceCheckInM, &sess.DistanceCheckOutM,
		&sess.DurationMinutes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Status = SessionStatus(status)
	if sess.CheckInTime, err = parseTimePtr(checkIn); err != nil {
		return nil, fmt.Errorf("parsing check-in time: %w", err)
	}
	if sess.CheckOutTime, err = parseTimePtr(checkOut); err != nil {
		return nil, fmt.Errorf("parsing check-out time: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &sess, nil
}

func (s *SQLiteStore) GetSessionByUserDate(ctx context.Context, userID, date string) (*AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE user_id = ? AND date = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, userID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) LatestCompletedSession(ctx context.Context, userID string) (*AttendanceSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM attendance_sessions
		WHERE user_id = ? AND status = 'checked_out'
		ORDER BY date DESC
		LIMIT 1
	`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest completed session: %w", err)
	}
	return sess, nil
}

// CompleteSession transitions a session to checked_out with a conditional
// update: it only succeeds while the row is still checked_in, so a second
// concurrent checkout fails with ErrNoOpenSession instead of double-writing.
func (s *SQLiteStore) CompleteSession(ctx context.Context, sess *AttendanceSession) error {
	sess.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE attendance_sessions
		SET status = 'checked_out',
			check_out_time = ?,
			check_out_lat = ?,
			check_out_lng = ?,
			check_out_accuracy = ?,
			distance_check_out_m = ?,
			duration_minutes = ?,
			updated_at = ?
		WHERE id = ? AND status = 'checked_in'
	`

	res, err := s.db.ExecContext(ctx, query,
		formatTimePtr(sess.CheckOutTime), sess.CheckOutLatitude, sess.CheckOutLongitude, sess.CheckOutAccuracyM,
		sess.DistanceCheckOutM, sess.DurationMinutes, sess.UpdatedAt.Format(time.RFC3339),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("completing session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking completed rows: %w", err)
	}
	if affected == 0 {
		return ErrNoOpenSession
	}

	sess.Status = StatusCheckedOut
	s.logger.Debug("completed session", "id", sess.ID, "user", sess.UserID)
	return nil
}

// --- validation audit trail ---

// AppendValidation writes one audit row. Rows are never updated or reused;
// the trail stays tamper-evident.
func (s *SQLiteStore) AppendValidation(ctx context.Context, v *LocationValidation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	detectionJSON, err := marshalNullable(v.DetectionResults)
	if err != nil {
		return fmt.Errorf("marshaling detection results: %w", err)
	}
	indicatorsJSON, err := marshalNullable(v.SpoofingIndicators)
	if err != nil {
		return fmt.Errorf("marshaling spoofing indicators: %w", err)
	}

	query := `
		INSERT INTO location_validations (
			id, user_id, session_id, phase, latitude, longitude, accuracy_meters,
			distance_meters, fingerprint, risk_level, risk_score, is_spoofed,
			is_blocked, action_taken, detection_json, indicators_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		v.ID, v.UserID, v.SessionID, v.Phase, v.Latitude, v.Longitude, v.AccuracyMeters,
		v.DistanceMeters, v.Fingerprint, v.RiskLevel, v.RiskScore, v.IsSpoofed,
		v.IsBlocked, v.ActionTaken, detectionJSON, indicatorsJSON,
		v.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting validation: %w", err)
	}
	return nil
}

func scanValidation(row interface{ Scan(...any) error }) (*LocationValidation, error) {
	var v LocationValidation
	var detectionJSON, indicatorsJSON sql.NullString
	var createdAt string

	err := row.Scan(
		&v.ID, &v.UserID, &v.SessionID, &v.Phase, &v.Latitude, &v.Longitude, &v.AccuracyMeters,
		&v.DistanceMeters, &v.Fingerprint, &v.RiskLevel, &v.RiskScore, &v.IsSpoofed,
		&v.IsBlocked, &v.ActionTaken, &detectionJSON, &indicatorsJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if detectionJSON.Valid && detectionJSON.String != "" {
		if err := json.Unmarshal([]byte(detectionJSON.String), &v.DetectionResults); err != nil {
			return nil, fmt.Errorf("unmarshaling detection results: %w", err)
		}
	}
	if indicatorsJSON.Valid && indicatorsJSON.String != "" {
		if err := json.Unmarshal([]byte(indicatorsJSON.String), &v.SpoofingIndicators); err != nil {
			return nil, fmt.Errorf("unmarshaling spoofing indicators: %w", err)
		}
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

const validationColumns = `
	id, user_id, session_id, phase, latitude, longitude, accuracy_meters,
	distance_meters, fingerprint, risk_level, risk_score, is_spoofed,
	is_blocked, action_taken, detection_json, indicators_json, created_at
`

func (s *SQLiteStore) ListValidationsByUser(ctx context.Context, userID string, limit int) ([]*LocationValidation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + validationColumns + `
		FROM location_validations
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing validations: %w", err)
	}
	defer rows.Close()

	var vals []*LocationValidation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning validation: %w", err)
		}
		vals = append(vals, v)
	}
	return vals, rows.Err()
}

func (s *SQLiteStore) LatestValidation(ctx context.Context, userID string) (*LocationValidation, error) {
	query := `
		SELECT ` + validationColumns + `
		FROM location_validations
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	v, err := scanValidation(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest validation: %w", err)
	}
	return v, nil
}

// --- accrual outbox ---

func (s *SQLiteStore) SaveAccrualEvent(ctx context.Context, e *AccrualEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accrual_events (
			id, user_id, work_location_id, date, duration_minutes, is_late,
			distance_check_in_m, distance_check_out_m, delivered_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.WorkLocationID, e.Date, e.DurationMinutes, e.IsLate,
		e.DistanceCheckInM, e.DistanceCheckOutM, formatTimePtr(e.DeliveredAt),
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err, "accrual_events.user_id") {
			// One completed session per user/date means one event; a
			// replay of the same checkout is not a second event.
			return nil
		}
		return fmt.Errorf("inserting accrual event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUndeliveredAccrualEvents(ctx context.Context, limit int) ([]*AccrualEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, work_location_id, date, duration_minutes, is_late,
			distance_check_in_m, distance_check_out_m, delivered_at, created_at
		FROM accrual_events
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing undelivered accrual events: %w", err)
	}
	defer rows.Close()

	var events []*AccrualEvent
	for rows.Next() {
		var e AccrualEvent
		var deliveredAt sql.NullString
		var createdAt string
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.WorkLocationID, &e.Date, &e.DurationMinutes, &e.IsLate,
			&e.DistanceCheckInM, &e.DistanceCheckOutM, &deliveredAt, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning accrual event: %w", err)
		}
		if e.DeliveredAt, err = parseTimePtr(deliveredAt); err != nil {
			return nil, fmt.Errorf("parsing delivered time: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) MarkAccrualDelivered(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accrual_events SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("marking accrual delivered: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// parseTimePtr normalizes a stored nullable timestamp. Rows this store
// writes are RFC3339, but imported legacy rows have carried other shapes;
// the ordered worktime strategies cover all of them. A value matching no
// strategy is a corrupt row and surfaces as an error, never a silent nil.
func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	inst, err := worktime.ParseInstant(ns.String, time.Now(), time.UTC)
	if err != nil {
		return nil, err
	}
	return &inst.Time, nil
}

func marshalNullable(v any) (*string, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []string:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}
