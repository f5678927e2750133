// ABOUTME: Store interface and data types for attendance persistence
// ABOUTME: Work locations, staff assignments, sessions, validation audit rows, accrual outbox

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a session already exists for the
// user and date. The SQLite unique index is the authoritative guard; this
// error is the mapped constraint violation.
var ErrDuplicateSession = errors.New("session already exists for user and date")

// ErrNoOpenSession is returned when a conditional checkout update matches
// no open session row.
var ErrNoOpenSession = errors.New("no open session")

// SessionStatus is the per-day session lifecycle state.
type SessionStatus string

const (
	StatusIncomplete SessionStatus = "incomplete"
	StatusCheckedIn  SessionStatus = "checked_in"
	StatusCheckedOut SessionStatus = "checked_out"
)

// WorkLocation is a geofenced work site with its tolerance policy.
// Administration owns these rows; the engine only reads them.
type WorkLocation struct {
	ID             string
	Name           string
	Latitude       float64
	Longitude      float64
	RadiusMeters   float64
	LocationType   string // "clinic", "branch", "field"
	StrictGeofence bool
	RequirePhoto   bool
	// AllowUnscheduled turns the pre/post-shift window from a hard
	// boundary into an advisory one for this site.
	AllowUnscheduled bool

	LateToleranceMinutes           int
	EarlyDepartureToleranceMinutes int
	CheckInBeforeShiftMinutes      int
	CheckOutAfterShiftMinutes      int
	GPSAccuracyRequiredMeters      float64

	CreatedAt time.Time
}

// StaffAssignment maps a staff member to their work site and daily shift.
// Shift times are wall-clock "HH:MM" strings since the schedule repeats.
type StaffAssignment struct {
	UserID         string
	WorkLocationID string
	ShiftStart     string
	ShiftEnd       string
	Active         bool
	UpdatedAt      time.Time
}

// AttendanceSession is the single per-user, per-day check-in/check-out
// record. Date is "YYYY-MM-DD" in the deployment's time zone. Once checked
// out the row is immutable history.
type AttendanceSession struct {
	ID             string
	UserID         string
	WorkLocationID string
	Date           string
	Status         SessionStatus

	CheckInTime       *time.Time
	CheckInLatitude   *float64
	CheckInLongitude  *float64
	CheckInAccuracyM  *float64
	CheckOutTime      *time.Time
	CheckOutLatitude  *float64
	CheckOutLongitude *float64
	CheckOutAccuracyM *float64

	IsLate            bool
	DeviceFingerprint string
	DistanceCheckInM  *float64
	DistanceCheckOutM *float64
	DurationMinutes   *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validation phases say which attempt a validation row screened.
const (
	PhaseCheckIn  = "check_in"
	PhaseCheckOut = "check_out"
)

// LocationValidation is the append-only audit record for one screened
// position sample, written for every attempt including rejected ones.
type LocationValidation struct {
	ID        string
	UserID    string
	SessionID *string // nil when the attempt never produced a session
	Phase     string

	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	DistanceMeters float64
	Fingerprint    string

	RiskLevel          string
	RiskScore          int
	IsSpoofed          bool
	IsBlocked          bool
	ActionTaken        string
	DetectionResults   map[string]any
	SpoofingIndicators []string

	CreatedAt time.Time
}

// AccrualEvent is the outbox row for the payroll collaborator. A row is
// written when checkout completes and marked delivered after the notifier
// succeeds, giving at-least-once delivery.
type AccrualEvent struct {
	ID                string
	UserID            string
	WorkLocationID    string
	Date              string
	DurationMinutes   int
	IsLate            bool
	DistanceCheckInM  float64
	DistanceCheckOutM float64
	DeliveredAt       *time.Time
	CreatedAt         time.Time
}

// Store defines the persistence operations the engine needs.
type Store interface {
	// Work locations
	CreateWorkLocation(ctx context.Context, loc *WorkLocation) error
	GetWorkLocation(ctx context.Context, id string) (*WorkLocation, error)
	ListWorkLocations(ctx context.Context) ([]*WorkLocation, error)

	// Staff assignments
	UpsertAssignment(ctx context.Context, a *StaffAssignment) error
	GetAssignment(ctx context.Context, userID string) (*StaffAssignment, error)

	// Sessions
	CreateSession(ctx context.Context, s *AttendanceSession) error
	GetSessionByUserDate(ctx context.Context, userID, date string) (*AttendanceSession, error)
	LatestCompletedSession(ctx context.Context, userID string) (*AttendanceSession, error)
	CompleteSession(ctx context.Context, s *AttendanceSession) error

	// Validation audit trail (append-only)
	AppendValidation(ctx context.Context, v *LocationValidation) error
	ListValidationsByUser(ctx context.Context, userID string, limit int) ([]*LocationValidation, error)
	LatestValidation(ctx context.Context, userID string) (*LocationValidation, error)

	// Accrual outbox
	SaveAccrualEvent(ctx context.Context, e *AccrualEvent) error
	ListUndeliveredAccrualEvents(ctx context.Context, limit int) ([]*AccrualEvent, error)
	MarkAccrualDelivered(ctx context.Context, id string, at time.Time) error

	Close() error
}
