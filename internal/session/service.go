// ABOUTME: Per-user, per-day attendance session state machine
// ABOUTME: Screens position samples, enforces windows and minimum duration, emits accrual events

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinova/attendance/internal/accrual"
	"github.com/clinova/attendance/internal/geofence"
	"github.com/clinova/attendance/internal/risk"
	"github.com/clinova/attendance/internal/shift"
	"github.com/clinova/attendance/internal/store"
	"github.com/clinova/attendance/internal/worktime"
)

// Config holds the state machine policy.
type Config struct {
	// MinimumSessionMinutes must elapse between check-in and checkout.
	MinimumSessionMinutes int
	// Location is the deployment time zone; it defines the calendar day
	// a session belongs to and anchors wall-clock shift times.
	Location *time.Location
	// Clock supplies "now"; tests override it. Defaults to time.Now.
	Clock func() time.Time
}

// DeviceInfo is what the mobile client reports about itself.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform"`
	Model      string `json:"model"`
	OSVersion  string `json:"osVersion"`
	AppVersion string `json:"appVersion"`
}

// Fingerprint derives a stable identifier from the reported device fields.
func (d DeviceInfo) Fingerprint() string {
	joined := strings.Join([]string{d.DeviceID, d.Platform, d.Model, d.OSVersion}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:16]
}

// PositionReport is a reported GPS sample for check-in or checkout.
type PositionReport struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	Device         DeviceInfo
}

// CheckOutResult is what a successful checkout returns.
type CheckOutResult struct {
	Session         *store.AttendanceSession
	DurationMinutes int
	EarlyLeave      bool
}

// Status is the idempotent per-user view of today's session.
type Status struct {
	Status         store.SessionStatus
	CanCheckIn     bool
	CanCheckOut    bool
	RequirePhoto   bool
	Session        *store.AttendanceSession
	ElapsedMinutes int
	ElapsedClock   string // live HH:MM:SS while checked in
	ElapsedShort   string // "1j 35m"
}

// Service owns the session lifecycle. It is the only writer of
// attendance_sessions; the risk analyzer and geofence evaluator stay pure.
type Service struct {
	store    store.Store
	analyzer *risk.Analyzer
	notifier accrual.Notifier
	cfg      Config
	logger   *slog.Logger
}

// NewService creates the state machine service.
func NewService(st store.Store, analyzer *risk.Analyzer, notifier accrual.Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		store:    st,
		analyzer: analyzer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
	}
}

// CheckIn runs the NoSession -> CheckedIn transition.
//
// Order matters: position validity is checked before anything is written;
// the validation audit row is written for every screened attempt, accepted
// or not; the store's unique(user, date) constraint is the authoritative
// duplicate guard even though a friendlier pre-check runs first.
func (s *Service) CheckIn(ctx context.Context, userID string, report PositionReport) (*store.AttendanceSession, error) {
	now := s.cfg.Clock().In(s.cfg.Location)
	date := now.Format("2006-01-02")

	assignment, location, err := s.resolveSite(ctx, userID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.GetSessionByUserDate(ctx, userID, date); err == nil {
		return nil, &DuplicateSessionError{Date: date, Status: string(existing.Status)}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing session: %w", err)
	}

	fence, assessment, err := s.screen(ctx, userID, nil, store.PhaseCheckIn, report, location, now)
	if err != nil {
		return nil, err
	}

	windows, err := s.resolveWindows(assignment, location, now)
	if err != nil {
		return nil, err
	}
	if !windows.InCheckInWindow(now) && !location.AllowUnscheduled {
		return nil, &OutsideWindowError{
			Phase:       store.PhaseCheckIn,
			At:          now,
			WindowStart: windows.EarliestCheckIn,
			WindowEnd:   windows.LatestCheckOut,
		}
	}

	checkIn := now
	lat, lng, acc := report.Latitude, report.Longitude, report.AccuracyMeters
	distance := fence.DistanceMeters
	sess := &store.AttendanceSession{
		ID:                uuid.New().String(),
		UserID:            userID,
		WorkLocationID:    location.ID,
		Date:              date,
		Status:            store.StatusCheckedIn,
		CheckInTime:       &checkIn,
		CheckInLatitude:   &lat,
		CheckInLongitude:  &lng,
		CheckInAccuracyM:  &acc,
		IsLate:            windows.IsLate(now),
		DeviceFingerprint: report.Device.Fingerprint(),
		DistanceCheckInM:  &distance,
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrDuplicateSession) {
			return nil, &DuplicateSessionError{Date: date, Status: string(store.StatusCheckedIn)}
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("checked in",
		"user", userID,
		"location", location.ID,
		"date", date,
		"distance_m", fence.DistanceMeters,
		"is_late", sess.IsLate,
		"risk_score", assessment.Score,
	)
	return sess, nil
}

// CheckOut runs the CheckedIn -> CheckedOut transition. The position is
// re-validated from scratch; nothing is trusted from check-in.
func (s *Service) CheckOut(ctx context.Context, userID string, report PositionReport) (*CheckOutResult, error) {
	now := s.cfg.Clock().In(s.cfg.Location)
	date := now.Format("2006-01-02")

	sess, err := s.store.GetSessionByUserDate(ctx, userID, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NoOpenSessionError{Date: date}
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.Status != store.StatusCheckedIn || sess.CheckInTime == nil {
		return nil, &NoOpenSessionError{Date: date}
	}

	location, err := s.store.GetWorkLocation(ctx, sess.WorkLocationID)
	if err != nil {
		return nil, fmt.Errorf("loading work location: %w", err)
	}

	fence, assessment, err := s.screen(ctx, userID, &sess.ID, store.PhaseCheckOut, report, location, now)
	if err != nil {
		return nil, err
	}

	assignment, err := s.store.GetAssignment(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading assignment: %w", err)
	}
	windows, err := s.resolveWindows(assignment, location, now)
	if err != nil {
		return nil, err
	}
	if !windows.InCheckOutWindow(now) && !location.AllowUnscheduled {
		return nil, &OutsideWindowError{
			Phase:       store.PhaseCheckOut,
			At:          now,
			WindowStart: windows.EarliestCheckIn,
			WindowEnd:   windows.LatestCheckOut,
		}
	}

	elapsed := worktime.ElapsedMinutes(*sess.CheckInTime, now)
	if elapsed < s.cfg.MinimumSessionMinutes {
		return nil, &MinimumDurationNotMetError{
			RequiredMinutes: s.cfg.MinimumSessionMinutes,
			ActualMinutes:   elapsed,
		}
	}

	checkOut := now
	lat, lng, acc := report.Latitude, report.Longitude, report.AccuracyMeters
	distance := fence.DistanceMeters
	sess.CheckOutTime = &checkOut
	sess.CheckOutLatitude = &lat
	sess.CheckOutLongitude = &lng
	sess.CheckOutAccuracyM = &acc
	sess.DistanceCheckOutM = &distance
	sess.DurationMinutes = &elapsed

	if err := s.store.CompleteSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrNoOpenSession) {
			return nil, &NoOpenSessionError{Date: date}
		}
		return nil, fmt.Errorf("completing session: %w", err)
	}

	earlyLeave := windows.IsEarlyLeave(now)
	s.emitAccrual(ctx, sess)

	s.logger.Info("checked out",
		"user", userID,
		"date", date,
		"duration_minutes", elapsed,
		"early_leave", earlyLeave,
		"risk_score", assessment.Score,
	)
	return &CheckOutResult{
		Session:         sess,
		DurationMinutes: elapsed,
		EarlyLeave:      earlyLeave,
	}, nil
}

// Status reports today's session state. It is side-effect-free; the elapsed
// projection is recomputed from the stored check-in time on every call.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	now := s.cfg.Clock().In(s.cfg.Location)
	date := now.Format("2006-01-02")

	var requirePhoto bool
	if _, location, err := s.resolveSite(ctx, userID); err == nil {
		requirePhoto = location.RequirePhoto
	}

	sess, err := s.store.GetSessionByUserDate(ctx, userID, date)
	if errors.Is(err, store.ErrNotFound) {
		return &Status{
			Status:       store.StatusIncomplete,
			CanCheckIn:   true,
			RequirePhoto: requirePhoto,
			ElapsedClock: "00:00:00",
			ElapsedShort: worktime.Duration(0).Short(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	st := &Status{
		Status:       sess.Status,
		Session:      sess,
		RequirePhoto: requirePhoto,
	}

	switch sess.Status {
	case store.StatusCheckedIn:
		if sess.CheckInTime == nil {
			return nil, fmt.Errorf("session %s is checked_in without a check-in time", sess.ID)
		}
		elapsed := worktime.ElapsedMinutes(*sess.CheckInTime, now)
		st.ElapsedMinutes = elapsed
		st.ElapsedClock = worktime.LiveClock(*sess.CheckInTime, now)
		st.ElapsedShort = worktime.Duration(elapsed).Short()
		st.CanCheckOut = elapsed >= s.cfg.MinimumSessionMinutes
	case store.StatusCheckedOut:
		minutes := 0
		if sess.DurationMinutes != nil {
			minutes = *sess.DurationMinutes
		}
		st.ElapsedMinutes = minutes
		st.ElapsedClock = worktime.Duration(minutes).Clock()
		st.ElapsedShort = worktime.Duration(minutes).Short()
	}
	return st, nil
}

// resolveSite loads the user's active assignment and its work location.
func (s *Service) resolveSite(ctx context.Context, userID string) (*store.StaffAssignment, *store.WorkLocation, error) {
	assignment, err := s.store.GetAssignment(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, &NoAssignmentError{UserID: userID}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading assignment: %w", err)
	}
	if !assignment.Active {
		return nil, nil, &NoAssignmentError{UserID: userID}
	}

	location, err := s.store.GetWorkLocation(ctx, assignment.WorkLocationID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading work location: %w", err)
	}
	return assignment, location, nil
}

// screen validates the position against the fence and the risk heuristics,
// appending the audit row for every screened attempt. Invalid coordinates
// abort before any write since there is no trustworthy sample to record.
func (s *Service) screen(ctx context.Context, userID string, sessionID *string, phase string, report PositionReport, location *store.WorkLocation, now time.Time) (geofence.Result, risk.Assessment, error) {
	fence, err := geofence.Evaluate(
		geofence.Position{
			Latitude:       report.Latitude,
			Longitude:      report.Longitude,
			AccuracyMeters: report.AccuracyMeters,
		},
		geofence.Fence{
			CenterLatitude:  location.Latitude,
			CenterLongitude: location.Longitude,
			RadiusMeters:    location.RadiusMeters,
			Strict:          location.StrictGeofence,
		},
	)
	if err != nil {
		return geofence.Result{}, risk.Assessment{}, err
	}

	assessment := s.analyzer.Assess(
		risk.Sample{
			Latitude:       report.Latitude,
			Longitude:      report.Longitude,
			AccuracyMeters: report.AccuracyMeters,
			Fingerprint:    report.Device.Fingerprint(),
			At:             now,
		},
		location.GPSAccuracyRequiredMeters,
		s.history(ctx, userID),
	)

	validation := &store.LocationValidation{
		ID:                 uuid.New().String(),
		UserID:             userID,
		SessionID:          sessionID,
		Phase:              phase,
		Latitude:           report.Latitude,
		Longitude:          report.Longitude,
		AccuracyMeters:     report.AccuracyMeters,
		DistanceMeters:     fence.DistanceMeters,
		Fingerprint:        report.Device.Fingerprint(),
		RiskLevel:          string(assessment.Level),
		RiskScore:          assessment.Score,
		IsSpoofed:          assessment.Spoofed,
		IsBlocked:          assessment.Blocked,
		ActionTaken:        string(assessment.Action),
		DetectionResults:   assessment.Detections,
		SpoofingIndicators: assessment.Indicators,
		CreatedAt:          now.UTC(),
	}
	if err := s.store.AppendValidation(ctx, validation); err != nil {
		return geofence.Result{}, risk.Assessment{}, fmt.Errorf("appending validation: %w", err)
	}

	if !fence.WithinFence {
		return fence, assessment, &GeofenceViolationError{
			DistanceMeters:      fence.DistanceMeters,
			AllowedRadiusMeters: fence.EffectiveRadiusMeters,
			WorkLocationName:    location.Name,
		}
	}
	if assessment.Blocked {
		return fence, assessment, &SpoofingBlockedError{
			Score: assessment.Score,
			Level: string(assessment.Level),
		}
	}
	return fence, assessment, nil
}

// history assembles what the analyzer knows about the user: the device
// fingerprint of the last completed session and the last screened sample.
func (s *Service) history(ctx context.Context, userID string) risk.History {
	var hist risk.History

	if last, err := s.store.LatestCompletedSession(ctx, userID); err == nil {
		hist.KnownFingerprint = last.DeviceFingerprint
	}
	if v, err := s.store.LatestValidation(ctx, userID); err == nil {
		hist.LastSample = &risk.Sample{
			Latitude:    v.Latitude,
			Longitude:   v.Longitude,
			Fingerprint: v.Fingerprint,
			At:          v.CreatedAt,
		}
	}
	return hist
}

// resolveWindows anchors the assignment's wall-clock shift onto today and
// applies the site's tolerances.
func (s *Service) resolveWindows(assignment *store.StaffAssignment, location *store.WorkLocation, now time.Time) (shift.Windows, error) {
	start, err := shift.ParseShiftTime(now, assignment.ShiftStart, s.cfg.Location)
	if err != nil {
		return shift.Windows{}, fmt.Errorf("resolving shift start: %w", err)
	}
	end, err := shift.ParseShiftTime(now, assignment.ShiftEnd, s.cfg.Location)
	if err != nil {
		return shift.Windows{}, fmt.Errorf("resolving shift end: %w", err)
	}

	tol := shift.Tolerances{
		LateMinutes:           location.LateToleranceMinutes,
		EarlyDepartureMinutes: location.EarlyDepartureToleranceMinutes,
		CheckInBeforeMinutes:  location.CheckInBeforeShiftMinutes,
		CheckOutAfterMinutes:  location.CheckOutAfterShiftMinutes,
	}
	return shift.Resolve(tol, start, end), nil
}

// emitAccrual writes the outbox row and attempts delivery once. Delivery
// failure leaves the row undelivered for a later flush; the checkout has
// already committed and is not rolled back.
func (s *Service) emitAccrual(ctx context.Context, sess *store.AttendanceSession) {
	event := &store.AccrualEvent{
		ID:              uuid.New().String(),
		UserID:          sess.UserID,
		WorkLocationID:  sess.WorkLocationID,
		Date:            sess.Date,
		DurationMinutes: derefInt(sess.DurationMinutes),
		IsLate:          sess.IsLate,
	}
	if sess.DistanceCheckInM != nil {
		event.DistanceCheckInM = *sess.DistanceCheckInM
	}
	if sess.DistanceCheckOutM != nil {
		event.DistanceCheckOutM = *sess.DistanceCheckOutM
	}

	if err := s.store.SaveAccrualEvent(ctx, event); err != nil {
		s.logger.Error("saving accrual event", "user", sess.UserID, "date", sess.Date, "error", err)
		return
	}

	if err := s.notifier.Notify(ctx, accrual.EventFromRecord(event)); err != nil {
		s.logger.Warn("accrual delivery failed, event stays in outbox",
			"user", sess.UserID, "date", sess.Date, "error", err)
		return
	}
	if err := s.store.MarkAccrualDelivered(ctx, event.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("marking accrual delivered", "id", event.ID, "error", err)
	}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
