// ABOUTME: Typed rejection errors for the attendance session state machine
// ABOUTME: Every rejection carries the figures the user needs to self-correct

package session

import (
	"fmt"
	"time"
)

// GeofenceViolationError reports a position outside the effective radius,
// with both the measured distance and the allowed radius.
type GeofenceViolationError struct {
	DistanceMeters      float64
	AllowedRadiusMeters float64
	WorkLocationName    string
}

func (e *GeofenceViolationError) Error() string {
	return fmt.Sprintf("position is %.1fm from %s, allowed radius is %.1fm",
		e.DistanceMeters, e.WorkLocationName, e.AllowedRadiusMeters)
}

// SpoofingBlockedError reports a risk score over the blocking threshold.
type SpoofingBlockedError struct {
	Score int
	Level string
}

func (e *SpoofingBlockedError) Error() string {
	return fmt.Sprintf("location rejected: spoofing risk score %d (%s)", e.Score, e.Level)
}

// OutsideWindowError reports an attempt outside the hard pre/post-shift
// window at a site that does not allow unscheduled attendance.
type OutsideWindowError struct {
	Phase       string // "check_in" or "check_out"
	At          time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

func (e *OutsideWindowError) Error() string {
	return fmt.Sprintf("%s at %s is outside the allowed window %s to %s",
		e.Phase,
		e.At.Format("15:04"),
		e.WindowStart.Format("15:04"),
		e.WindowEnd.Format("15:04"))
}

// DuplicateSessionError reports a check-in when a session already exists
// for the day. Repeats are rejected, never silently accepted.
type DuplicateSessionError struct {
	Date   string
	Status string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("already checked in on %s (session is %s)", e.Date, e.Status)
}

// NoOpenSessionError reports a checkout without a prior check-in today.
type NoOpenSessionError struct {
	Date string
}

func (e *NoOpenSessionError) Error() string {
	return fmt.Sprintf("no open session on %s", e.Date)
}

// MinimumDurationNotMetError reports a checkout attempted too soon, with
// both the required minimum and the actual elapsed minutes.
type MinimumDurationNotMetError struct {
	RequiredMinutes int
	ActualMinutes   int
}

func (e *MinimumDurationNotMetError) Error() string {
	return fmt.Sprintf("checkout too soon: %d minutes elapsed, minimum is %d",
		e.ActualMinutes, e.RequiredMinutes)
}

// NoAssignmentError reports a staff member with no active work-site
// assignment; nothing can be validated without one.
type NoAssignmentError struct {
	UserID string
}

func (e *NoAssignmentError) Error() string {
	return fmt.Sprintf("user %s has no active work-site assignment", e.UserID)
}
