// ABOUTME: Resolves per-site tolerance windows around a scheduled shift
// ABOUTME: Produces check-in/check-out boundaries and late/early-leave thresholds

package shift

import (
	"fmt"
	"time"
)

// Tolerances are the per-work-site grace periods, all in minutes and never
// negative. They come from work-location administration and are read-only
// to this engine.
type Tolerances struct {
	LateMinutes           int // check-ins after shift start + this are flagged late
	EarlyDepartureMinutes int // check-outs before shift end - this are flagged early
	CheckInBeforeMinutes  int // how early before shift start check-in opens
	CheckOutAfterMinutes  int // how long after shift end check-out stays open
}

// Windows are the resolved absolute thresholds for one user's shift on one
// day. EarliestCheckIn/LatestCheckOut bound the hard attendance window; the
// state machine rejects outside it unless the site allows unscheduled
// attendance. LateAfter and EarlyLeaveBefore only flag, never reject.
type Windows struct {
	ShiftStart       time.Time
	ShiftEnd         time.Time
	EarliestCheckIn  time.Time
	LatestCheckOut   time.Time
	LateAfter        time.Time
	EarlyLeaveBefore time.Time
}

// Resolve computes the absolute windows for a shift from the site's
// tolerances. It performs no rejection itself.
func Resolve(tol Tolerances, shiftStart, shiftEnd time.Time) Windows {
	return Windows{
		ShiftStart:       shiftStart,
		ShiftEnd:         shiftEnd,
		EarliestCheckIn:  shiftStart.Add(-time.Duration(tol.CheckInBeforeMinutes) * time.Minute),
		LatestCheckOut:   shiftEnd.Add(time.Duration(tol.CheckOutAfterMinutes) * time.Minute),
		LateAfter:        shiftStart.Add(time.Duration(tol.LateMinutes) * time.Minute),
		EarlyLeaveBefore: shiftEnd.Add(-time.Duration(tol.EarlyDepartureMinutes) * time.Minute),
	}
}

// InCheckInWindow reports whether t falls inside the hard check-in window
// (earliest check-in through latest check-out, both inclusive).
func (w Windows) InCheckInWindow(t time.Time) bool {
	return !t.Before(w.EarliestCheckIn) && !t.After(w.LatestCheckOut)
}

// InCheckOutWindow reports whether t is no later than the latest allowed
// check-out.
func (w Windows) InCheckOutWindow(t time.Time) bool {
	return !t.After(w.LatestCheckOut)
}

// IsLate reports whether a check-in at t exceeds the late tolerance.
// Arriving exactly at the threshold is on time.
func (w Windows) IsLate(t time.Time) bool {
	return t.After(w.LateAfter)
}

// IsEarlyLeave reports whether a check-out at t is before the early-departure
// threshold.
func (w Windows) IsEarlyLeave(t time.Time) bool {
	return t.Before(w.EarlyLeaveBefore)
}

// ParseShiftTime anchors an "HH:MM" wall-clock shift time onto the given
// day in the given location. Staff assignments store shift times as strings
// since the schedule repeats daily.
func ParseShiftTime(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing shift time %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}
