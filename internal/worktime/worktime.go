// ABOUTME: Canonical timestamp normalization and elapsed work duration arithmetic
// ABOUTME: One ordered parser chain, clamped non-negative minutes, paired display projections

package worktime

import (
	"fmt"
	"time"
)

// parseStrategy is one normalization rule in the ordered chain. Name is
// recorded on the result so diagnostics can tell which rule matched.
type parseStrategy struct {
	name   string
	layout string
	// timeOnly layouts are anchored to the reference day in the reference
	// location; layouts without an offset are interpreted in the reference
	// location as well.
	timeOnly bool
	hasZone  bool
}

// strategies is the fixed parse order. The first rule that yields a valid
// instant wins; clients have historically sent all of these shapes.
var strategies = []parseStrategy{
	{name: "rfc3339", layout: time.RFC3339, hasZone: true},
	{name: "rfc3339_nano", layout: time.RFC3339Nano, hasZone: true},
	{name: "datetime_t", layout: "2006-01-02T15:04:05"},
	{name: "datetime_space", layout: "2006-01-02 15:04:05"},
	{name: "datetime_minutes", layout: "2006-01-02 15:04"},
	{name: "date_only", layout: "2006-01-02"},
	{name: "time_seconds", layout: "15:04:05", timeOnly: true},
	{name: "time_minutes", layout: "15:04", timeOnly: true},
}

// Instant is a normalized absolute timestamp plus the name of the parse
// strategy that produced it.
type Instant struct {
	Time     time.Time
	Strategy string
}

// ParseInstant normalizes a client-supplied timestamp string to a single
// absolute instant. Time-of-day-only values are assumed to fall on the
// reference day; zone-less values are interpreted in loc. The reference
// time also supplies the day for time-only inputs.
func ParseInstant(raw string, reference time.Time, loc *time.Location) (Instant, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, s := range strategies {
		var parsed time.Time
		var err error
		if s.hasZone {
			parsed, err = time.Parse(s.layout, raw)
		} else {
			parsed, err = time.ParseInLocation(s.layout, raw, loc)
		}
		if err != nil {
			continue
		}
		if s.timeOnly {
			ref := reference.In(loc)
			parsed = time.Date(ref.Year(), ref.Month(), ref.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc)
		}
		return Instant{Time: parsed, Strategy: s.name}, nil
	}
	return Instant{}, fmt.Errorf("timestamp %q matches no known format", raw)
}

// ElapsedMinutes returns the whole minutes between start and end, floored,
// never negative. Clock skew or malformed ordering clamps to zero instead
// of propagating a negative duration.
func ElapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// ElapsedSeconds is the seconds-granularity sibling of ElapsedMinutes, used
// for the live ticking display. It floors and clamps the same way, so
// ElapsedSeconds/60 always equals ElapsedMinutes for the same pair.
func ElapsedSeconds(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Duration is an elapsed work duration in whole minutes. All display
// projections derive from this single value so they cannot disagree.
type Duration int

// HoursMinutes splits the duration into whole hours and leftover minutes.
func (d Duration) HoursMinutes() (hours, minutes int) {
	if d < 0 {
		d = 0
	}
	return int(d) / 60, int(d) % 60
}

// Clock renders the duration as HH:MM:SS with zero seconds; the live
// display variant with real seconds is LiveClock.
func (d Duration) Clock() string {
	h, m := d.HoursMinutes()
	return fmt.Sprintf("%02d:%02d:00", h, m)
}

// Short renders the compact form used on attendance cards, e.g. "1j 35m".
func (d Duration) Short() string {
	h, m := d.HoursMinutes()
	return fmt.Sprintf("%dj %dm", h, m)
}

// LiveClock renders a ticking HH:MM:SS for an open session. The hour and
// minute fields agree with ElapsedMinutes for the same instant pair.
func LiveClock(start, now time.Time) string {
	total := ElapsedSeconds(start, now)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
