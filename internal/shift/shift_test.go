// ABOUTME: Tests for tolerance window resolution and late/early flagging
// ABOUTME: Covers threshold arithmetic and the late-tolerance boundary cases

package shift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindows(t *testing.T) Windows {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	day := time.Date(2026, 9, 1, 0, 0, 0, 0, loc)
	start, err := ParseShiftTime(day, "08:00", loc)
	require.NoError(t, err)
	end, err := ParseShiftTime(day, "17:00", loc)
	require.NoError(t, err)

	tol := Tolerances{
		LateMinutes:           15,
		EarlyDepartureMinutes: 30,
		CheckInBeforeMinutes:  60,
		CheckOutAfterMinutes:  120,
	}
	return Resolve(tol, start, end)
}

func TestResolve_Thresholds(t *testing.T) {
	w := testWindows(t)

	assert.Equal(t, "07:00", w.EarliestCheckIn.Format("15:04"))
	assert.Equal(t, "19:00", w.LatestCheckOut.Format("15:04"))
	assert.Equal(t, "08:15", w.LateAfter.Format("15:04"))
	assert.Equal(t, "16:30", w.EarlyLeaveBefore.Format("15:04"))
}

func TestIsLate_WithinTolerance(t *testing.T) {
	w := testWindows(t)

	// 08:05 with 15 minutes tolerance: on time.
	assert.False(t, w.IsLate(w.ShiftStart.Add(5*time.Minute)))
	// Exactly at the tolerance threshold: still on time.
	assert.False(t, w.IsLate(w.ShiftStart.Add(15*time.Minute)))
	// 08:20: late.
	assert.True(t, w.IsLate(w.ShiftStart.Add(20*time.Minute)))
}

func TestIsEarlyLeave(t *testing.T) {
	w := testWindows(t)

	assert.True(t, w.IsEarlyLeave(w.ShiftEnd.Add(-45*time.Minute)))
	assert.False(t, w.IsEarlyLeave(w.ShiftEnd.Add(-30*time.Minute)))
	assert.False(t, w.IsEarlyLeave(w.ShiftEnd))
}

func TestCheckInWindow_Boundaries(t *testing.T) {
	w := testWindows(t)

	assert.True(t, w.InCheckInWindow(w.EarliestCheckIn))
	assert.True(t, w.InCheckInWindow(w.LatestCheckOut))
	assert.False(t, w.InCheckInWindow(w.EarliestCheckIn.Add(-time.Minute)))
	assert.False(t, w.InCheckInWindow(w.LatestCheckOut.Add(time.Minute)))
}

func TestCheckOutWindow(t *testing.T) {
	w := testWindows(t)

	assert.True(t, w.InCheckOutWindow(w.LatestCheckOut))
	assert.False(t, w.InCheckOutWindow(w.LatestCheckOut.Add(time.Second)))
}

func TestParseShiftTime_Invalid(t *testing.T) {
	_, err := ParseShiftTime(time.Now(), "25:99", time.UTC)
	require.Error(t, err)
}

func TestResolve_ZeroTolerances(t *testing.T) {
	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)

	w := Resolve(Tolerances{}, start, end)
	assert.Equal(t, start, w.EarliestCheckIn)
	assert.Equal(t, end, w.LatestCheckOut)
	assert.True(t, w.IsLate(start.Add(time.Second)))
}
