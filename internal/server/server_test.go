// ABOUTME: HTTP-level tests for the attendance endpoints.
// ABOUTME: Exercises auth, the full check-in/checkout flow, and error code mapping.

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinova/attendance/internal/accrual"
	"github.com/clinova/attendance/internal/auth"
	"github.com/clinova/attendance/internal/risk"
	"github.com/clinova/attendance/internal/session"
	"github.com/clinova/attendance/internal/store"
)

const (
	clinicLat = -6.2088
	clinicLng = 106.8456
)

type fixture struct {
	server  *httptest.Server
	store   *store.MockStore
	token   string
	now     time.Time
	nowFunc *time.Time
}

// newFixture stands up the full HTTP stack over a MockStore: one clinic
// with a 100m fence, one staff member on an 08:00-17:00 Jakarta shift,
// and a controllable clock starting at 08:05 local.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	st := store.NewMockStore()
	ctx := t.Context()

	require.NoError(t, st.CreateWorkLocation(ctx, &store.WorkLocation{
		ID:                             "loc-clinic",
		Name:                           "Central Clinic",
		Latitude:                       clinicLat,
		Longitude:                      clinicLng,
		RadiusMeters:                   100,
		LocationType:                   "clinic",
		LateToleranceMinutes:           15,
		EarlyDepartureToleranceMinutes: 30,
		CheckInBeforeShiftMinutes:      60,
		CheckOutAfterShiftMinutes:      120,
		GPSAccuracyRequiredMeters:      50,
	}))
	require.NoError(t, st.UpsertAssignment(ctx, &store.StaffAssignment{
		UserID:         "user-1",
		WorkLocationID: "loc-clinic",
		ShiftStart:     "08:00",
		ShiftEnd:       "17:00",
		Active:         true,
	}))

	now := time.Date(2025, 6, 2, 8, 5, 0, 0, loc)
	nowPtr := &now

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := session.NewService(
		st,
		risk.NewAnalyzer(risk.DefaultConfig()),
		accrual.NewLogNotifier(logger),
		session.Config{
			MinimumSessionMinutes: 30,
			Location:              loc,
			Clock:                 func() time.Time { return *nowPtr },
		},
		logger,
	)

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc, verifier, logger).Routes())
	t.Cleanup(srv.Close)

	return &fixture{
		server:  srv,
		store:   st,
		token:   token,
		now:     now,
		nowFunc: nowPtr,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.nowFunc = f.nowFunc.Add(d)
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func onSitePosition() map[string]any {
	return map[string]any{
		"latitude":  clinicLat,
		"longitude": clinicLng,
		"accuracy":  10.0,
		"device": map[string]string{
			"deviceId": "dev-1",
			"platform": "android",
			"model":    "Pixel 8",
		},
	}
}

func TestCheckInHappyPath(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeJSON[CheckInResponse](t, resp)
	assert.NotEmpty(t, body.SessionID)
	assert.Equal(t, "checked_in", body.Status)
	assert.False(t, body.IsLate)
	assert.Less(t, body.DistanceMeters, 100.0)

	checkIn, err := time.Parse(time.RFC3339, body.CheckInTime)
	require.NoError(t, err)
	assert.True(t, checkIn.Equal(f.now))
}

func TestCheckInRequiresToken(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(onSitePosition()))
	resp, err := http.Post(f.server.URL+"/api/v1/attendance/check-in", "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckInInvalidJSON(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/attendance/check-in", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_request", body.Code)
}

func TestCheckInDuplicate(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "already_checked_in", body.Code)
	assert.Equal(t, "2025-06-02", body.Details["date"])
}

func TestCheckInOutsideGeofence(t *testing.T) {
	f := newFixture(t)

	pos := onSitePosition()
	pos["latitude"] = clinicLat + 0.01 // roughly 1.1km north

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", pos)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "outside_geofence", body.Code)
	assert.Greater(t, body.Details["distanceMeters"].(float64), 1000.0)
	assert.Equal(t, "Central Clinic", body.Details["workLocationName"])
}

func TestCheckInInvalidPosition(t *testing.T) {
	f := newFixture(t)

	pos := onSitePosition()
	pos["latitude"] = 123.0

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", pos)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_position", body.Code)
}

func TestCheckInSpoofingBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	// A prior completed session pins a different device fingerprint, and a
	// recent far-away validation makes the reported jump implausible.
	prevDevice := session.DeviceInfo{DeviceID: "other-dev", Platform: "ios", Model: "iPhone 12"}
	checkIn := f.now.Add(-24 * time.Hour)
	checkOut := checkIn.Add(9 * time.Hour)
	require.NoError(t, f.store.CreateSession(ctx, &store.AttendanceSession{
		ID:                "sess-prev",
		UserID:            "user-1",
		WorkLocationID:    "loc-clinic",
		Date:              "2025-06-01",
		Status:            store.StatusCheckedOut,
		CheckInTime:       &checkIn,
		CheckOutTime:      &checkOut,
		DeviceFingerprint: prevDevice.Fingerprint(),
	}))
	require.NoError(t, f.store.AppendValidation(ctx, &store.LocationValidation{
		ID:        "val-prev",
		UserID:    "user-1",
		Phase:     store.PhaseCheckOut,
		Latitude:  -7.2575, // Surabaya, ~660km away
		Longitude: 112.7521,
		CreatedAt: f.now.Add(-10 * time.Minute),
	}))

	pos := onSitePosition()
	pos["accuracy"] = 0.5 // suspiciously perfect fix

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", pos)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "location_blocked", body.Code)
	assert.GreaterOrEqual(t, body.Details["riskScore"].(float64), 80.0)
}

func TestCheckOutFlow(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	f.advance(95 * time.Minute)

	resp = f.do(t, http.MethodPost, "/api/v1/attendance/check-out", onSitePosition())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[CheckOutResponse](t, resp)
	assert.Equal(t, "checked_out", body.Status)
	assert.Equal(t, 95, body.DurationMinutes)
	assert.True(t, body.EarlyLeave)
}

func TestCheckOutTooSoon(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	f.advance(5 * time.Minute)

	resp = f.do(t, http.MethodPost, "/api/v1/attendance/check-out", onSitePosition())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "minimum_duration_not_met", body.Code)
	assert.Equal(t, 30.0, body.Details["requiredMinutes"])
	assert.Equal(t, 5.0, body.Details["actualMinutes"])
}

func TestCheckOutWithoutCheckIn(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-out", onSitePosition())
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "no_open_session", body.Code)
}

func TestCheckInOutsideWindow(t *testing.T) {
	f := newFixture(t)
	*f.nowFunc = f.now.Add(-3 * time.Hour) // 05:05, before the 07:00 gate

	resp := f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeJSON[ErrorResponse](t, resp)
	assert.Equal(t, "outside_window", body.Code)
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/attendance/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	before := decodeJSON[StatusResponse](t, resp)
	assert.Equal(t, "incomplete", before.Status)
	assert.True(t, before.CanCheckIn)
	assert.False(t, before.CanCheckOut)
	assert.Equal(t, "00:00:00", before.ElapsedClock)

	resp = f.do(t, http.MethodPost, "/api/v1/attendance/check-in", onSitePosition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	f.advance(95 * time.Minute)

	resp = f.do(t, http.MethodGet, "/api/v1/attendance/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	during := decodeJSON[StatusResponse](t, resp)
	assert.Equal(t, "checked_in", during.Status)
	assert.True(t, during.CanCheckOut)
	assert.Equal(t, 95, during.ElapsedMinutes)
	assert.Equal(t, "01:35:00", during.ElapsedClock)
	assert.Equal(t, "1j 35m", during.ElapsedShort)

	resp = f.do(t, http.MethodPost, "/api/v1/attendance/check-out", onSitePosition())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/api/v1/attendance/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	after := decodeJSON[StatusResponse](t, resp)
	assert.Equal(t, "checked_out", after.Status)
	assert.False(t, after.CanCheckOut)
	assert.Equal(t, "01:35:00", after.ElapsedClock)
	assert.NotEmpty(t, after.CheckOutTime)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/attendance/check-in", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/attendance/status", onSitePosition())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	body := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}
