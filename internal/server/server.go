// ABOUTME: HTTP API handlers for the attendance session endpoints.
// ABOUTME: Maps typed state-machine rejections to stable JSON error codes.

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinova/attendance/internal/auth"
	"github.com/clinova/attendance/internal/geofence"
	"github.com/clinova/attendance/internal/session"
	"github.com/clinova/attendance/internal/store"
)

// PositionRequest is the JSON request body for check-in and checkout.
// The client never names a work location; the server resolves it from the
// staff assignment.
type PositionRequest struct {
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Accuracy  float64            `json:"accuracy"`
	Device    session.DeviceInfo `json:"device"`
}

// CheckInResponse is the JSON response for POST /api/v1/attendance/check-in.
type CheckInResponse struct {
	SessionID      string  `json:"sessionId"`
	Status         string  `json:"status"`
	CheckInTime    string  `json:"checkInTime"`
	IsLate         bool    `json:"isLate"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// CheckOutResponse is the JSON response for POST /api/v1/attendance/check-out.
type CheckOutResponse struct {
	SessionID       string  `json:"sessionId"`
	Status          string  `json:"status"`
	CheckOutTime    string  `json:"checkOutTime"`
	DurationMinutes int     `json:"durationMinutes"`
	EarlyLeave      bool    `json:"earlyLeave"`
	DistanceMeters  float64 `json:"distanceMeters"`
}

// StatusResponse is the JSON response for GET /api/v1/attendance/status.
type StatusResponse struct {
	Status         string `json:"status"`
	CanCheckIn     bool   `json:"canCheckIn"`
	CanCheckOut    bool   `json:"canCheckOut"`
	RequirePhoto   bool   `json:"requirePhoto"`
	SessionID      string `json:"sessionId,omitempty"`
	CheckInTime    string `json:"checkInTime,omitempty"`
	CheckOutTime   string `json:"checkOutTime,omitempty"`
	IsLate         bool   `json:"isLate"`
	ElapsedMinutes int    `json:"elapsedMinutes"`
	ElapsedClock   string `json:"elapsedClock"`
	ElapsedShort   string `json:"elapsedShort"`
}

// ErrorResponse is the JSON body for every rejected request. Code is a
// stable machine-readable identifier; Error is for humans. Details carries
// the figures from the typed rejection so clients can render them.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// Server exposes the attendance session engine over HTTP.
type Server struct {
	sessions *session.Service
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// New creates the HTTP server around the session service.
func New(sessions *session.Service, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	return &Server{
		sessions: sessions,
		verifier: verifier,
		logger:   logger.With("component", "server"),
	}
}

// Routes builds the HTTP mux. Attendance endpoints require a bearer token;
// the health endpoint does not.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	authed := auth.Middleware(s.verifier)
	mux.Handle("/api/v1/attendance/check-in", authed(http.HandlerFunc(s.handleCheckIn)))
	mux.Handle("/api/v1/attendance/check-out", authed(http.HandlerFunc(s.handleCheckOut)))
	mux.Handle("/api/v1/attendance/status", authed(http.HandlerFunc(s.handleStatus)))
	mux.HandleFunc("/healthz", s.handleHealth)

	return mux
}

// handleCheckIn handles POST /api/v1/attendance/check-in.
func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	staff := auth.FromContext(r.Context())
	if staff == nil {
		s.sendError(w, http.StatusUnauthorized, "unauthorized", "missing staff context", nil)
		return
	}

	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}

	sess, err := s.sessions.CheckIn(r.Context(), staff.UserID, session.PositionReport{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.Accuracy,
		Device:         req.Device,
	})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	resp := CheckInResponse{
		SessionID:   sess.ID,
		Status:      string(sess.Status),
		CheckInTime: sess.CheckInTime.Format(time.RFC3339),
		IsLate:      sess.IsLate,
	}
	if sess.DistanceCheckInM != nil {
		resp.DistanceMeters = *sess.DistanceCheckInM
	}
	s.sendJSON(w, http.StatusCreated, resp)
}

// handleCheckOut handles POST /api/v1/attendance/check-out.
func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	staff := auth.FromContext(r.Context())
	if staff == nil {
		s.sendError(w, http.StatusUnauthorized, "unauthorized", "missing staff context", nil)
		return
	}

	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
		return
	}

	result, err := s.sessions.CheckOut(r.Context(), staff.UserID, session.PositionReport{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.Accuracy,
		Device:         req.Device,
	})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	resp := CheckOutResponse{
		SessionID:       result.Session.ID,
		Status:          string(result.Session.Status),
		CheckOutTime:    result.Session.CheckOutTime.Format(time.RFC3339),
		DurationMinutes: result.DurationMinutes,
		EarlyLeave:      result.EarlyLeave,
	}
	if result.Session.DistanceCheckOutM != nil {
		resp.DistanceMeters = *result.Session.DistanceCheckOutM
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /api/v1/attendance/status. It never mutates
// anything; polling it is safe.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	staff := auth.FromContext(r.Context())
	if staff == nil {
		s.sendError(w, http.StatusUnauthorized, "unauthorized", "missing staff context", nil)
		return
	}

	st, err := s.sessions.Status(r.Context(), staff.UserID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	resp := StatusResponse{
		Status:         string(st.Status),
		CanCheckIn:     st.CanCheckIn,
		CanCheckOut:    st.CanCheckOut,
		RequirePhoto:   st.RequirePhoto,
		ElapsedMinutes: st.ElapsedMinutes,
		ElapsedClock:   st.ElapsedClock,
		ElapsedShort:   st.ElapsedShort,
	}
	if st.Session != nil {
		resp.SessionID = st.Session.ID
		resp.IsLate = st.Session.IsLate
		if st.Session.CheckInTime != nil {
			resp.CheckInTime = st.Session.CheckInTime.Format(time.RFC3339)
		}
		if st.Session.CheckOutTime != nil {
			resp.CheckOutTime = st.Session.CheckOutTime.Format(time.RFC3339)
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendDomainError maps the state machine's typed rejections to HTTP
// statuses and stable codes. Anything unrecognized is a 500 with the
// details kept out of the response.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	var (
		invalidPos *geofence.InvalidPositionError
		fenceErr   *session.GeofenceViolationError
		spoofErr   *session.SpoofingBlockedError
		windowErr  *session.OutsideWindowError
		dupErr     *session.DuplicateSessionError
		noOpenErr  *session.NoOpenSessionError
		minDurErr  *session.MinimumDurationNotMetError
		noAsgnErr  *session.NoAssignmentError
	)

	switch {
	case errors.As(err, &invalidPos):
		s.sendError(w, http.StatusBadRequest, "invalid_position", err.Error(), nil)
	case errors.As(err, &fenceErr):
		s.sendError(w, http.StatusUnprocessableEntity, "outside_geofence", err.Error(), map[string]any{
			"distanceMeters":      fenceErr.DistanceMeters,
			"allowedRadiusMeters": fenceErr.AllowedRadiusMeters,
			"workLocationName":    fenceErr.WorkLocationName,
		})
	case errors.As(err, &spoofErr):
		s.sendError(w, http.StatusForbidden, "location_blocked", err.Error(), map[string]any{
			"riskScore": spoofErr.Score,
			"riskLevel": spoofErr.Level,
		})
	case errors.As(err, &windowErr):
		s.sendError(w, http.StatusUnprocessableEntity, "outside_window", err.Error(), map[string]any{
			"windowStart": windowErr.WindowStart.Format(time.RFC3339),
			"windowEnd":   windowErr.WindowEnd.Format(time.RFC3339),
		})
	case errors.As(err, &dupErr):
		s.sendError(w, http.StatusConflict, "already_checked_in", err.Error(), map[string]any{
			"date":   dupErr.Date,
			"status": dupErr.Status,
		})
	case errors.As(err, &noOpenErr):
		s.sendError(w, http.StatusConflict, "no_open_session", err.Error(), map[string]any{
			"date": noOpenErr.Date,
		})
	case errors.As(err, &minDurErr):
		s.sendError(w, http.StatusUnprocessableEntity, "minimum_duration_not_met", err.Error(), map[string]any{
			"requiredMinutes": minDurErr.RequiredMinutes,
			"actualMinutes":   minDurErr.ActualMinutes,
		})
	case errors.As(err, &noAsgnErr):
		s.sendError(w, http.StatusUnprocessableEntity, "no_assignment", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not_found", "not found", nil)
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

// sendError writes a JSON error response.
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	s.sendJSON(w, status, ErrorResponse{
		Code:    code,
		Error:   message,
		Details: details,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
