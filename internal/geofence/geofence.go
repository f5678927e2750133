// ABOUTME: Great-circle distance and geofence boundary evaluation for work sites
// ABOUTME: Haversine at full precision with optional GPS-accuracy radius widening

package geofence

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the mean earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Position is a reported GPS sample. AccuracyMeters is the client-reported
// horizontal accuracy; zero means unknown and never widens the fence.
type Position struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
}

// Fence describes the circular boundary around a work-site center.
// When Strict is true the reported accuracy is ignored and the boundary
// sits exactly at RadiusMeters.
type Fence struct {
	CenterLatitude  float64
	CenterLongitude float64
	RadiusMeters    float64
	Strict          bool
}

// Result is the outcome of evaluating a position against a fence.
// DistanceMeters is rounded to one decimal for storage and display; the
// boundary comparison is done at full precision before rounding.
type Result struct {
	DistanceMeters        float64
	EffectiveRadiusMeters float64
	WithinFence           bool
}

// InvalidPositionError reports coordinates that cannot be evaluated:
// NaN, infinite, or outside the valid latitude/longitude range.
type InvalidPositionError struct {
	Latitude  float64
	Longitude float64
	Reason    string
}

func (e *InvalidPositionError) Error() string {
	return fmt.Sprintf("invalid position (%v, %v): %s", e.Latitude, e.Longitude, e.Reason)
}

// validateCoordinates rejects NaN/Inf and out-of-range coordinate pairs.
func validateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return &InvalidPositionError{Latitude: lat, Longitude: lng, Reason: "coordinate is not a finite number"}
	}
	if lat < -90 || lat > 90 {
		return &InvalidPositionError{Latitude: lat, Longitude: lng, Reason: "latitude out of range [-90, 90]"}
	}
	if lng < -180 || lng > 180 {
		return &InvalidPositionError{Latitude: lat, Longitude: lng, Reason: "longitude out of range [-180, 180]"}
	}
	return nil
}

// Distance returns the great-circle distance in meters between two
// coordinate pairs using the haversine formula. Full precision; callers
// round for display.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Evaluate computes the distance from the reported position to the fence
// center and decides whether the position is inside the fence.
//
// The effective radius is the configured radius plus the reported accuracy
// (clamped at zero) unless the fence is strict. The boundary is closed: a
// position exactly at the effective radius is inside.
func Evaluate(pos Position, fence Fence) (Result, error) {
	if err := validateCoordinates(pos.Latitude, pos.Longitude); err != nil {
		return Result{}, err
	}
	if err := validateCoordinates(fence.CenterLatitude, fence.CenterLongitude); err != nil {
		return Result{}, err
	}

	distance := Distance(pos.Latitude, pos.Longitude, fence.CenterLatitude, fence.CenterLongitude)

	effective := fence.RadiusMeters
	if !fence.Strict {
		effective += math.Max(0, pos.AccuracyMeters)
	}

	return Result{
		DistanceMeters:        math.Round(distance*10) / 10,
		EffectiveRadiusMeters: effective,
		WithinFence:           distance <= effective,
	}, nil
}
