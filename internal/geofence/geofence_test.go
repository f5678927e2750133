// ABOUTME: Tests for haversine distance and fence boundary evaluation
// ABOUTME: Covers symmetry, closed boundary, accuracy widening, and invalid input

package geofence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// moveNorth returns a latitude offset that corresponds to roughly the given
// number of meters along a meridian (1 degree of latitude ~ 111195 m on the
// sphere used by Distance).
func moveNorth(meters float64) float64 {
	return meters / (earthRadiusMeters * math.Pi / 180)
}

func TestDistance_IdenticalPointsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Distance(-6.2088, 106.8456, -6.2088, 106.8456))
}

func TestDistance_Symmetric(t *testing.T) {
	d1 := Distance(-6.2088, 106.8456, -6.1751, 106.8650)
	d2 := Distance(-6.1751, 106.8650, -6.2088, 106.8456)
	assert.InDelta(t, d1, d2, 1e-9)
	assert.Greater(t, d1, 0.0)
}

func TestDistance_KnownPair(t *testing.T) {
	// Jakarta Monas to Istiqlal Mosque, roughly 700m apart.
	d := Distance(-6.1754, 106.8272, -6.1702, 106.8310)
	assert.InDelta(t, 710, d, 60)
}

func TestEvaluate_ClosedBoundary(t *testing.T) {
	pos := Position{Latitude: -6.2 + moveNorth(100), Longitude: 106.8}
	d := Distance(pos.Latitude, pos.Longitude, -6.2, 106.8)

	// Radius exactly at the measured distance: inside (closed interval).
	fence := Fence{CenterLatitude: -6.2, CenterLongitude: 106.8, RadiusMeters: d, Strict: true}
	res, err := Evaluate(pos, fence)
	require.NoError(t, err)
	assert.True(t, res.WithinFence, "a sample exactly at the radius is inside")

	// A tenth of a meter short of the distance: outside.
	fence.RadiusMeters = d - 0.1
	res, err = Evaluate(pos, fence)
	require.NoError(t, err)
	assert.False(t, res.WithinFence)
}

func TestEvaluate_AccuracyWidensLenientFence(t *testing.T) {
	pos := Position{Latitude: -6.2 + moveNorth(120), Longitude: 106.8, AccuracyMeters: 30}

	lenient := Fence{CenterLatitude: -6.2, CenterLongitude: 106.8, RadiusMeters: 100}
	res, err := Evaluate(pos, lenient)
	require.NoError(t, err)
	assert.True(t, res.WithinFence)
	assert.Equal(t, 130.0, res.EffectiveRadiusMeters)

	strict := lenient
	strict.Strict = true
	res, err = Evaluate(pos, strict)
	require.NoError(t, err)
	assert.False(t, res.WithinFence, "strict fences ignore reported accuracy")
	assert.Equal(t, 100.0, res.EffectiveRadiusMeters)
}

func TestEvaluate_NegativeAccuracyDoesNotShrink(t *testing.T) {
	pos := Position{Latitude: -6.2 + moveNorth(90), Longitude: 106.8, AccuracyMeters: -50}
	fence := Fence{CenterLatitude: -6.2, CenterLongitude: 106.8, RadiusMeters: 100}

	res, err := Evaluate(pos, fence)
	require.NoError(t, err)
	assert.True(t, res.WithinFence)
	assert.Equal(t, 100.0, res.EffectiveRadiusMeters)
}

func TestEvaluate_DistanceRoundedToOneDecimal(t *testing.T) {
	pos := Position{Latitude: -6.2 + moveNorth(150), Longitude: 106.8}
	fence := Fence{CenterLatitude: -6.2, CenterLongitude: 106.8, RadiusMeters: 100, Strict: true}

	res, err := Evaluate(pos, fence)
	require.NoError(t, err)
	assert.Equal(t, 150.0, res.DistanceMeters)
	assert.False(t, res.WithinFence)
}

func TestEvaluate_InvalidCoordinates(t *testing.T) {
	fence := Fence{CenterLatitude: -6.2, CenterLongitude: 106.8, RadiusMeters: 100}

	cases := []struct {
		name string
		pos  Position
	}{
		{"nan latitude", Position{Latitude: math.NaN(), Longitude: 106.8}},
		{"inf longitude", Position{Latitude: -6.2, Longitude: math.Inf(1)}},
		{"latitude too large", Position{Latitude: 91, Longitude: 106.8}},
		{"longitude too small", Position{Latitude: -6.2, Longitude: -181}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Evaluate(tc.pos, fence)
			var ipe *InvalidPositionError
			require.ErrorAs(t, err, &ipe)
		})
	}
}

func TestEvaluate_InvalidFenceCenter(t *testing.T) {
	pos := Position{Latitude: -6.2, Longitude: 106.8}
	_, err := Evaluate(pos, Fence{CenterLatitude: math.NaN(), CenterLongitude: 106.8, RadiusMeters: 100})
	var ipe *InvalidPositionError
	require.ErrorAs(t, err, &ipe)
}
