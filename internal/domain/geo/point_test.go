package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

func TestParsePoint_LongitudeFirst(t *testing.T) {
	p, err := ParsePoint("POINT(-74.0060 40.7128)")
	require.NoError(t, err)
	assert.Equal(t, -74.0060, p.Lng)
	assert.Equal(t, 40.7128, p.Lat)

	p, err = ParsePoint("POINT(77.2090 28.6139)")
	require.NoError(t, err)
	assert.Equal(t, 77.2090, p.Lng)
	assert.Equal(t, 28.6139, p.Lat)
}

func TestParsePoint_Invalid(t *testing.T) {
	for _, in := range []string{"", "-74.0060 40.7128", "POINT -74 40", "POINT(abc 40)", "POINT(1)", "LINESTRING(1 2)",
		"POINT(NaN NaN)", "POINT(Inf 0)", "POINT(0 -Inf)", "POINT(+Inf nan)"} {
		_, err := ParsePoint(in)
		require.Error(t, err, in)
		assert.True(t, shared.IsParse(err), in)
		assert.Equal(t, MsgInvalidPoint, shared.Message(err))
	}
}

func TestPoint_StringRoundTrip(t *testing.T) {
	p := Point{Lng: -74.006, Lat: 40.7128}
	assert.Equal(t, "POINT(-74.006 40.7128)", p.String())

	back, err := ParsePoint(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestHaversineKm(t *testing.T) {
	nyc := Point{Lng: -74.0060, Lat: 40.7128}
	la := Point{Lng: -118.2437, Lat: 34.0522}

	assert.InDelta(t, 0, HaversineKm(nyc, nyc), 1e-9)
	assert.InDelta(t, 3936, HaversineKm(nyc, la), 5)
	assert.InDelta(t, HaversineKm(nyc, la), HaversineKm(la, nyc), 1e-9)

	// one degree of latitude along a meridian
	assert.InDelta(t, 111.19, HaversineKm(Point{0, 0}, Point{0, 1}), 0.01)
}

func TestFallbackETAMinutes(t *testing.T) {
	assert.InDelta(t, 15, FallbackETAMinutes(10, 40), 1e-9)
	assert.InDelta(t, 15, FallbackETAMinutes(10, 0), 1e-9)
}

func TestNewPoint_Range(t *testing.T) {
	_, err := NewPoint(200, 0)
	assert.True(t, shared.IsValidation(err))

	p, err := NewPoint(76.9, 43.2)
	require.NoError(t, err)
	assert.Equal(t, 43.2, p.Lat)
}
