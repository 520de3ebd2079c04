// Package geo holds coordinate value objects and great-circle math.
//
// Points cross the store boundary in the PostGIS text notation
// "POINT(lon lat)": longitude first, latitude second.
package geo

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// MsgInvalidPoint is the parse error message for malformed POINT text.
const MsgInvalidPoint = "Invalid POINT string format"

var pointRegex = regexp.MustCompile(`^POINT\s*\(\s*([^ ()]+)\s+([^ ()]+)\s*\)$`)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// NewPoint creates a point and validates the coordinate ranges.
func NewPoint(lng, lat float64) (Point, error) {
	p := Point{Lng: lng, Lat: lat}
	if !p.IsValid() {
		return Point{}, shared.NewValidationError("geo", "NewPoint", "coordinates out of range")
	}
	return p, nil
}

// IsValid checks longitude in [-180,180] and latitude in [-90,90].
func (p Point) IsValid() bool {
	return p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// String renders the point as "POINT(lon lat)".
func (p Point) String() string {
	return "POINT(" + strconv.FormatFloat(p.Lng, 'f', -1, 64) + " " +
		strconv.FormatFloat(p.Lat, 'f', -1, 64) + ")"
}

// ParsePoint parses "POINT(lon lat)" into a Point.
func ParsePoint(s string) (Point, error) {
	m := pointRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Point{}, shared.NewParseError("geo", "ParsePoint", MsgInvalidPoint)
	}
	lng, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Point{}, shared.NewParseError("geo", "ParsePoint", MsgInvalidPoint)
	}
	lat, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Point{}, shared.NewParseError("geo", "ParsePoint", MsgInvalidPoint)
	}
	if !isFinite(lng) || !isFinite(lat) {
		return Point{}, shared.NewParseError("geo", "ParsePoint", MsgInvalidPoint)
	}
	return Point{Lng: lng, Lat: lat}, nil
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// FallbackETAMinutes estimates travel time at a constant average speed.
func FallbackETAMinutes(distanceKm, avgSpeedKmh float64) float64 {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAverageSpeedKmh
	}
	return distanceKm / avgSpeedKmh * 60
}

// DefaultAverageSpeedKmh is the urban driving speed assumed when no traffic
// estimate is available.
const DefaultAverageSpeedKmh = 40.0

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
