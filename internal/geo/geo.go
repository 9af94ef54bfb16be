// Package geo holds the great-circle math shared by the geofence and the anomaly rules.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// ErrMalformedPoint is returned when a "lat,lon" string cannot be parsed.
var ErrMalformedPoint = errors.New("malformed coordinate pair")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Finite reports whether both coordinates are real numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) && !math.IsInf(p.Lat, 0) && !math.IsInf(p.Lon, 0)
}

// InRange reports whether the point lies within latitude [-90,90] and longitude [-180,180].
func (p Point) InRange() bool {
	return p.Finite() && p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// String renders the point in the "lat,lon" form stored on tracking records.
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

// ParseLatLon parses a "lat,lon" string.
func ParseLatLon(s string) (Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("%w: %q", ErrMalformedPoint, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q", ErrMalformedPoint, parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q", ErrMalformedPoint, parts[1])
	}
	p := Point{Lat: lat, Lon: lon}
	if !p.Finite() {
		return Point{}, fmt.Errorf("%w: %q", ErrMalformedPoint, s)
	}
	return p, nil
}

// DistanceMeters calculates the haversine distance between two points.
// Coordinates outside the valid range are used as given.
func DistanceMeters(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h just outside [0,1] for identical or antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// SpeedKmh returns the average speed needed to cover the distance between two
// points in the given number of seconds. Non-positive durations yield 0.
func SpeedKmh(a, b Point, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return (DistanceMeters(a, b) / 1000) / (seconds / 3600)
}

// Bearing calculates the initial bearing in degrees from a to b.
func Bearing(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	deltaLon := toRadians(b.Lon - a.Lon)

	y := math.Sin(deltaLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(deltaLon)

	return math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
