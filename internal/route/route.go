// Package route holds the waypoint model and its wire encoding.
//
// A Route is an ordered list of GeoPoints: index 0 is the source, the last
// point is the destination. Routes are compared by their serialized wire
// string, never by identity.
package route

import (
	"errors"
	"fmt"
	"math"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// MinSendPoints is the smallest route that can be transmitted.
	MinSendPoints = 2

	earthRadiusKm = 6371.0
)

var (
	ErrInvalidCoordinate     = errors.New("invalid coordinate")
	ErrInsufficientWaypoints = errors.New("insufficient waypoints")
)

// GeoPoint is a WGS 84 coordinate in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point is inside the latitude/longitude bounds.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= MinLatitude && p.Lat <= MaxLatitude &&
		p.Lon >= MinLongitude && p.Lon <= MaxLongitude
}

// InvalidCoordinateError reports the first out-of-range point.
type InvalidCoordinateError struct {
	Index int
	Point GeoPoint
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("%s: waypoint %d (%v, %v) is out of range", ErrInvalidCoordinate, e.Index+1, e.Point.Lat, e.Point.Lon)
}

func (e *InvalidCoordinateError) Is(target error) bool {
	return target == ErrInvalidCoordinate
}

// Route is an immutable, validated sequence of points.
type Route struct {
	points []GeoPoint
}

// Build validates every point and returns a route. Any number of points is
// allowed here; use BuildForSend when the route is about to be transmitted.
func Build(points []GeoPoint) (Route, error) {
	for i, p := range points {
		if !p.Valid() {
			return Route{}, &InvalidCoordinateError{Index: i, Point: p}
		}
	}
	cp := make([]GeoPoint, len(points))
	copy(cp, points)
	return Route{points: cp}, nil
}

// BuildForSend is Build plus the minimum-length check required for transmission.
func BuildForSend(points []GeoPoint) (Route, error) {
	if len(points) < MinSendPoints {
		return Route{}, fmt.Errorf("%w: need at least %d, got %d", ErrInsufficientWaypoints, MinSendPoints, len(points))
	}
	return Build(points)
}

// Len returns the number of points.
func (r Route) Len() int {
	return len(r.points)
}

// Points returns a copy of the points.
func (r Route) Points() []GeoPoint {
	cp := make([]GeoPoint, len(r.points))
	copy(cp, r.points)
	return cp
}

// Source returns the first point.
func (r Route) Source() (GeoPoint, bool) {
	if len(r.points) == 0 {
		return GeoPoint{}, false
	}
	return r.points[0], true
}

// Destination returns the last point.
func (r Route) Destination() (GeoPoint, bool) {
	if len(r.points) == 0 {
		return GeoPoint{}, false
	}
	return r.points[len(r.points)-1], true
}

// Equal compares routes by their wire strings.
func (r Route) Equal(other Route) bool {
	return Serialize(r) == Serialize(other)
}

// TotalDistance sums the great-circle distance between consecutive points in
// kilometers, rounded to two decimals. Display only.
func TotalDistance(r Route) float64 {
	total := 0.0
	for i := 1; i < len(r.points); i++ {
		total += haversineKm(r.points[i-1], r.points[i])
	}
	return math.Round(total*100) / 100
}

func haversineKm(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
