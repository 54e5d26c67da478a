package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const (
	EarthRadiusMeters = 6371000.0
	EarthRadiusKm     = 6371.0
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lng)
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusMeters
}

func DistanceKm(a, b Point) float64 {
	return DistanceMeters(a, b) / 1000
}

// MinDistanceKm returns the distance from p to the nearest point in route.
// ok is false for an empty route.
func MinDistanceKm(p Point, route []Point) (minKm float64, ok bool) {
	if len(route) == 0 {
		return 0, false
	}
	minKm = math.Inf(1)
	for _, wp := range route {
		if d := DistanceKm(p, wp); d < minKm {
			minKm = d
		}
	}
	return minKm, true
}

// Circle is a circular region such as a geofence.
type Circle struct {
	Center  Point
	RadiusM float64
}

func (c Circle) Contains(p Point) bool {
	cap := s2.CapFromCenterAngle(
		s2.PointFromLatLng(c.Center.latLng()),
		s1.Angle(c.RadiusM/EarthRadiusMeters),
	)
	return cap.ContainsPoint(s2.PointFromLatLng(p.latLng()))
}
