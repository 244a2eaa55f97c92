// Package geofence validates punch locations against a company's registered
// circular boundary.
package geofence

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000

// Point is a location in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Fence is a circular allowed area around a company's registered center.
type Fence struct {
	Center       Point
	RadiusMeters float64
}

// ViolationError reports a location outside the allowed boundary.
type ViolationError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("outside allowed location (distance %.0fm > %.0fm)", e.DistanceMeters, e.RadiusMeters)
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Validate checks loc against fence. A nil fence means the company has no
// geofence configured and always passes. The boundary is inclusive: a distance
// exactly equal to the radius passes.
func Validate(loc Point, fence *Fence) error {
	if fence == nil {
		return nil
	}
	dist := Haversine(loc.Lat, loc.Lng, fence.Center.Lat, fence.Center.Lng)
	if dist > fence.RadiusMeters {
		return &ViolationError{DistanceMeters: dist, RadiusMeters: fence.RadiusMeters}
	}
	return nil
}
