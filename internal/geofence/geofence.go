// Package geofence verifies that a terminal position lies inside a circular zone
// around a target coordinate.
package geofence

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/attendance-terminal/internal/constants"
)

// ErrLocationUnavailable is returned when no position could be obtained
// (permission denied, timeout, source failure).
var ErrLocationUnavailable = errors.New("location unavailable")

// Point is a coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Position is a measured location with its accuracy radius in meters.
type Position struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// Point drops the accuracy.
func (p Position) Point() Point {
	return Point{Lat: p.Lat, Lng: p.Lng}
}

// Verification is a passed geofence check.
type Verification struct {
	Position Position
	Target   Point
	Distance float64
	Radius   float64
}

// OutOfRangeError reports a position outside the allowed radius.
type OutOfRangeError struct {
	Distance float64
	Radius   float64
	Position Position
	Target   Point
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("Attendance Rejected: You are %.0fm away. (Allowed: %gm)\nYour Loc: %.6f, %.6f\nTarget: %g, %g",
		e.Distance, e.Radius, e.Position.Lat, e.Position.Lng, e.Target.Lat, e.Target.Lng)
}

// Distance returns the great-circle distance in meters between two points
// using the haversine formula on a spherical Earth.
func Distance(a, b Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return constants.EarthRadiusMeters * c
}

// Verify checks pos against a circle of radiusMeters around target.
// A distance equal to the radius is accepted.
func Verify(pos Position, target Point, radiusMeters float64) (*Verification, error) {
	d := Distance(pos.Point(), target)
	if d > radiusMeters {
		return nil, &OutOfRangeError{Distance: d, Radius: radiusMeters, Position: pos, Target: target}
	}
	return &Verification{Position: pos, Target: target, Distance: d, Radius: radiusMeters}, nil
}
