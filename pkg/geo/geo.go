// Package geo converts geographic coordinates into the local metric frame
// used for form finding.
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const earthRadiusMeters = 6_371_000.0

// degToMeters converts degree-scaled equirectangular distances to meters.
const degToMeters = math.Pi / 180 * earthRadiusMeters

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Projection is an equirectangular projection centred on an origin. It is
// accurate to well under a meter across a few kilometers, which covers any
// single cable net or ropeway.
type Projection struct {
	OriginLat float64
	OriginLon float64
	cosLat    float64
}

// NewProjection returns a projection with its origin at (lat, lon).
func NewProjection(lat, lon float64) Projection {
	return Projection{OriginLat: lat, OriginLon: lon, cosLat: math.Cos(lat * math.Pi / 180)}
}

// Project maps a coordinate and elevation to local meters: X east, Y north,
// Z up.
func (p Projection) Project(lat, lon, ele float64) r3.Vec {
	return r3.Vec{
		X: (lon - p.OriginLon) * p.cosLat * degToMeters,
		Y: (lat - p.OriginLat) * degToMeters,
		Z: ele,
	}
}

// Unproject is the inverse of Project.
func (p Projection) Unproject(v r3.Vec) (lat, lon, ele float64) {
	lat = p.OriginLat + v.Y/degToMeters
	lon = p.OriginLon
	if p.cosLat != 0 {
		lon += v.X / (p.cosLat * degToMeters)
	}
	return lat, lon, v.Z
}
