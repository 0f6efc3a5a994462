// Package geo holds the stateless distance, bearing and angle primitives used
// by the scheduler, motion estimator and route deviation detector.
//
// Angles are degrees clockwise from north in [0, 360). Points are orb.Point
// values ordered (lon, lat).
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Leading terms of the WGS-84 metres-per-degree series.
const (
	metersPerDegLat = 111132.92
	metersPerDegLon = 111412.84
)

// Distance returns the great-circle distance in metres.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// Bearing returns the initial great-circle bearing from one point to another,
// normalized to [0, 360).
func Bearing(from, to orb.Point) float64 {
	return NormalizeDegrees(geo.Bearing(from, to))
}

// Destination returns the point reached by travelling dist metres from p on
// the given bearing.
func Destination(p orb.Point, bearing, dist float64) orb.Point {
	return geo.PointAtBearingAndDistance(p, bearing, dist)
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d == 360 {
		return 0
	}
	return d
}

// AngleDelta returns the signed shortest rotation from one heading to
// another, in (-180, 180].
func AngleDelta(from, to float64) float64 {
	d := NormalizeDegrees(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// LerpAngle interpolates between two headings along the shorter arc.
// t=0 yields from, t=1 yields to.
func LerpAngle(from, to, t float64) float64 {
	return NormalizeDegrees(from + AngleDelta(from, to)*t)
}

// Lerp linearly interpolates between two scalars.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpPoint linearly interpolates between two points in coordinate space.
func LerpPoint(a, b orb.Point, t float64) orb.Point {
	return orb.Point{Lerp(a[0], b[0], t), Lerp(a[1], b[1], t)}
}

// MetersPerDegree returns the local scale of one degree of longitude and
// latitude at the given latitude.
func MetersPerDegree(lat float64) (lon, latM float64) {
	r := lat * math.Pi / 180
	latM = metersPerDegLat - 559.82*math.Cos(2*r) + 1.175*math.Cos(4*r)
	lon = metersPerDegLon*math.Cos(r) - 93.5*math.Cos(3*r)
	return lon, latM
}

// project maps p into a local metric plane centred on origin.
func project(p, origin orb.Point, mLon, mLat float64) orb.Point {
	return orb.Point{(p[0] - origin[0]) * mLon, (p[1] - origin[1]) * mLat}
}

// DistanceToSegment returns the distance in metres from p to the segment a-b,
// using a planar approximation scaled at p's latitude. The projection of p is
// clamped to the segment ends.
func DistanceToSegment(p, a, b orb.Point) float64 {
	mLon, mLat := MetersPerDegree(p.Lat())
	return planar.DistanceFromSegment(
		project(a, p, mLon, mLat),
		project(b, p, mLon, mLat),
		orb.Point{},
	)
}

// DistanceToPolyline returns the minimum distance in metres from p to any
// segment of line. A single-vertex line measures to that vertex; an empty
// line returns +Inf.
func DistanceToPolyline(p orb.Point, line orb.LineString) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return DistanceToSegment(p, line[0], line[0])
	}
	best := math.Inf(1)
	for i := 0; i+1 < len(line); i++ {
		if d := DistanceToSegment(p, line[i], line[i+1]); d < best {
			best = d
		}
	}
	return best
}

// EuclideanDegrees returns the straight-line distance between two points in
// raw coordinate units. It is not a geodesic distance.
func EuclideanDegrees(a, b orb.Point) float64 {
	return planar.Distance(a, b)
}

// ValidLatLon reports whether the coordinates are finite and in range.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
