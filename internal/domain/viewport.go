package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrInvalidViewport is returned when a viewport's edges are not ordered or finite.
var ErrInvalidViewport = errors.New("invalid viewport")

// Viewport is the rectangular region currently visible on the map.
type Viewport struct {
	West  float64  `json:"west"`
	South float64  `json:"south"`
	East  float64  `json:"east"`
	North float64  `json:"north"`
	Zoom  *float64 `json:"zoom,omitempty"`
}

// ViewportFromBound converts an orb.Bound into a Viewport without zoom.
func ViewportFromBound(b orb.Bound) Viewport {
	return Viewport{West: b.Min.Lon(), South: b.Min.Lat(), East: b.Max.Lon(), North: b.Max.Lat()}
}

// Validate checks that all edges are finite, strictly ordered and on the globe.
func (v Viewport) Validate() error {
	for _, f := range []float64{v.West, v.South, v.East, v.North} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite edge", ErrInvalidViewport)
		}
	}
	if v.West >= v.East {
		return fmt.Errorf("%w: west %.6f must be less than east %.6f", ErrInvalidViewport, v.West, v.East)
	}
	if v.South >= v.North {
		return fmt.Errorf("%w: south %.6f must be less than north %.6f", ErrInvalidViewport, v.South, v.North)
	}
	if v.South < -90 || v.North > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidViewport)
	}
	if v.West < -180 || v.East > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidViewport)
	}
	return nil
}

// Bound returns the viewport as an orb.Bound.
func (v Viewport) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{v.West, v.South}, Max: orb.Point{v.East, v.North}}
}

// Center returns the midpoint of the viewport.
func (v Viewport) Center() orb.Point {
	return v.Bound().Center()
}

// Width and Height are in degrees.
func (v Viewport) Width() float64  { return v.East - v.West }
func (v Viewport) Height() float64 { return v.North - v.South }

// Area is in square degrees.
func (v Viewport) Area() float64 { return v.Width() * v.Height() }

// Contains reports whether other lies entirely within v.
func (v Viewport) Contains(other Viewport) bool {
	return v.West <= other.West && v.South <= other.South &&
		v.East >= other.East && v.North >= other.North
}

// Intersects reports whether v and other share any area or edge.
func (v Viewport) Intersects(other Viewport) bool {
	return v.Bound().Intersects(other.Bound())
}

// Expand scales the viewport about its center. A multiplier of 2 doubles both
// width and height, clamped to the globe. Multipliers below 1 are treated as 1.
func (v Viewport) Expand(multiplier float64) Viewport {
	if multiplier <= 1 {
		return v
	}
	padLon := v.Width() * (multiplier - 1) / 2
	padLat := v.Height() * (multiplier - 1) / 2
	out := Viewport{
		West:  math.Max(v.West-padLon, -180),
		South: math.Max(v.South-padLat, -90),
		East:  math.Min(v.East+padLon, 180),
		North: math.Min(v.North+padLat, 90),
		Zoom:  v.Zoom,
	}
	return out
}

// OverlapRatio returns the fraction of v's area that is also covered by other,
// in [0, 1].
func (v Viewport) OverlapRatio(other Viewport) float64 {
	area := v.Area()
	if area <= 0 {
		return 0
	}
	w := math.Min(v.East, other.East) - math.Max(v.West, other.West)
	h := math.Min(v.North, other.North) - math.Max(v.South, other.South)
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Min(w*h/area, 1)
}

// ZoomOrDefault returns the zoom level, or def when none was reported.
func (v Viewport) ZoomOrDefault(def float64) float64 {
	if v.Zoom == nil {
		return def
	}
	return *v.Zoom
}

// WithZoom returns a copy of v carrying the given zoom level.
func (v Viewport) WithZoom(z float64) Viewport {
	v.Zoom = &z
	return v
}

func (v Viewport) String() string {
	return fmt.Sprintf("[%.5f,%.5f,%.5f,%.5f]", v.West, v.South, v.East, v.North)
}
