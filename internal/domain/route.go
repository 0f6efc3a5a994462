package domain

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"
)

// ErrNoRoute is returned when the planner finds no path or no route is active.
var ErrNoRoute = errors.New("no route")

// Route is one planned path. Polyline vertices are [lon, lat].
type Route struct {
	ID             string         `json:"id"`
	Polyline       orb.LineString `json:"polyline"`
	DistanceMeters float64        `json:"distance_meters"`
	Duration       time.Duration  `json:"duration"`
}

// RoutePlanner computes routes between two points. Implementations return
// candidates best first.
type RoutePlanner interface {
	Plan(ctx context.Context, origin, destination orb.Point) ([]Route, error)
}

// RerouteEvent is emitted when the vehicle left its route and a re-plan was requested.
type RerouteEvent struct {
	ID              string    `json:"id"`
	Position        orb.Point `json:"position"`
	Destination     orb.Point `json:"destination"`
	DistanceMeters  float64   `json:"distance_meters"`
	PreviousRouteID string    `json:"previous_route_id,omitempty"`
	RequestedAt     time.Time `json:"requested_at"`
}

// ClusterSnapshot is the published cluster set for one source.
type ClusterSnapshot struct {
	Source      Source    `json:"source"`
	Viewport    Viewport  `json:"viewport"`
	Clusters    []Cluster `json:"clusters"`
	RecordCount int       `json:"record_count"`
	Stale       bool      `json:"stale"` // last fetch failed; data is the last good set
	UpdatedAt   time.Time `json:"updated_at"`
}
