// Package deviation watches the vehicle position against the active route and
// requests a re-plan when the vehicle has clearly left it.
package deviation

import (
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/geo"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

// Config tunes the detector.
type Config struct {
	Threshold float64       // metres from the polyline before the vehicle counts as off route
	Cooldown  time.Duration // minimum spacing between re-plan requests
	Debounce  time.Duration // how long the vehicle must stay off route
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Threshold: 50,
		Cooldown:  5 * time.Second,
		Debounce:  time.Second,
	}
}

// Trigger describes a confirmed deviation.
type Trigger struct {
	Position orb.Point
	Distance float64
	RouteID  string
	At       time.Time
}

// Detector tracks distance to the active route. All methods must be called on
// the owning loop.
type Detector struct {
	cfg       Config
	loop      *loop.Loop
	onReroute func(Trigger)
	logger    *slog.Logger
	metrics   *observability.Metrics

	route         *domain.Route
	position      orb.Point
	hasPosition   bool
	distance      float64
	offRoute      bool
	lastRerouteAt time.Time
	pending       *loop.Timer
}

// New creates a Detector. onReroute runs on the loop each time a deviation is
// confirmed.
func New(cfg Config, l *loop.Loop, onReroute func(Trigger), logger *slog.Logger, metrics *observability.Metrics) *Detector {
	return &Detector{
		cfg:       cfg,
		loop:      l,
		onReroute: onReroute,
		logger:    logger,
		metrics:   metrics,
		distance:  math.Inf(1),
	}
}

// SetRoute replaces the active route and re-measures the last known position
// against it.
func (d *Detector) SetRoute(r domain.Route) {
	d.cancelPending()
	d.route = &r
	d.offRoute = false
	d.distance = math.Inf(1)
	d.logger.Info("route set", "route_id", r.ID, "vertices", len(r.Polyline))
	if d.hasPosition {
		d.Update(d.position)
	}
}

// ClearRoute stops tracking. Any pending confirmation is cancelled.
func (d *Detector) ClearRoute() {
	d.cancelPending()
	d.route = nil
	d.offRoute = false
	d.distance = math.Inf(1)
	d.metrics.OffRoute.Set(0)
}

// Route returns the active route.
func (d *Detector) Route() (domain.Route, bool) {
	if d.route == nil {
		return domain.Route{}, false
	}
	return *d.route, true
}

// Update records the latest vehicle position and re-evaluates deviation.
func (d *Detector) Update(pos orb.Point) {
	d.position = pos
	d.hasPosition = true
	if d.route == nil {
		return
	}

	d.distance = geo.DistanceToPolyline(pos, d.route.Polyline)
	d.offRoute = d.distance > d.cfg.Threshold
	if !d.offRoute {
		d.metrics.OffRoute.Set(0)
		d.cancelPending()
		return
	}
	d.metrics.OffRoute.Set(1)

	if d.inCooldown() || d.pending != nil {
		return
	}
	d.pending = d.loop.AfterFunc(d.cfg.Debounce, d.confirm)
}

// IsOffRoute reports whether the last position was beyond the threshold.
func (d *Detector) IsOffRoute() bool { return d.offRoute }

// Distance returns the last measured distance to the route in metres, and
// false when no route or position is known.
func (d *Detector) Distance() (float64, bool) {
	if d.route == nil || !d.hasPosition {
		return 0, false
	}
	return d.distance, true
}

// LastRerouteAt returns when the last re-plan was requested.
func (d *Detector) LastRerouteAt() time.Time { return d.lastRerouteAt }

func (d *Detector) confirm() {
	d.pending = nil
	if d.route == nil || !d.hasPosition {
		return
	}

	dist := geo.DistanceToPolyline(d.position, d.route.Polyline)
	if dist <= d.cfg.Threshold || d.inCooldown() {
		return
	}

	now := d.loop.Clock().Now()
	d.lastRerouteAt = now
	d.metrics.Reroutes.Inc()
	d.logger.Info("route deviation confirmed",
		"route_id", d.route.ID,
		"distance_m", math.Round(dist),
		"lat", d.position.Lat(),
		"lon", d.position.Lon(),
	)
	if d.onReroute != nil {
		d.onReroute(Trigger{Position: d.position, Distance: dist, RouteID: d.route.ID, At: now})
	}
}

func (d *Detector) inCooldown() bool {
	if d.lastRerouteAt.IsZero() {
		return false
	}
	return d.loop.Clock().Now().Sub(d.lastRerouteAt) < d.cfg.Cooldown
}

func (d *Detector) cancelPending() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}
