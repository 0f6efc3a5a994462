package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/scheduler"
)

// MotionView is the motion state plus the animated display marker.
type MotionView struct {
	HasFix         bool               `json:"has_fix"`
	State          domain.MotionState `json:"state"`
	Display        orb.Point          `json:"display_position"`
	DisplayHeading float64            `json:"display_heading"`
}

// RouteView describes the active route and the vehicle's distance from it.
type RouteView struct {
	Active         *domain.Route  `json:"active,omitempty"`
	Alternatives   []domain.Route `json:"alternatives,omitempty"`
	Destination    *orb.Point     `json:"destination,omitempty"`
	OffRoute       bool           `json:"off_route"`
	DistanceMeters *float64       `json:"distance_meters,omitempty"`
	LastRerouteAt  *time.Time     `json:"last_reroute_at,omitempty"`
}

// SetViewport validates v and forwards it to every source scheduler.
func (e *Engine) SetViewport(ctx context.Context, v domain.Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return e.loop.Call(ctx, func() { e.setViewport(v) })
}

// PushSample feeds one location sample. Rejected samples return
// domain.ErrInvalidSample or domain.ErrOutOfOrder and leave state unchanged.
func (e *Engine) PushSample(ctx context.Context, s domain.PositionSample) error {
	var sampleErr error
	if err := e.loop.Call(ctx, func() { sampleErr = e.pushSample(s) }); err != nil {
		return err
	}
	return sampleErr
}

// LoadSamples feeds samples in order in a single loop hop. The returned slice
// holds the rejection error for each sample, nil when accepted. err is set
// only when the loop could not be reached.
func (e *Engine) LoadSamples(ctx context.Context, samples []domain.PositionSample) ([]error, error) {
	results := make([]error, len(samples))
	err := e.loop.Call(ctx, func() {
		for i, s := range samples {
			results[i] = e.pushSample(s)
		}
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Records returns the record set currently shown for source.
func (e *Engine) Records(ctx context.Context, source domain.Source) (scheduler.Update, error) {
	var (
		u       scheduler.Update
		enabled bool
	)
	err := e.loop.Call(ctx, func() {
		s, ok := e.schedulers[source]
		if !ok {
			return
		}
		enabled = true
		u, _ = s.Snapshot()
		u.Records = slices.Clone(u.Records)
	})
	if err != nil {
		return scheduler.Update{}, err
	}
	if !enabled {
		return scheduler.Update{}, fmt.Errorf("%w: %s", ErrSourceDisabled, source)
	}
	if u.Records == nil {
		u.Records = []domain.PointRecord{}
	}
	u.Source = source
	return u, nil
}

// Clusters returns the latest cluster snapshot for source.
func (e *Engine) Clusters(ctx context.Context, source domain.Source) (domain.ClusterSnapshot, error) {
	var (
		snap    domain.ClusterSnapshot
		enabled bool
	)
	err := e.loop.Call(ctx, func() {
		if _, ok := e.schedulers[source]; !ok {
			return
		}
		enabled = true
		snap = e.clusters[source]
		snap.Clusters = slices.Clone(snap.Clusters)
	})
	if err != nil {
		return domain.ClusterSnapshot{}, err
	}
	if !enabled {
		return domain.ClusterSnapshot{}, fmt.Errorf("%w: %s", ErrSourceDisabled, source)
	}
	if snap.Clusters == nil {
		snap.Clusters = []domain.Cluster{}
	}
	snap.Source = source
	return snap, nil
}

// Motion returns the current motion state and display marker.
func (e *Engine) Motion(ctx context.Context) (MotionView, error) {
	var mv MotionView
	err := e.loop.Call(ctx, func() { mv = e.motionView() })
	return mv, err
}

func (e *Engine) motionView() MotionView {
	pos, heading := e.animator.Display()
	return MotionView{
		HasFix:         e.estimator.HasFix(),
		State:          e.estimator.State(),
		Display:        pos,
		DisplayHeading: heading,
	}
}

// Route returns the active route state.
func (e *Engine) Route(ctx context.Context) (RouteView, error) {
	var rv RouteView
	err := e.loop.Call(ctx, func() { rv = e.routeView() })
	return rv, err
}

func (e *Engine) routeView() RouteView {
	var rv RouteView
	if r, ok := e.detector.Route(); ok {
		rv.Active = &r
	}
	if len(e.routes) > 1 {
		rv.Alternatives = slices.Clone(e.routes[1:])
	}
	if e.hasDestination {
		d := e.destination
		rv.Destination = &d
	}
	rv.OffRoute = e.detector.IsOffRoute()
	if d, ok := e.detector.Distance(); ok && rv.Active != nil {
		rv.DistanceMeters = &d
	}
	if at := e.detector.LastRerouteAt(); !at.IsZero() {
		rv.LastRerouteAt = &at
	}
	return rv
}

// RequestRoute plans from the current position to destination and makes the
// best candidate the active route. Planning runs on the caller's goroutine.
func (e *Engine) RequestRoute(ctx context.Context, destination orb.Point) (RouteView, error) {
	if e.planner == nil {
		return RouteView{}, ErrRoutingDisabled
	}

	var (
		origin  orb.Point
		seq     uint64
		planErr error
	)
	if err := e.loop.Call(ctx, func() { origin, seq, planErr = e.beginPlan(destination) }); err != nil {
		return RouteView{}, err
	}
	if planErr != nil {
		return RouteView{}, planErr
	}

	routes, err := e.planner.Plan(ctx, origin, destination)
	if err != nil {
		return RouteView{}, fmt.Errorf("plan route: %w", err)
	}
	if len(routes) == 0 {
		return RouteView{}, domain.ErrNoRoute
	}

	var (
		applied bool
		rv      RouteView
	)
	if err := e.loop.Call(ctx, func() {
		applied = e.applyRoutes(seq, routes)
		rv = e.routeView()
	}); err != nil {
		return RouteView{}, err
	}
	if !applied {
		return RouteView{}, ErrSuperseded
	}
	return rv, nil
}

// ClearRoute stops route tracking and drops any in-flight plan.
func (e *Engine) ClearRoute(ctx context.Context) error {
	return e.loop.Call(ctx, e.clearRoute)
}

// RefreshSource forces a re-evaluation of source, bypassing the cache and
// movement checks but not the rate limiter.
func (e *Engine) RefreshSource(ctx context.Context, source domain.Source) error {
	enabled := false
	err := e.loop.Call(ctx, func() {
		if s, ok := e.schedulers[source]; ok {
			enabled = true
			s.Refresh()
		}
	})
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("%w: %s", ErrSourceDisabled, source)
	}
	return nil
}

// CheckReadiness reports whether the event loop is processing work.
func (e *Engine) CheckReadiness(ctx context.Context) error {
	if err := e.loop.Call(ctx, func() {}); err != nil {
		return fmt.Errorf("event loop unresponsive: %w", err)
	}
	return nil
}
