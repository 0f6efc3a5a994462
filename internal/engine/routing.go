package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/deviation"
	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// beginPlan records a new destination and returns the planning origin and
// sequence number.
func (e *Engine) beginPlan(dest orb.Point) (orb.Point, uint64, error) {
	if !e.estimator.HasFix() {
		return orb.Point{}, 0, ErrNoFix
	}
	e.destination = dest
	e.hasDestination = true
	e.planSeq++
	return e.estimator.State().LastRawPosition, e.planSeq, nil
}

// applyRoutes installs the best route if seq is still the latest request.
func (e *Engine) applyRoutes(seq uint64, routes []domain.Route) bool {
	if seq != e.planSeq || len(routes) == 0 {
		return false
	}
	e.routes = routes
	e.detector.SetRoute(routes[0])
	return true
}

func (e *Engine) clearRoute() {
	e.planSeq++
	e.routes = nil
	e.hasDestination = false
	e.detector.ClearRoute()
}

// onDeviation publishes a reroute request and re-plans from the vehicle's
// current position toward the same destination.
func (e *Engine) onDeviation(t deviation.Trigger) {
	if !e.hasDestination {
		e.logger.Debug("off route without destination, not re-planning", "route_id", t.RouteID)
		return
	}
	if e.planner == nil {
		return
	}

	ev := domain.RerouteEvent{
		ID:              uuid.NewString(),
		Position:        t.Position,
		Destination:     e.destination,
		DistanceMeters:  t.Distance,
		PreviousRouteID: t.RouteID,
		RequestedAt:     t.At,
	}
	if out, err := domain.NewRerouteRequestedEvent(ev, t.At); err != nil {
		e.logger.Error("encode reroute event", "error", err)
	} else {
		e.publish(out)
	}

	e.planSeq++
	seq := e.planSeq
	ctx, planner, timeout := e.ctx, e.planner, e.cfg.PlanTimeout
	origin, dest := t.Position, e.destination
	e.loop.Go(func() func() {
		pctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		routes, err := planner.Plan(pctx, origin, dest)
		return func() {
			if err != nil {
				e.logger.Warn("re-plan failed", "error", err, "reroute_id", ev.ID)
				return
			}
			if e.applyRoutes(seq, routes) {
				e.logger.Info("re-planned route", "reroute_id", ev.ID, "route_id", routes[0].ID)
			}
		}
	})
}
