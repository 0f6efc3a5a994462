package deviation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/geo"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

// A north-south route through downtown Austin.
var (
	routeStart = orb.Point{-97.7431, 30.2600}
	routeEnd   = orb.Point{-97.7431, 30.2800}
	midRoute   = orb.Point{-97.7431, 30.2700}
)

type harness struct {
	clock    *clockwork.FakeClock
	loop     *loop.Loop
	detector *Detector
	metrics  *observability.Metrics
	triggers []Trigger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)),
		metrics: observability.NewMetricsForTesting(),
	}
	h.loop = loop.NewManual(h.clock)
	h.detector = New(DefaultConfig(), h.loop, func(tr Trigger) {
		h.triggers = append(h.triggers, tr)
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), h.metrics)
	h.detector.SetRoute(domain.Route{ID: "r1", Polyline: orb.LineString{routeStart, routeEnd}})
	return h
}

// at moves the vehicle to pos and lets due timers run.
func (h *harness) at(pos orb.Point) {
	h.detector.Update(pos)
	h.loop.RunDue()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.loop.RunDue()
}

func east(m float64) orb.Point {
	return geo.Destination(midRoute, 90, m)
}

func TestDetector_OnRouteIsQuiet(t *testing.T) {
	h := newHarness(t)

	h.at(east(10))
	h.advance(5 * time.Second)

	assert.False(t, h.detector.IsOffRoute())
	d, ok := h.detector.Distance()
	require.True(t, ok)
	assert.InDelta(t, 10, d, 0.5)
	assert.Empty(t, h.triggers)
}

func TestDetector_SustainedDeviationTriggersOnce(t *testing.T) {
	h := newHarness(t)

	h.at(east(51))
	assert.True(t, h.detector.IsOffRoute())

	h.advance(999 * time.Millisecond)
	assert.Empty(t, h.triggers, "debounce has not elapsed")

	h.at(east(52))
	h.advance(time.Millisecond)
	require.Len(t, h.triggers, 1)
	assert.Equal(t, "r1", h.triggers[0].RouteID)
	assert.InDelta(t, 52, h.triggers[0].Distance, 0.5, "confirmation re-reads the latest position")
	assert.Equal(t, h.clock.Now(), h.triggers[0].At)

	// Still off route for the rest of the cooldown.
	for range 8 {
		h.at(east(60))
		h.advance(500 * time.Millisecond)
	}
	assert.Len(t, h.triggers, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Reroutes), 1e-9)
}

func TestDetector_ReturnBeforeDebounceCancels(t *testing.T) {
	h := newHarness(t)

	h.at(east(51))
	h.advance(500 * time.Millisecond)
	h.at(east(10))
	h.advance(2 * time.Second)

	assert.Empty(t, h.triggers)
	assert.False(t, h.detector.IsOffRoute())
	_, timers := h.loop.Pending()
	assert.Zero(t, timers)
}

func TestDetector_CooldownSuppressesSecondTrigger(t *testing.T) {
	h := newHarness(t)

	h.at(east(80))
	h.advance(time.Second)
	require.Len(t, h.triggers, 1)

	// Back on route briefly, then off again well inside the cooldown.
	h.advance(500 * time.Millisecond)
	h.at(east(5))
	h.advance(500 * time.Millisecond)
	h.at(east(80))
	h.advance(time.Second)
	assert.Len(t, h.triggers, 1)

	// Once the cooldown has passed a fresh deviation is honoured.
	h.advance(3 * time.Second)
	h.at(east(80))
	h.advance(time.Second)
	assert.Len(t, h.triggers, 2)
}

func TestDetector_ClearRouteCancelsPending(t *testing.T) {
	h := newHarness(t)

	h.at(east(80))
	h.detector.ClearRoute()
	h.advance(2 * time.Second)

	assert.Empty(t, h.triggers)
	_, ok := h.detector.Distance()
	assert.False(t, ok)
	_, ok = h.detector.Route()
	assert.False(t, ok)
}

func TestDetector_SetRouteRemeasuresLastPosition(t *testing.T) {
	h := newHarness(t)

	h.at(east(80))
	h.detector.SetRoute(domain.Route{ID: "r2", Polyline: orb.LineString{
		geo.Destination(routeStart, 90, 80),
		geo.Destination(routeEnd, 90, 80),
	}})
	h.advance(2 * time.Second)

	assert.False(t, h.detector.IsOffRoute())
	assert.Empty(t, h.triggers)
}

func TestDetector_NoRouteNoTracking(t *testing.T) {
	h := newHarness(t)
	h.detector.ClearRoute()

	h.at(east(500))
	h.advance(5 * time.Second)

	assert.False(t, h.detector.IsOffRoute())
	assert.Empty(t, h.triggers)
}
