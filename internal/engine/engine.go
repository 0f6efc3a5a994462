// Package engine wires the fetch schedulers, clustering, motion estimation and
// route deviation onto a single event loop and exposes them through a
// goroutine-safe API.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/cluster"
	"github.com/couchcryptid/hazard-sync/internal/config"
	"github.com/couchcryptid/hazard-sync/internal/deviation"
	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/motion"
	"github.com/couchcryptid/hazard-sync/internal/observability"
	"github.com/couchcryptid/hazard-sync/internal/ratelimit"
	"github.com/couchcryptid/hazard-sync/internal/scheduler"
)

var (
	// ErrNoFix is returned when a route is requested before any position sample.
	ErrNoFix = errors.New("no position fix")

	// ErrRoutingDisabled is returned when no route planner is configured.
	ErrRoutingDisabled = errors.New("routing disabled")

	// ErrSourceDisabled is returned for a known source with no configured feed.
	ErrSourceDisabled = errors.New("data source disabled")

	// ErrSuperseded is returned when a newer route request replaced this one
	// while it was being planned.
	ErrSuperseded = errors.New("route request superseded")
)

// Publisher sends serialized events downstream.
type Publisher interface {
	Publish(ctx context.Context, events []domain.OutboundEvent) error
}

// Config tunes the engine and its components.
type Config struct {
	Sources            []scheduler.Config
	ClusterRadius      float64
	Motion             motion.Config
	AnimationFactor    float64
	FrameInterval      time.Duration
	StaleCheckInterval time.Duration
	Deviation          deviation.Config
	PlanTimeout        time.Duration
	PublishTimeout     time.Duration
}

// FromConfig builds engine settings from service configuration. Sources
// without a feed URL are left out.
func FromConfig(cfg *config.Config) Config {
	mc := motion.DefaultConfig()
	mc.StaleAfter = cfg.LocationStale

	out := Config{
		ClusterRadius:      cfg.ClusterRadius,
		Motion:             mc,
		AnimationFactor:    cfg.AnimationFactor,
		FrameInterval:      cfg.FrameInterval,
		StaleCheckInterval: 5 * time.Second,
		Deviation: deviation.Config{
			Threshold: cfg.DeviationThreshold,
			Cooldown:  cfg.RerouteCooldown,
			Debounce:  cfg.DeviationDebounce,
		},
		PlanTimeout:    cfg.MapboxTimeout,
		PublishTimeout: 5 * time.Second,
	}
	for _, src := range domain.Sources {
		sc, ok := cfg.Sources[src]
		if !ok || !sc.Enabled() {
			continue
		}
		out.Sources = append(out.Sources, scheduler.Config{
			Source:            src,
			Debounce:          sc.Debounce,
			RefreshInterval:   sc.RefreshInterval,
			MinZoom:           sc.MinZoom,
			BufferMultiplier:  sc.BufferMultiplier,
			MovementThreshold: sc.MovementThreshold,
			TTL:               sc.TTL,
			Capacity:          sc.Capacity,
			FetchTimeout:      sc.FetchTimeout,
			Limit: ratelimit.Policy{
				PerMinute: sc.PerMinute,
				BaseDelay: sc.BaseDelay,
				MaxDelay:  sc.MaxDelay,
			},
		})
	}
	return out
}

// Engine owns every piece of synchronization state. Unexported methods run on
// the loop; exported ones hop onto it.
type Engine struct {
	cfg       Config
	loop      *loop.Loop
	planner   domain.RoutePlanner
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ctx       context.Context

	schedulers map[domain.Source]*scheduler.Scheduler
	clusters   map[domain.Source]domain.ClusterSnapshot

	viewport    domain.Viewport
	hasViewport bool

	estimator *motion.Estimator
	animator  *motion.Animator
	frame     *loop.Timer
	stale     *loop.Timer

	detector       *deviation.Detector
	routes         []domain.Route
	destination    orb.Point
	hasDestination bool
	planSeq        uint64
}

// New creates an Engine. providers must hold one entry per configured
// source; planner and publisher may be nil.
func New(cfg Config, l *loop.Loop, providers map[domain.Source]domain.Provider, planner domain.RoutePlanner, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	e := &Engine{
		cfg:        cfg,
		loop:       l,
		planner:    planner,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		ctx:        context.Background(),
		schedulers: make(map[domain.Source]*scheduler.Scheduler, len(cfg.Sources)),
		clusters:   make(map[domain.Source]domain.ClusterSnapshot, len(cfg.Sources)),
		estimator:  motion.NewEstimator(cfg.Motion),
		animator:   motion.NewAnimator(cfg.AnimationFactor),
	}
	for _, sc := range cfg.Sources {
		p, ok := providers[sc.Source]
		if !ok {
			logger.Warn("no provider for source, skipping", "source", string(sc.Source))
			continue
		}
		e.schedulers[sc.Source] = scheduler.New(sc, l, p, e.onSourceUpdate, logger, metrics)
	}
	e.detector = deviation.New(cfg.Deviation, l, e.onDeviation, logger, metrics)
	return e
}

// Run starts the schedulers and timers and processes events until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.loop.Post(func() { e.start(ctx) })
	err := e.loop.Run(ctx)
	e.stop()
	return err
}

func (e *Engine) start(ctx context.Context) {
	e.ctx = ctx
	for _, src := range domain.Sources {
		if s, ok := e.schedulers[src]; ok {
			s.Start(ctx)
		}
	}
	e.armStaleCheck()
	e.logger.Info("engine started", "sources", len(e.schedulers), "routing", e.planner != nil)
}

func (e *Engine) stop() {
	for _, s := range e.schedulers {
		s.Stop()
	}
	e.frame.Stop()
	e.stale.Stop()
	e.logger.Info("engine stopped")
}

// setViewport hands the viewport to every scheduler.
func (e *Engine) setViewport(v domain.Viewport) {
	e.viewport = v
	e.hasViewport = true
	for _, s := range e.schedulers {
		s.ViewportChanged(v)
	}
}

// onSourceUpdate clusters a newly visible record set and publishes it.
func (e *Engine) onSourceUpdate(u scheduler.Update) {
	snap := domain.ClusterSnapshot{
		Source:      u.Source,
		Viewport:    u.Viewport,
		Clusters:    cluster.Cluster(u.Records, e.cfg.ClusterRadius),
		RecordCount: len(u.Records),
		Stale:       u.Stale(),
		UpdatedAt:   u.At,
	}
	e.clusters[u.Source] = snap

	ev, err := domain.NewClustersUpdatedEvent(snap, u.At)
	if err != nil {
		e.logger.Error("encode cluster snapshot", "error", err, "source", string(u.Source))
		return
	}
	e.publish(ev)
}

// pushSample folds a sample into the motion state and route tracking.
func (e *Engine) pushSample(s domain.PositionSample) error {
	state, err := e.estimator.Update(s)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, domain.ErrOutOfOrder) {
			reason = "out_of_order"
		}
		e.metrics.SamplesRejected.WithLabelValues(reason).Inc()
		return err
	}
	e.animator.SetTarget(state.LastRawPosition, state.SmoothedHeading)
	e.armFrame()
	e.detector.Update(state.LastRawPosition)
	return nil
}

func (e *Engine) armFrame() {
	if e.frame != nil || e.animator.Settled() {
		return
	}
	e.frame = e.loop.AfterFunc(e.cfg.FrameInterval, func() {
		e.frame = nil
		if e.animator.Step() {
			e.armFrame()
		}
	})
}

func (e *Engine) armStaleCheck() {
	if e.cfg.StaleCheckInterval <= 0 {
		return
	}
	e.stale = e.loop.AfterFunc(e.cfg.StaleCheckInterval, func() {
		if e.estimator.CheckStale(e.loop.Clock().Now()) {
			st := e.estimator.State()
			e.logger.Warn("location stream stale", "last_sample_at", st.LastSampleAt)
		}
		e.armStaleCheck()
	})
}

// publish sends events off the loop. Failures are counted and logged; the
// map state is unaffected.
func (e *Engine) publish(events ...domain.OutboundEvent) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	ctx, pub, timeout := e.ctx, e.publisher, e.cfg.PublishTimeout
	metrics, logger := e.metrics, e.logger
	e.loop.Go(func() func() {
		pctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := pub.Publish(pctx, events); err != nil {
			metrics.PublishErrors.Inc()
			logger.Warn("publish failed", "error", err, "count", len(events))
			return nil
		}
		for _, ev := range events {
			metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
		}
		return nil
	})
}
