// Package scheduler bridges viewport changes to provider fetches for one data
// source, going through the tile cache and rate limiter so the network is
// touched only when the visible area is not already covered.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/observability"
	"github.com/couchcryptid/hazard-sync/internal/ratelimit"
	"github.com/couchcryptid/hazard-sync/internal/tilecache"
)

// Skip reasons, used as metric labels.
const (
	SkipZoom      = "zoom"
	SkipCacheHit  = "cache_hit"
	SkipMovement  = "movement"
	SkipRateLimit = "rate_limit"
)

// Config tunes one source's scheduler.
type Config struct {
	Source   domain.Source
	Debounce time.Duration
	// RefreshInterval re-evaluates the current viewport with force set.
	// Zero disables periodic refresh.
	RefreshInterval time.Duration
	MinZoom         float64
	// BufferMultiplier scales the requested rectangle around the viewport.
	BufferMultiplier float64
	// MovementThreshold is the fraction of the viewport that must be newly
	// exposed, relative to the last request, before a new fetch is worth it.
	MovementThreshold float64
	TTL               time.Duration
	Capacity          int
	FetchTimeout      time.Duration
	Limit             ratelimit.Policy
}

// Update is a published record set for one source.
type Update struct {
	Source    domain.Source
	Viewport  domain.Viewport
	Records   []domain.PointRecord
	Err       error // set while the latest fetch failed; Records are the last good set
	FromCache bool
	At        time.Time
}

// Stale reports whether the update carries the last good set after a failure.
func (u Update) Stale() bool { return u.Err != nil }

// Scheduler drives fetches for a single source. All methods must run on the
// owning loop.
type Scheduler struct {
	cfg      Config
	loop     *loop.Loop
	provider domain.Provider
	publish  func(Update)
	logger   *slog.Logger
	metrics  *observability.Metrics

	cache   *tilecache.Cache
	limiter *ratelimit.Limiter
	ctx     context.Context

	latest      domain.Viewport
	hasViewport bool
	debounce    *loop.Timer
	refresh     *loop.Timer

	// The last viewport a successful fetch was made for.
	lastRequested   domain.Viewport
	lastRequestedAt time.Time
	hasRequested    bool

	evalSeq      uint64
	publishedSeq uint64
	current      Update
	hasCurrent   bool
	lastErr      error
	inFlight     int

	skipLog rate.Sometimes
}

// New creates a Scheduler. publish is invoked on the loop for every record
// set made visible.
func New(cfg Config, l *loop.Loop, provider domain.Provider, publish func(Update), logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if cfg.BufferMultiplier < 1 {
		cfg.BufferMultiplier = 1
	}
	return &Scheduler{
		cfg:      cfg,
		loop:     l,
		provider: provider,
		publish:  publish,
		logger:   logger.With("source", string(cfg.Source)),
		metrics:  metrics,
		cache:    tilecache.New(cfg.TTL, cfg.Capacity, l.Clock()),
		limiter:  ratelimit.New(cfg.Limit, l.Clock()),
		ctx:      context.Background(),
		skipLog:  rate.Sometimes{Interval: 30 * time.Second},
	}
}

// Start arms the periodic refresh. Fetches issued afterwards use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.armRefresh()
}

// Stop cancels pending timers. In-flight fetches still complete into the cache.
func (s *Scheduler) Stop() {
	s.debounce.Stop()
	s.debounce = nil
	s.refresh.Stop()
	s.refresh = nil
}

// ViewportChanged stores v as the latest viewport and restarts the debounce.
func (s *Scheduler) ViewportChanged(v domain.Viewport) {
	s.latest = v
	s.hasViewport = true
	s.debounce.Stop()
	s.debounce = s.loop.AfterFunc(s.cfg.Debounce, func() {
		s.debounce = nil
		s.evaluate(false)
	})
}

// Refresh re-evaluates the latest viewport immediately with force set.
func (s *Scheduler) Refresh() { s.evaluate(true) }

// Snapshot returns the last published update.
func (s *Scheduler) Snapshot() (Update, bool) { return s.current, s.hasCurrent }

// Limiter exposes the source's rate limiter.
func (s *Scheduler) Limiter() *ratelimit.Limiter { return s.limiter }

// Cache exposes the source's tile cache.
func (s *Scheduler) Cache() *tilecache.Cache { return s.cache }

// InFlight returns the number of fetches awaiting completion.
func (s *Scheduler) InFlight() int { return s.inFlight }

func (s *Scheduler) armRefresh() {
	if s.cfg.RefreshInterval <= 0 {
		return
	}
	s.refresh = s.loop.AfterFunc(s.cfg.RefreshInterval, func() {
		s.evaluate(true)
		s.armRefresh()
	})
}

// evaluate decides, for the viewport current at fire time, whether to serve
// from cache, skip, or fetch.
func (s *Scheduler) evaluate(force bool) {
	if !s.hasViewport {
		return
	}
	v := s.latest
	s.evalSeq++
	seq := s.evalSeq

	if v.ZoomOrDefault(s.cfg.MinZoom) < s.cfg.MinZoom {
		s.skip(SkipZoom, v)
		return
	}

	if !force {
		if _, ok := s.cache.LookupCovering(v); ok {
			s.skip(SkipCacheHit, v)
			s.emit(seq, v, s.cache.MergeOverlapping(v), true)
			return
		}
		if s.insufficientMovement(v) {
			s.skip(SkipMovement, v)
			s.emit(seq, v, s.cache.MergeOverlapping(v), true)
			return
		}
	}

	if !s.limiter.CanProceed() {
		s.skip(SkipRateLimit, v)
		return
	}

	s.fetch(seq, v)
}

func (s *Scheduler) insufficientMovement(v domain.Viewport) bool {
	if !s.hasRequested || !s.cache.Fresh(s.lastRequestedAt) {
		return false
	}
	exposed := 1 - v.OverlapRatio(s.lastRequested)
	return exposed < s.cfg.MovementThreshold
}

func (s *Scheduler) fetch(seq uint64, v domain.Viewport) {
	bounds := v.Expand(s.cfg.BufferMultiplier)
	s.limiter.RecordAttempt()
	s.inFlight++

	clock := s.loop.Clock()
	ctx := s.ctx
	timeout := s.cfg.FetchTimeout
	provider := s.provider
	source := string(s.cfg.Source)
	durations := s.metrics.FetchDuration

	s.logger.Debug("fetching", "viewport", v.String(), "bounds", bounds.String())
	s.loop.Go(func() func() {
		fctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := clock.Now()
		res := provider.Fetch(fctx, bounds)
		durations.WithLabelValues(source).Observe(clock.Since(start).Seconds())
		return func() { s.complete(seq, v, bounds, res) }
	})
}

// complete handles a provider result on the loop.
func (s *Scheduler) complete(seq uint64, v, bounds domain.Viewport, res domain.FetchResult) {
	s.inFlight--
	source := string(s.cfg.Source)

	switch r := res.(type) {
	case domain.FetchSuccess:
		now := s.loop.Clock().Now()
		records := r.Records
		if records == nil {
			records = []domain.PointRecord{}
		}
		s.cache.Insert(tilecache.Tile{Bounds: bounds, Records: records, FetchedAt: now})
		s.limiter.RecordSuccess()
		s.lastErr = nil
		s.metrics.FetchRequests.WithLabelValues(source, "success").Inc()
		s.metrics.CachedTiles.WithLabelValues(source).Set(float64(s.cache.Len()))
		if seq >= s.publishedSeq {
			s.lastRequested = v
			s.lastRequestedAt = now
			s.hasRequested = true
			s.emit(seq, v, s.cache.MergeOverlapping(v), false)
		} else {
			s.logger.Debug("late fetch cached", "viewport", v.String(), "records", len(records))
		}

	case domain.FetchRateLimited:
		backoff := s.limiter.RecordRateLimited()
		s.metrics.FetchRequests.WithLabelValues(source, "rate_limited").Inc()
		s.logger.Warn("upstream rate limited",
			"backoff", backoff,
			"retry_after", r.RetryAfter,
			"consecutive_failures", s.limiter.ConsecutiveFailures(),
		)

	case domain.FetchFailed:
		s.metrics.FetchRequests.WithLabelValues(source, "failed").Inc()
		if seq < s.publishedSeq {
			s.logger.Debug("late fetch failed", "error", r.Err, "viewport", v.String())
			return
		}
		s.lastErr = r
		s.logger.Error("fetch failed", "error", r.Err, "viewport", v.String())
		shown := v
		if s.hasCurrent {
			shown = s.current.Viewport
		}
		s.emit(seq, shown, s.lastGood(), false)

	default:
		s.logger.Error("unexpected fetch result", "type", res)
	}
}

func (s *Scheduler) lastGood() []domain.PointRecord {
	if !s.hasCurrent {
		return []domain.PointRecord{}
	}
	return s.current.Records
}

func (s *Scheduler) emit(seq uint64, v domain.Viewport, records []domain.PointRecord, fromCache bool) {
	s.publishedSeq = seq
	s.current = Update{
		Source:    s.cfg.Source,
		Viewport:  v,
		Records:   records,
		Err:       s.lastErr,
		FromCache: fromCache,
		At:        s.loop.Clock().Now(),
	}
	s.hasCurrent = true
	s.metrics.RecordsShown.WithLabelValues(string(s.cfg.Source)).Set(float64(len(records)))
	if s.publish != nil {
		s.publish(s.current)
	}
}

func (s *Scheduler) skip(reason string, v domain.Viewport) {
	s.metrics.FetchSkips.WithLabelValues(string(s.cfg.Source), reason).Inc()
	s.skipLog.Do(func() {
		s.logger.Debug("fetch skipped", "reason", reason, "viewport", v.String())
	})
}
