package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Parser converts a raw event into a location sample.
type Parser interface {
	Parse(raw domain.RawEvent) (domain.PositionSample, error)
}

// SampleLoader feeds samples to the engine. The returned slice holds one
// rejection error per sample, nil when accepted; err means nothing was loaded.
type SampleLoader interface {
	LoadSamples(ctx context.Context, samples []domain.PositionSample) ([]error, error)
}

// Pipeline moves location samples from Kafka into the engine.
type Pipeline struct {
	extractor BatchExtractor
	parser    Parser
	loader    SampleLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, p Parser, l SampleLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		parser:    p,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once a batch has been loaded into the engine.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no location samples received yet")
	}
	return nil
}

// Ready reports whether a batch has been loaded.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// Run executes the extract-parse-load loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// processBatch runs one cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.SamplesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	loaded, ok := p.parseAndLoad(ctx, rawBatch, backoff)
	if !ok {
		return false
	}
	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// parseAndLoad parses each message, loads the valid samples in order and
// commits offsets. Malformed messages are committed and skipped. Returns the
// number of samples handed to the engine and false if the pipeline should stop.
func (p *Pipeline) parseAndLoad(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration) (int, bool) {
	samples := make([]domain.PositionSample, 0, len(rawBatch))
	parsedRaws := make([]domain.RawEvent, 0, len(rawBatch))

	for _, raw := range rawBatch {
		s, err := p.parser.Parse(raw)
		if err != nil {
			p.logger.Warn("parse failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.SamplesRejected.WithLabelValues(rejectReason(err)).Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		samples = append(samples, s)
		parsedRaws = append(parsedRaws, raw)
	}

	if len(samples) == 0 {
		return 0, true
	}

	results, err := p.loader.LoadSamples(ctx, samples)
	if err != nil {
		p.logger.Error("load samples failed", "error", err, "batch_size", len(samples))
		return 0, p.backoffOrStop(ctx, backoff)
	}

	for i, raw := range parsedRaws {
		if i < len(results) && results[i] != nil {
			p.logger.Debug("sample rejected",
				"error", results[i],
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
		}
		p.commitOffset(ctx, raw)
	}
	return len(samples), true
}

func rejectReason(err error) string {
	if errors.Is(err, domain.ErrMalformedSample) {
		return "malformed"
	}
	return "invalid"
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
