package pipeline_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/engine"
	"github.com/couchcryptid/hazard-sync/internal/geo"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/motion"
	"github.com/couchcryptid/hazard-sync/internal/pipeline"
	"github.com/couchcryptid/hazard-sync/internal/track"
)

// TestPipeline_ReplaysDriveIntoEngine feeds a synthetic noisy drive through
// parsing and into a running engine, the same path Kafka messages take.
func TestPipeline_ReplaysDriveIntoEngine(t *testing.T) {
	drive := track.Generate(track.DefaultConfig())
	require.Len(t, drive, 120)

	var batches [][]domain.RawEvent
	for start := 0; start < len(drive); start += 50 {
		end := min(start+50, len(drive))
		batch := make([]domain.RawEvent, 0, end-start)
		for i, s := range drive[start:end] {
			data, err := json.Marshal(s)
			require.NoError(t, err)
			batch = append(batch, domain.RawEvent{
				Key:       []byte("vehicle-1"),
				Value:     data,
				Offset:    int64(start + i),
				Timestamp: s.Timestamp,
			})
		}
		batches = append(batches, batch)
	}

	metrics := newTestMetrics()
	eng := engine.New(engine.Config{
		Motion:          motion.DefaultConfig(),
		AnimationFactor: 0.2,
		FrameInterval:   10 * time.Millisecond,
	}, loop.New(clockwork.NewRealClock()), nil, nil, nil, slog.Default(), metrics)

	engCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	go func() { _ = eng.Run(engCtx) }()

	p := pipeline.New(&mockExtractor{batches: batches}, pipeline.NewParser(), eng, slog.Default(), metrics, 50)
	runFor(t, p, 500*time.Millisecond)
	require.True(t, p.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mv, err := eng.Motion(ctx)
	require.NoError(t, err)

	last := drive[len(drive)-1]
	assert.True(t, mv.HasFix)
	assert.Equal(t, last.Point(), mv.State.LastRawPosition)
	assert.Equal(t, last.Timestamp, mv.State.LastSampleAt)
	assert.Equal(t, domain.HeadingDeadReckoning, mv.State.HeadingSource)
	assert.Equal(t, domain.QualityGood, mv.State.Quality)
	assert.Less(t, math.Abs(geo.AngleDelta(0, mv.State.SmoothedHeading)), 40.0, "smoothed heading tracks the northbound course")
	assert.InDelta(t, 14, mv.State.Speed, 8)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.SamplesRejected.WithLabelValues("out_of_order")), 0)
}
