// Command validate checks a recorded or synthetic drive fixture before it is
// used in replay tests: every sample parses, timestamps advance, the motion
// estimator accepts the whole stream, and, given a course, route deviation
// fires the expected number of times.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -samples data/mock/drive_austin.json \
//	  -course data/mock/drive_austin_course.geojson \
//	  -expect-reroutes 1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hazard-sync/internal/deviation"
	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/geo"
	"github.com/couchcryptid/hazard-sync/internal/loop"
	"github.com/couchcryptid/hazard-sync/internal/motion"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

// maxPlausibleSpeed flags teleports between consecutive samples (m/s).
const maxPlausibleSpeed = 70.0

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	samplesPath := flag.String("samples", "", "path to the samples JSON fixture")
	coursePath := flag.String("course", "", "optional path to the course GeoJSON")
	expectReroutes := flag.Int("expect-reroutes", -1, "expected reroute count; negative skips the check")
	threshold := flag.Float64("threshold", deviation.DefaultConfig().Threshold, "deviation threshold in metres")
	flag.Parse()

	if *samplesPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*samplesPath, *coursePath, *expectReroutes, *threshold); code != 0 {
		os.Exit(code)
	}
}

func run(samplesPath, coursePath string, expectReroutes int, threshold float64) int {
	fmt.Println("=== Drive Fixture Validation ===")
	fmt.Println()

	raws, err := loadJSON[json.RawMessage](samplesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load samples: %v\n", err)
		return 1
	}

	var course orb.LineString
	if coursePath != "" {
		course, err = loadCourse(coursePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load course: %v\n", err)
			return 1
		}
	}

	parsePhase, samples := validateParsing(raws)
	phases := []*phase{
		parsePhase,
		validateOrdering(samples),
		validateMotionReplay(samples),
	}
	if course != nil {
		phases = append(phases, validateDeviation(samples, course, threshold, expectReroutes))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Samples: %d raw, %d parsed\n", len(raws), len(samples))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// loadCourse reads the first LineString feature of a FeatureCollection.
func loadCourse(path string) (orb.LineString, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	for _, f := range fc.Features {
		if ls, ok := f.Geometry.(orb.LineString); ok && len(ls) >= 2 {
			return ls, nil
		}
	}
	return nil, fmt.Errorf("no LineString feature in %s", path)
}

// ── Phases ──

func validateParsing(raws []json.RawMessage) (*phase, []domain.PositionSample) {
	p := &phase{name: "Phase 1: Sample parsing"}
	samples := make([]domain.PositionSample, 0, len(raws))
	for i, raw := range raws {
		s, err := domain.ParsePositionSample(raw, time.Time{})
		if err != nil {
			p.errorf("sample %d: %v", i, err)
			continue
		}
		if s.Accuracy <= 0 {
			p.errorf("sample %d: missing accuracy", i)
		}
		samples = append(samples, s)
	}
	if len(samples) < 2 {
		p.errorf("need at least 2 valid samples, got %d", len(samples))
	}
	return p, samples
}

func validateOrdering(samples []domain.PositionSample) *phase {
	p := &phase{name: "Phase 2: Ordering and continuity"}
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dt := cur.Timestamp.Sub(prev.Timestamp)
		if dt <= 0 {
			p.errorf("sample %d: timestamp %s not after %s", i,
				cur.Timestamp.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))
			continue
		}
		if v := geo.Distance(prev.Point(), cur.Point()) / dt.Seconds(); v > maxPlausibleSpeed {
			p.errorf("sample %d: implied speed %.1f m/s", i, v)
		}
	}
	return p
}

func validateMotionReplay(samples []domain.PositionSample) *phase {
	p := &phase{name: "Phase 3: Motion replay"}
	est := motion.NewEstimator(motion.DefaultConfig())

	sources := map[domain.HeadingSource]int{}
	for i, s := range samples {
		st, err := est.Update(s)
		if err != nil {
			p.errorf("sample %d rejected: %v", i, err)
			continue
		}
		sources[st.HeadingSource]++
	}

	st := est.State()
	if !st.HasHeading {
		p.errorf("no heading established after %d samples", len(samples))
	}
	if st.Quality == domain.QualityUnknown {
		p.errorf("final fix quality unknown")
	}
	fmt.Printf("  motion: heading %.1f° (%s), speed %.1f m/s, quality %s, sources %v\n",
		st.SmoothedHeading, st.HeadingSource, st.Speed, st.Quality, sources)
	return p
}

// validateDeviation replays the drive against course on a fake clock and
// counts confirmed deviations.
func validateDeviation(samples []domain.PositionSample, course orb.LineString, threshold float64, expect int) *phase {
	p := &phase{name: "Phase 4: Route deviation"}
	if len(samples) == 0 {
		p.errorf("no samples")
		return p
	}

	clock := clockwork.NewFakeClockAt(samples[0].Timestamp)
	l := loop.NewManual(clock)
	cfg := deviation.DefaultConfig()
	cfg.Threshold = threshold

	var triggers []deviation.Trigger
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	det := deviation.New(cfg, l, func(t deviation.Trigger) { triggers = append(triggers, t) },
		logger, observability.NewMetricsForTesting())
	det.SetRoute(domain.Route{ID: "course", Polyline: course})

	maxDist := 0.0
	for _, s := range samples {
		if d := s.Timestamp.Sub(clock.Now()); d > 0 {
			clock.Advance(d)
		}
		l.RunDue()
		det.Update(s.Point())
		if d, ok := det.Distance(); ok {
			maxDist = math.Max(maxDist, d)
		}
		l.RunDue()
	}
	clock.Advance(cfg.Debounce)
	l.RunDue()

	fmt.Printf("  deviation: max distance %.1f m, %d reroute(s)\n", maxDist, len(triggers))
	for _, t := range triggers {
		fmt.Printf("    at %s, %.1f m off course\n", t.At.Format(time.RFC3339), t.Distance)
	}
	if expect >= 0 && len(triggers) != expect {
		p.errorf("expected %d reroute(s), got %d", expect, len(triggers))
	}
	return p
}
