// Package motion turns the raw, irregular location stream into a stable
// heading and position for display and route tracking.
package motion

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/geo"
)

// Config tunes the estimator.
type Config struct {
	// MinDeviceHeadingSpeed is the speed (m/s) above which the device-reported
	// heading is trusted directly.
	MinDeviceHeadingSpeed float64
	// MinMoveMeters is the displacement required before a dead-reckoning
	// bearing is computed; smaller moves are treated as jitter.
	MinMoveMeters float64
	// MaxDeltaAge bounds the gap between samples for dead reckoning.
	MaxDeltaAge time.Duration
	// SmoothingFactor is the weight of a new dead-reckoning bearing, (0, 1].
	SmoothingFactor float64
	// StaleAfter marks the fix stale when no sample arrived for this long.
	StaleAfter time.Duration
	// GoodAccuracy and FairAccuracy are accuracy thresholds in metres.
	GoodAccuracy float64
	FairAccuracy float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MinDeviceHeadingSpeed: 1.4,
		MinMoveMeters:         3,
		MaxDeltaAge:           30 * time.Second,
		SmoothingFactor:       0.3,
		StaleAfter:            30 * time.Second,
		GoodAccuracy:          10,
		FairAccuracy:          30,
	}
}

// Estimator holds the MotionState for one session. Not safe for concurrent use.
type Estimator struct {
	cfg     Config
	state   domain.MotionState
	hasPrev bool
}

// NewEstimator creates an Estimator with no history.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{
		cfg: cfg,
		state: domain.MotionState{
			HeadingSource: domain.HeadingNone,
			Quality:       domain.QualityUnknown,
		},
	}
}

// State returns the current motion state.
func (e *Estimator) State() domain.MotionState { return e.state }

// HasFix reports whether at least one sample has been accepted.
func (e *Estimator) HasFix() bool { return e.hasPrev }

// Update folds a sample into the state. Invalid and out-of-order samples are
// rejected with ErrInvalidSample or ErrOutOfOrder and leave the state untouched.
func (e *Estimator) Update(s domain.PositionSample) (domain.MotionState, error) {
	if err := s.Validate(); err != nil {
		return e.state, err
	}
	if e.hasPrev && !s.Timestamp.After(e.state.LastSampleAt) {
		return e.state, fmt.Errorf("%w: %s not after %s", domain.ErrOutOfOrder,
			s.Timestamp.Format(time.RFC3339Nano), e.state.LastSampleAt.Format(time.RFC3339Nano))
	}

	pos := s.Point()
	next := e.state

	switch {
	case s.Heading != nil && s.Speed != nil && *s.Speed > e.cfg.MinDeviceHeadingSpeed:
		h := geo.NormalizeDegrees(*s.Heading)
		next.LastHeading = h
		next.SmoothedHeading = h
		next.HasHeading = true
		next.HeadingSource = domain.HeadingDevice

	case e.hasPrev && e.deadReckoningUsable(pos, s.Timestamp):
		raw := geo.Bearing(e.state.LastRawPosition, pos)
		next.LastHeading = raw
		if next.HasHeading {
			next.SmoothedHeading = geo.LerpAngle(e.state.SmoothedHeading, raw, e.cfg.SmoothingFactor)
		} else {
			next.SmoothedHeading = raw
		}
		next.HasHeading = true
		next.HeadingSource = domain.HeadingDeadReckoning

	default:
		if next.HasHeading {
			next.HeadingSource = domain.HeadingRetained
		}
	}

	if s.Speed != nil {
		next.Speed = *s.Speed
	} else if e.hasPrev {
		next.Speed = derivedSpeed(e.state.LastRawPosition, pos, s.Timestamp.Sub(e.state.LastSampleAt))
	}
	next.LastRawPosition = pos
	next.LastSampleAt = s.Timestamp
	next.Accuracy = s.Accuracy
	next.Quality = e.grade(s.Accuracy)

	e.state = next
	e.hasPrev = true
	return e.state, nil
}

func (e *Estimator) deadReckoningUsable(pos orb.Point, at time.Time) bool {
	elapsed := at.Sub(e.state.LastSampleAt)
	if elapsed <= 0 || elapsed >= e.cfg.MaxDeltaAge {
		return false
	}
	return geo.Distance(e.state.LastRawPosition, pos) > e.cfg.MinMoveMeters
}

// CheckStale downgrades quality to stale when no sample has arrived within
// StaleAfter of now. It returns true when the state changed.
func (e *Estimator) CheckStale(now time.Time) bool {
	if !e.hasPrev || e.state.Quality == domain.QualityStale {
		return false
	}
	if now.Sub(e.state.LastSampleAt) < e.cfg.StaleAfter {
		return false
	}
	e.state.Quality = domain.QualityStale
	return true
}

func (e *Estimator) grade(accuracy float64) domain.Quality {
	switch {
	case accuracy <= 0:
		return domain.QualityUnknown
	case accuracy <= e.cfg.GoodAccuracy:
		return domain.QualityGood
	case accuracy <= e.cfg.FairAccuracy:
		return domain.QualityFair
	default:
		return domain.QualityPoor
	}
}

func derivedSpeed(from, to orb.Point, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return geo.Distance(from, to) / elapsed.Seconds()
}
