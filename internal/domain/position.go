package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

var (
	// ErrInvalidSample marks a location sample with unusable coordinates or time.
	ErrInvalidSample = errors.New("invalid position sample")

	// ErrMalformedSample marks a payload that is not a JSON position sample.
	ErrMalformedSample = errors.New("malformed position sample")

	// ErrOutOfOrder marks a sample whose timestamp is not after the previous one.
	ErrOutOfOrder = errors.New("position sample out of order")
)

// PositionSample is one raw reading from the device location provider.
type PositionSample struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"`          // metres, 68% confidence radius
	Heading   *float64  `json:"heading,omitempty"` // degrees clockwise from north
	Speed     *float64  `json:"speed,omitempty"`   // metres per second
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample position as [lon, lat].
func (s PositionSample) Point() orb.Point {
	return orb.Point{s.Lon, s.Lat}
}

// Validate rejects non-finite or out-of-range coordinates and missing timestamps.
// Optional heading and speed are rejected only when present and non-finite.
func (s PositionSample) Validate() error {
	if !finite(s.Lat) || !finite(s.Lon) {
		return fmt.Errorf("%w: non-finite coordinates", ErrInvalidSample)
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("%w: coordinates out of range (%.6f, %.6f)", ErrInvalidSample, s.Lat, s.Lon)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	if s.Heading != nil && !finite(*s.Heading) {
		return fmt.Errorf("%w: non-finite heading", ErrInvalidSample)
	}
	if s.Speed != nil && !finite(*s.Speed) {
		return fmt.Errorf("%w: non-finite speed", ErrInvalidSample)
	}
	return nil
}

// ParsePositionSample decodes and validates a JSON-encoded sample. A sample
// without a timestamp takes fallback; pass the zero time to require one.
func ParsePositionSample(data []byte, fallback time.Time) (PositionSample, error) {
	var s PositionSample
	if err := json.Unmarshal(data, &s); err != nil {
		return PositionSample{}, fmt.Errorf("%w: %w", ErrMalformedSample, err)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = fallback
	}
	if err := s.Validate(); err != nil {
		return PositionSample{}, err
	}
	return s, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// HeadingSource records where the current heading came from.
type HeadingSource string

const (
	HeadingNone          HeadingSource = "none"
	HeadingDevice        HeadingSource = "device"
	HeadingDeadReckoning HeadingSource = "dead_reckoning"
	HeadingRetained      HeadingSource = "retained"
)

// Quality grades the location fix.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
	QualityStale   Quality = "stale"
)

// MotionState is the estimator's view of the vehicle after the latest sample.
type MotionState struct {
	LastRawPosition orb.Point     `json:"last_raw_position"`
	LastHeading     float64       `json:"last_heading"`     // latest raw heading input
	SmoothedHeading float64       `json:"smoothed_heading"` // effective heading
	HasHeading      bool          `json:"has_heading"`
	HeadingSource   HeadingSource `json:"heading_source"`
	Speed           float64       `json:"speed"`
	Accuracy        float64       `json:"accuracy"`
	Quality         Quality       `json:"quality"`
	LastSampleAt    time.Time     `json:"last_sample_at"`
}
