package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// ErrUnknownSource is returned for data source names outside Sources.
var ErrUnknownSource = errors.New("unknown data source")

// Source identifies an upstream data feed.
type Source string

const (
	SourceHazards Source = "hazards"
	SourceCameras Source = "cameras"
)

// Sources lists every data source in fetch-priority order.
var Sources = []Source{SourceHazards, SourceCameras}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

// Category classifies a point report.
type Category string

const (
	CategoryAccident       Category = "accident"
	CategoryRoadClosed     Category = "road_closed"
	CategoryHazard         Category = "hazard"
	CategoryPolice         Category = "police"
	CategoryConstruction   Category = "construction"
	CategoryJam            Category = "jam"
	CategoryWeather        Category = "weather"
	CategorySpeedCamera    Category = "speed_camera"
	CategoryRedLightCamera Category = "red_light_camera"
)

var severityRanks = map[Category]int{
	CategoryAccident:       7,
	CategoryRoadClosed:     6,
	CategoryHazard:         5,
	CategoryPolice:         4,
	CategoryConstruction:   3,
	CategoryJam:            2,
	CategoryRedLightCamera: 2,
	CategorySpeedCamera:    1,
	CategoryWeather:        1,
}

// SeverityRank returns the display priority of a category; unranked categories are 0.
func SeverityRank(c Category) int {
	return severityRanks[c]
}

// PointRecord is a single upstream report or fixed asset. Records are
// immutable once received; two records with the same ID are assumed identical.
type PointRecord struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	Category    Category  `json:"category"`
	Position    orb.Point `json:"position"` // [lon, lat]
	Severity    int       `json:"severity,omitempty"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"` // vote/confidence score
	ReceivedAt  time.Time `json:"received_at"`
}

// Cluster is a display group of nearby records.
type Cluster struct {
	Members          []PointRecord `json:"members"`
	Centroid         orb.Point     `json:"centroid"`
	DominantCategory Category      `json:"dominant_category"`
}

// Size returns the number of members.
func (c Cluster) Size() int { return len(c.Members) }
