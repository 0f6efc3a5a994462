package pipeline

import (
	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// SampleParser implements Parser for JSON location samples. Samples without
// a timestamp are stamped with the message time.
type SampleParser struct{}

// NewParser creates a SampleParser.
func NewParser() *SampleParser {
	return &SampleParser{}
}

func (SampleParser) Parse(raw domain.RawEvent) (domain.PositionSample, error) {
	return domain.ParsePositionSample(raw.Value, raw.Timestamp)
}
