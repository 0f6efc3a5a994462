package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// SourceConfig tunes fetching for one upstream feed.
type SourceConfig struct {
	FeedURL   string // empty disables the source
	FeedToken string

	Debounce        time.Duration
	RefreshInterval time.Duration
	TTL             time.Duration
	FetchTimeout    time.Duration
	Capacity        int

	PerMinute int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	MinZoom           float64
	BufferMultiplier  float64
	MovementThreshold float64
}

// Enabled reports whether the source has a feed to fetch from.
func (s SourceConfig) Enabled() bool { return s.FeedURL != "" }

// DefaultSources returns the built-in tuning. Hazards are volatile and
// refreshed every minute; cameras are fixed assets cached for an hour.
func DefaultSources() map[domain.Source]SourceConfig {
	return map[domain.Source]SourceConfig{
		domain.SourceHazards: {
			Debounce:          500 * time.Millisecond,
			RefreshInterval:   60 * time.Second,
			TTL:               60 * time.Second,
			FetchTimeout:      10 * time.Second,
			Capacity:          10,
			PerMinute:         10,
			BaseDelay:         30 * time.Second,
			MaxDelay:          4 * time.Minute,
			MinZoom:           10,
			BufferMultiplier:  2.0,
			MovementThreshold: 0.5,
		},
		domain.SourceCameras: {
			Debounce:          2 * time.Second,
			TTL:               time.Hour,
			FetchTimeout:      10 * time.Second,
			Capacity:          10,
			PerMinute:         5,
			BaseDelay:         60 * time.Second,
			MaxDelay:          4 * time.Minute,
			MinZoom:           9,
			BufferMultiplier:  2.5,
			MovementThreshold: 0.5,
		},
	}
}

// sourceOverride is one entry of the SOURCES_CONFIG file. Unset fields keep
// their defaults.
type sourceOverride struct {
	Debounce          *string  `yaml:"debounce"`
	RefreshInterval   *string  `yaml:"refresh_interval"`
	TTL               *string  `yaml:"ttl"`
	FetchTimeout      *string  `yaml:"fetch_timeout"`
	Capacity          *int     `yaml:"capacity"`
	PerMinute         *int     `yaml:"per_minute"`
	BaseDelay         *string  `yaml:"base_delay"`
	MaxDelay          *string  `yaml:"max_delay"`
	MinZoom           *float64 `yaml:"min_zoom"`
	BufferMultiplier  *float64 `yaml:"buffer_multiplier"`
	MovementThreshold *float64 `yaml:"movement_threshold"`
}

type sourcesFile struct {
	Sources map[string]sourceOverride `yaml:"sources"`
}

// loadSources starts from DefaultSources, applies the optional SOURCES_CONFIG
// YAML file, then the per-source feed URL and token variables.
func loadSources() (map[domain.Source]SourceConfig, error) {
	sources := DefaultSources()

	if path := os.Getenv("SOURCES_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read SOURCES_CONFIG: %w", err)
		}
		if err := applySourcesYAML(sources, data); err != nil {
			return nil, fmt.Errorf("invalid SOURCES_CONFIG: %w", err)
		}
	}

	for src, sc := range sources {
		prefix := strings.ToUpper(string(src))
		sc.FeedURL = os.Getenv(prefix + "_FEED_URL")
		sc.FeedToken = os.Getenv(prefix + "_FEED_TOKEN")
		sources[src] = sc
	}
	return sources, nil
}

func applySourcesYAML(sources map[domain.Source]SourceConfig, data []byte) error {
	var file sourcesFile
	if err := yaml.UnmarshalWithOptions(data, &file, yaml.DisallowUnknownField()); err != nil {
		return err
	}
	for name, o := range file.Sources {
		src, err := domain.ParseSource(name)
		if err != nil {
			return err
		}
		sc := sources[src]
		if err := o.apply(&sc); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := sc.validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		sources[src] = sc
	}
	return nil
}

func (o sourceOverride) apply(sc *SourceConfig) error {
	durations := []struct {
		name string
		val  *string
		dst  *time.Duration
	}{
		{"debounce", o.Debounce, &sc.Debounce},
		{"refresh_interval", o.RefreshInterval, &sc.RefreshInterval},
		{"ttl", o.TTL, &sc.TTL},
		{"fetch_timeout", o.FetchTimeout, &sc.FetchTimeout},
		{"base_delay", o.BaseDelay, &sc.BaseDelay},
		{"max_delay", o.MaxDelay, &sc.MaxDelay},
	}
	for _, d := range durations {
		if d.val == nil {
			continue
		}
		v, err := time.ParseDuration(*d.val)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid %s %q", d.name, *d.val)
		}
		*d.dst = v
	}
	if o.Capacity != nil {
		sc.Capacity = *o.Capacity
	}
	if o.PerMinute != nil {
		sc.PerMinute = *o.PerMinute
	}
	if o.MinZoom != nil {
		sc.MinZoom = *o.MinZoom
	}
	if o.BufferMultiplier != nil {
		sc.BufferMultiplier = *o.BufferMultiplier
	}
	if o.MovementThreshold != nil {
		sc.MovementThreshold = *o.MovementThreshold
	}
	return nil
}

func (s SourceConfig) validate() error {
	switch {
	case s.TTL <= 0:
		return fmt.Errorf("ttl must be positive")
	case s.Capacity < 1:
		return fmt.Errorf("capacity must be at least 1")
	case s.PerMinute < 1:
		return fmt.Errorf("per_minute must be at least 1")
	case s.BaseDelay <= 0 || s.MaxDelay < s.BaseDelay:
		return fmt.Errorf("base_delay must be positive and not exceed max_delay")
	case s.BufferMultiplier < 1:
		return fmt.Errorf("buffer_multiplier must be at least 1")
	case s.MovementThreshold < 0 || s.MovementThreshold > 1:
		return fmt.Errorf("movement_threshold must be in [0, 1]")
	}
	return nil
}
