package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers        []string
	KafkaPositionsTopic string
	KafkaEventsTopic    string
	KafkaGroupID        string
	HTTPAddr            string
	LogLevel            string
	LogFormat           string
	ShutdownTimeout     time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Per-source fetch tuning, keyed by domain.Source.
	Sources map[domain.Source]SourceConfig

	// Mapbox directions configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Route deviation.
	DeviationThreshold float64 // metres
	RerouteCooldown    time.Duration
	DeviationDebounce  time.Duration

	// Display and motion.
	ClusterRadius   float64 // raw degrees
	AnimationFactor float64
	FrameInterval   time.Duration
	LocationStale   time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cooldown, err := parsePositiveDuration("REROUTE_COOLDOWN", "5s")
	if err != nil {
		return nil, err
	}
	deviationDebounce, err := parsePositiveDuration("DEVIATION_DEBOUNCE", "1s")
	if err != nil {
		return nil, err
	}
	threshold, err := parsePositiveFloat("DEVIATION_THRESHOLD_METERS", 50)
	if err != nil {
		return nil, err
	}
	radius, err := parsePositiveFloat("CLUSTER_RADIUS_DEGREES", 0.00045)
	if err != nil {
		return nil, err
	}
	animation, err := parsePositiveFloat("ANIMATION_FACTOR", 0.2)
	if err != nil {
		return nil, err
	}
	if animation > 1 {
		return nil, errors.New("invalid ANIMATION_FACTOR: must be in (0, 1]")
	}
	frame, err := parsePositiveDuration("FRAME_INTERVAL", "50ms")
	if err != nil {
		return nil, err
	}
	stale, err := parsePositiveDuration("LOCATION_STALE_AFTER", "30s")
	if err != nil {
		return nil, err
	}

	sources, err := loadSources()
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:        sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaPositionsTopic: sharedcfg.EnvOrDefault("KAFKA_POSITIONS_TOPIC", "vehicle-positions"),
		KafkaEventsTopic:    sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "hazard-map-events"),
		KafkaGroupID:        sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "hazard-sync"),
		HTTPAddr:            sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:            sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:     shutdownTimeout,
		BatchSize:           batchSize,
		BatchFlushInterval:  flushInterval,
		Sources:             sources,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		DeviationThreshold: threshold,
		RerouteCooldown:    cooldown,
		DeviationDebounce:  deviationDebounce,

		ClusterRadius:   radius,
		AnimationFactor: animation,
		FrameInterval:   frame,
		LocationStale:   stale,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaPositionsTopic == "" {
		return nil, errors.New("KAFKA_POSITIONS_TOPIC is required")
	}
	if cfg.KafkaEventsTopic == "" {
		return nil, errors.New("KAFKA_EVENTS_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !(f > 0) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return f, nil
}
