package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-sync/internal/domain"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "vehicle-positions", cfg.KafkaPositionsTopic)
	assert.Equal(t, "hazard-map-events", cfg.KafkaEventsTopic)
	assert.Equal(t, "hazard-sync", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
	assert.Equal(t, 50.0, cfg.DeviationThreshold)
	assert.Equal(t, 5*time.Second, cfg.RerouteCooldown)
	assert.Equal(t, time.Second, cfg.DeviationDebounce)
	assert.Equal(t, 0.00045, cfg.ClusterRadius)
	assert.Equal(t, 0.2, cfg.AnimationFactor)
	assert.Equal(t, 50*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, 30*time.Second, cfg.LocationStale)

	hazards := cfg.Sources[domain.SourceHazards]
	assert.False(t, hazards.Enabled())
	assert.Equal(t, 500*time.Millisecond, hazards.Debounce)
	assert.Equal(t, 60*time.Second, hazards.TTL)
	assert.Equal(t, 10, hazards.PerMinute)
	assert.Equal(t, 30*time.Second, hazards.BaseDelay)
	assert.Equal(t, 2.0, hazards.BufferMultiplier)

	cameras := cfg.Sources[domain.SourceCameras]
	assert.Equal(t, 2*time.Second, cameras.Debounce)
	assert.Equal(t, time.Hour, cameras.TTL)
	assert.Equal(t, 5, cameras.PerMinute)
	assert.Equal(t, 60*time.Second, cameras.BaseDelay)
	assert.Equal(t, 2.5, cameras.BufferMultiplier)
	assert.Zero(t, cameras.RefreshInterval)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_POSITIONS_TOPIC", "custom-positions")
	t.Setenv("KAFKA_EVENTS_TOPIC", "custom-events")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")
	t.Setenv("DEVIATION_THRESHOLD_METERS", "75")
	t.Setenv("REROUTE_COOLDOWN", "10s")
	t.Setenv("DEVIATION_DEBOUNCE", "2s")
	t.Setenv("HAZARDS_FEED_URL", "https://feeds.example.com/hazards")
	t.Setenv("HAZARDS_FEED_TOKEN", "h-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-positions", cfg.KafkaPositionsTopic)
	assert.Equal(t, "custom-events", cfg.KafkaEventsTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
	assert.Equal(t, 75.0, cfg.DeviationThreshold)
	assert.Equal(t, 10*time.Second, cfg.RerouteCooldown)
	assert.Equal(t, 2*time.Second, cfg.DeviationDebounce)

	hazards := cfg.Sources[domain.SourceHazards]
	assert.True(t, hazards.Enabled())
	assert.Equal(t, "https://feeds.example.com/hazards", hazards.FeedURL)
	assert.Equal(t, "h-token", hazards.FeedToken)
	assert.False(t, cfg.Sources[domain.SourceCameras].Enabled())
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAPBOX_TIMEOUT", "bad"},
		{"REROUTE_COOLDOWN", "-1s"},
		{"DEVIATION_DEBOUNCE", "0s"},
		{"DEVIATION_THRESHOLD_METERS", "-5"},
		{"DEVIATION_THRESHOLD_METERS", "NaN"},
		{"CLUSTER_RADIUS_DEGREES", "abc"},
		{"ANIMATION_FACTOR", "1.5"},
		{"FRAME_INTERVAL", "fast"},
		{"LOCATION_STALE_AFTER", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

func writeSourcesFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_SourcesConfigOverrides(t *testing.T) {
	t.Setenv("SOURCES_CONFIG", writeSourcesFile(t, `
sources:
  hazards:
    debounce: 750ms
    ttl: 90s
    per_minute: 20
    buffer_multiplier: 3
  cameras:
    refresh_interval: 10m
    min_zoom: 11
`))

	cfg, err := Load()
	require.NoError(t, err)

	hazards := cfg.Sources[domain.SourceHazards]
	assert.Equal(t, 750*time.Millisecond, hazards.Debounce)
	assert.Equal(t, 90*time.Second, hazards.TTL)
	assert.Equal(t, 20, hazards.PerMinute)
	assert.Equal(t, 3.0, hazards.BufferMultiplier)
	assert.Equal(t, 30*time.Second, hazards.BaseDelay, "unset fields keep defaults")

	cameras := cfg.Sources[domain.SourceCameras]
	assert.Equal(t, 10*time.Minute, cameras.RefreshInterval)
	assert.Equal(t, 11.0, cameras.MinZoom)
	assert.Equal(t, time.Hour, cameras.TTL)
}

func TestLoad_SourcesConfigErrors(t *testing.T) {
	tests := map[string]string{
		"unknown source":   "sources:\n  weather:\n    ttl: 1m\n",
		"unknown field":    "sources:\n  hazards:\n    colour: red\n",
		"bad duration":     "sources:\n  hazards:\n    ttl: soon\n",
		"zero per minute":  "sources:\n  hazards:\n    per_minute: 0\n",
		"shrinking buffer": "sources:\n  cameras:\n    buffer_multiplier: 0.5\n",
		"threshold range":  "sources:\n  cameras:\n    movement_threshold: 2\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SOURCES_CONFIG", writeSourcesFile(t, body))
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "SOURCES_CONFIG")
		})
	}
}

func TestLoad_SourcesConfigMissingFile(t *testing.T) {
	t.Setenv("SOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOURCES_CONFIG")
}
