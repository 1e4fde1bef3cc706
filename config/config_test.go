package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: info
compression:
  algorithm: lz4
  min_size: 512
  max_ratio: 0.9
ttl:
  min: 10s
  max: 1h
  default: 2m
  interval_factor: 3
memory:
  capacity: 64MB
  medium_at: 0.5
  high_at: 0.75
  critical_at: 0.9
  hard_limit: true
fallback:
  backend: memory
audit:
  interval: 10s
  sample_size: 32
refresh:
  interval: 5s
  margin: 20s
  max_retries: 2
sweep_every: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, "lz4", cfg.Compression.Algorithm)
	assert.Equal(t, 512, cfg.Compression.MinSize)
	assert.Equal(t, 10*time.Second, cfg.TTL.Min)
	assert.Equal(t, "64MB", cfg.Memory.Capacity)
	assert.True(t, cfg.Memory.HardLimit)
	assert.Equal(t, "memory", cfg.Fallback.Backend)
	assert.Equal(t, 32, cfg.Audit.SampleSize)
	assert.Equal(t, 30*time.Second, cfg.SweepEvery)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestOptionsRejectsUnknownAlgorithm(t *testing.T) {
	cfg := &Config{Compression: CompressionConfig{Algorithm: "brotli"}}

	_, err := cfg.Options()
	assert.ErrorContains(t, err, "brotli")
}

func TestOptionsRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{Fallback: FallbackConfig{Backend: "redis"}}

	_, err := cfg.Options()
	assert.ErrorContains(t, err, "redis")
}

func TestLocalBackendRequiresDirectory(t *testing.T) {
	cfg := &Config{Fallback: FallbackConfig{Backend: "local"}}

	_, err := cfg.Options()
	assert.ErrorContains(t, err, "directory")
}

func TestParseSize(t *testing.T) {
	for input, want := range map[string]int64{
		"64MB":  64 << 20,
		"1GB":   1 << 30,
		"512KB": 512 << 10,
		"100B":  100,
		"4096":  4096,
		" 2 MB": 2 << 20,
	} {
		got, err := parseSize(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := parseSize("lots")
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	_, err := parseLogLevel("verbose")
	assert.Error(t, err)
}
