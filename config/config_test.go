package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, engine.DefaultPartitionRows, cfg.Engine.PartitionRows)
	assert.Equal(t, spearman.Everything, cfg.Mode())
	assert.Equal(t, ":50051", cfg.Server.Address)
	assert.Equal(t, 128, cfg.Cache.Capacity)
	assert.False(t, cfg.ZMQ.Enabled)
	assert.False(t, cfg.GRPC.Enabled)
	assert.Equal(t, ":50052", cfg.GRPC.Address)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spearman.yaml")
	raw := `
engine:
  workers: 4
  default_mode: complete.obs
server:
  rate_limit: 10.5
  auth_token: secret
zmq:
  enabled: true
grpc:
  enabled: true
  address: 127.0.0.1:6000
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, spearman.CompleteObs, cfg.Mode())
	assert.Equal(t, 10.5, cfg.Server.RateLimit)
	assert.Equal(t, "secret", cfg.Server.AuthToken)
	assert.True(t, cfg.ZMQ.Enabled)
	assert.True(t, cfg.GRPC.Enabled)
	assert.Equal(t, "127.0.0.1:6000", cfg.GRPC.Address)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched settings keep their defaults.
	assert.Equal(t, "tcp://127.0.0.1:5555", cfg.ZMQ.Endpoint)
	assert.Equal(t, engine.DefaultPartitionRows, cfg.Engine.PartitionRows)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("engine:\n  threads: 2\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }},
		{"negative partition rows", func(c *Config) { c.Engine.PartitionRows = -1 }},
		{"negative cell parallelism", func(c *Config) { c.Engine.CellParallelism = -2 }},
		{"unknown mode", func(c *Config) { c.Engine.DefaultMode = "pairwise" }},
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"message limit too large", func(c *Config) { c.Server.MaxMessageBytes = maxMessageBytes + 1 }},
		{"zero message limit", func(c *Config) { c.Server.MaxMessageBytes = 0 }},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }},
		{"negative burst", func(c *Config) { c.Server.RateBurst = -1 }},
		{"unknown compression", func(c *Config) { c.Server.Compression = "snappy" }},
		{"zmq without endpoint", func(c *Config) { c.ZMQ.Enabled = true; c.ZMQ.Endpoint = "" }},
		{"grpc without address", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Address = "" }},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "" }},
		{"negative cache", func(c *Config) { c.Cache.Capacity = -1 }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
