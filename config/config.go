// Package config loads the YAML configuration shared by the CLI and the
// server entry points.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/spearman-engine/data"
	"github.com/VanDung-dev/spearman-engine/engine"
	"github.com/VanDung-dev/spearman-engine/logging"
	"github.com/VanDung-dev/spearman-engine/spearman"
)

// maxMessageBytes mirrors the framing limit of the TCP protocol.
const maxMessageBytes = 50 * 1024 * 1024

// Config is the root of the configuration file.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	ZMQ     ZMQConfig     `yaml:"zmq"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	Metrics MetricsConfig `yaml:"metrics"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig tunes the correlation engine. Zero workers or cell
// parallelism mean GOMAXPROCS.
type EngineConfig struct {
	Workers         int    `yaml:"workers"`
	PartitionRows   int    `yaml:"partition_rows"`
	CellParallelism int    `yaml:"cell_parallelism"`
	DefaultMode     string `yaml:"default_mode"`
}

// ServerConfig configures the TCP Arrow server.
type ServerConfig struct {
	Address         string  `yaml:"address"`
	MaxMessageBytes int     `yaml:"max_message_bytes"`
	RateLimit       float64 `yaml:"rate_limit"`
	RateBurst       int     `yaml:"rate_burst"`
	Compression     string  `yaml:"compression"`
	AuthToken       string  `yaml:"auth_token"`
}

// ZMQConfig configures the optional ZeroMQ REP service.
type ZMQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// GRPCConfig configures the optional gRPC service. It shares the limits
// and auth token of ServerConfig.
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// CacheConfig sizes the result cache. Zero disables it.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PartitionRows: engine.DefaultPartitionRows,
			DefaultMode:   spearman.Everything.String(),
		},
		Server: ServerConfig{
			Address:         ":50051",
			MaxMessageBytes: maxMessageBytes,
			Compression:     data.CompressionNone,
		},
		ZMQ: ZMQConfig{
			Endpoint: "tcp://127.0.0.1:5555",
		},
		GRPC: GRPCConfig{
			Address: ":50052",
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "spearman",
		},
		Cache: CacheConfig{Capacity: 128},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.decode(raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML over the defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(raw); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(raw []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Engine.Workers < 0:
		return fmt.Errorf("engine.workers must not be negative, got %d", c.Engine.Workers)
	case c.Engine.PartitionRows < 0:
		return fmt.Errorf("engine.partition_rows must not be negative, got %d", c.Engine.PartitionRows)
	case c.Engine.CellParallelism < 0:
		return fmt.Errorf("engine.cell_parallelism must not be negative, got %d", c.Engine.CellParallelism)
	}
	if _, err := spearman.ParseMode(c.Engine.DefaultMode); err != nil {
		return fmt.Errorf("engine.default_mode: %w", err)
	}

	switch {
	case c.Server.Address == "":
		return errors.New("server.address is required")
	case c.Server.MaxMessageBytes <= 0 || c.Server.MaxMessageBytes > maxMessageBytes:
		return fmt.Errorf("server.max_message_bytes must be in (0, %d], got %d", maxMessageBytes, c.Server.MaxMessageBytes)
	case c.Server.RateLimit < 0:
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	case c.Server.RateBurst < 0:
		return fmt.Errorf("server.rate_burst must not be negative, got %d", c.Server.RateBurst)
	}
	switch c.Server.Compression {
	case "", data.CompressionNone, data.CompressionLZ4, data.CompressionZstd:
	default:
		return fmt.Errorf("server.compression: unknown codec %q", c.Server.Compression)
	}

	if c.ZMQ.Enabled && c.ZMQ.Endpoint == "" {
		return errors.New("zmq.endpoint is required when zmq is enabled")
	}
	if c.GRPC.Enabled && c.GRPC.Address == "" {
		return errors.New("grpc.address is required when grpc is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New("metrics.address is required when metrics are enabled")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must not be negative, got %d", c.Cache.Capacity)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Mode returns the parsed default mode. Call Validate first.
func (c *Config) Mode() spearman.Mode {
	m, _ := spearman.ParseMode(c.Engine.DefaultMode)
	return m
}
