// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreEtcd   = "etcd"
)

// Config holds all configuration for the fanout daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Queue     QueueConfig     `yaml:"queue"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	TLSClientCAFile string        `yaml:"tls_client_ca_file"`
	HealthAddr      string        `yaml:"health_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HTTPEnabled     bool          `yaml:"http_enabled"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`

	// OpenTelemetry configuration
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StoreConfig selects the shared store holding subscriptions and dedup
// records.
type StoreConfig struct {
	Type string `yaml:"type"` // memory, badger, etcd

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`

	Etcd EtcdConfig `yaml:"etcd"`
}

// EtcdConfig holds etcd settings. With Embedded set, an etcd member is
// started inside the process; otherwise Endpoints are dialed.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Prefix      string        `yaml:"prefix"`

	Embedded       bool   `yaml:"embedded"`
	Name           string `yaml:"name"`
	DataDir        string `yaml:"data_dir"`
	BindAddr       string `yaml:"bind_addr"`       // Peer address (e.g., "0.0.0.0:2380")
	ClientAddr     string `yaml:"client_addr"`     // Client address (e.g., "0.0.0.0:2379")
	InitialCluster string `yaml:"initial_cluster"` // "node1=http://host1:2380,node2=http://host2:2380"
	Bootstrap      bool   `yaml:"bootstrap"`       // true only for first node
}

// QueueConfig holds settings of the local queue service.
type QueueConfig struct {
	Storage   string `yaml:"storage"` // memory, badger
	BadgerDir string `yaml:"badger_dir"`

	// Defaults for queues created on first enqueue.
	AutoCreate     bool          `yaml:"auto_create"`
	MaxSize        int64         `yaml:"max_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	MessageTTL     time.Duration `yaml:"message_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-queue circuit breaker configuration.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// FanoutConfig holds settings shared by every fanout.
type FanoutConfig struct {
	Codec                string        `yaml:"codec"`       // msgpack, json
	Compression          string        `yaml:"compression"` // none, zstd
	CompressionThreshold int           `yaml:"compression_threshold"`
	DedupInterval        time.Duration `yaml:"dedup_interval"`
	AdmissionTimeout     time.Duration `yaml:"admission_timeout"`
	ConflictRetries      int           `yaml:"conflict_retries"`
	DedupCacheSize       int           `yaml:"dedup_cache_size"`
	FilterCacheSize      int           `yaml:"filter_cache_size"`
	HandleCacheSize      int           `yaml:"handle_cache_size"`
	MaxConcurrency       int           `yaml:"max_concurrency"`
}

// RateLimitConfig limits publish calls per fanout.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"` // publishes per second
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			HTTPEnabled:     true,
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			MetricsAddr:     "localhost:4317",
			MetricsEnabled:  false,
			ShutdownTimeout: 30 * time.Second,

			OtelServiceName:     "fanoutd",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  true,
			OtelTracesEnabled:   false,
			OtelTraceSampleRate: 0.1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Type:      StoreBadger,
			BadgerDir: "/tmp/fanout/state",
			Etcd: EtcdConfig{
				Endpoints:      []string{"localhost:2379"},
				DialTimeout:    5 * time.Second,
				Prefix:         "",
				Name:           "fanout-1",
				DataDir:        "/tmp/fanout/etcd",
				BindAddr:       "0.0.0.0:2380",
				ClientAddr:     "0.0.0.0:2379",
				InitialCluster: "fanout-1=http://0.0.0.0:2380",
				Bootstrap:      true,
			},
		},
		Queue: QueueConfig{
			Storage:        StoreBadger,
			BadgerDir:      "/tmp/fanout/queues",
			AutoCreate:     true,
			MaxSize:        100000,
			MaxMessageSize: 1024 * 1024,
			SweepInterval:  time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				ResetTimeout:     10 * time.Second,
			},
		},
		Fanout: FanoutConfig{
			Codec:                "msgpack",
			Compression:          "none",
			CompressionThreshold: 1024,
			DedupInterval:        10 * time.Minute,
			AdmissionTimeout:     5 * time.Second,
			ConflictRetries:      16,
			DedupCacheSize:       4096,
			FilterCacheSize:      1024,
			HandleCacheSize:      1024,
		},
		RateLimit: RateLimitConfig{
			Enabled:         false,
			Rate:            1000,
			Burst:           2000,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.HTTPEnabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr required when http is enabled")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.HealthEnabled && c.Server.HealthAddr == "" {
		return fmt.Errorf("server.health_addr required when health is enabled")
	}
	if c.Server.ShutdownTimeout < time.Second {
		return fmt.Errorf("server.shutdown_timeout must be at least 1 second")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreBadger:
		if c.Store.BadgerDir == "" {
			return fmt.Errorf("store.badger_dir required when type is badger")
		}
	case StoreEtcd:
		if err := c.Store.Etcd.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.type must be one of: memory, badger, etcd")
	}

	switch c.Queue.Storage {
	case StoreMemory:
	case StoreBadger:
		if c.Queue.BadgerDir == "" {
			return fmt.Errorf("queue.badger_dir required when storage is badger")
		}
		if c.Store.Type == StoreBadger && c.Queue.BadgerDir == c.Store.BadgerDir {
			return fmt.Errorf("queue.badger_dir must differ from store.badger_dir")
		}
	default:
		return fmt.Errorf("queue.storage must be one of: memory, badger")
	}
	if c.Queue.MaxSize < 0 || c.Queue.MaxMessageSize < 0 || c.Queue.MessageTTL < 0 || c.Queue.SweepInterval < 0 {
		return fmt.Errorf("queue limits cannot be negative")
	}
	if c.Queue.CircuitBreaker.Enabled && c.Queue.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("queue.circuit_breaker.failure_threshold must be at least 1")
	}

	validCodecs := map[string]bool{"msgpack": true, "json": true}
	if !validCodecs[c.Fanout.Codec] {
		return fmt.Errorf("fanout.codec must be one of: msgpack, json")
	}
	validCompression := map[string]bool{"none": true, "zstd": true}
	if !validCompression[c.Fanout.Compression] {
		return fmt.Errorf("fanout.compression must be one of: none, zstd")
	}
	if c.Fanout.DedupInterval < time.Second {
		return fmt.Errorf("fanout.dedup_interval must be at least 1 second")
	}
	if c.Fanout.AdmissionTimeout <= 0 {
		return fmt.Errorf("fanout.admission_timeout must be positive")
	}
	if c.Fanout.ConflictRetries < 1 {
		return fmt.Errorf("fanout.conflict_retries must be at least 1")
	}
	if c.Fanout.MaxConcurrency < 0 {
		return fmt.Errorf("fanout.max_concurrency cannot be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("ratelimit.rate must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("ratelimit.burst must be at least 1")
		}
	}

	// OpenTelemetry validation (only if metrics enabled)
	if c.Server.MetricsEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

func (e EtcdConfig) validate() error {
	if !e.Embedded {
		if len(e.Endpoints) == 0 {
			return fmt.Errorf("store.etcd.endpoints required when etcd is not embedded")
		}
		return nil
	}

	if e.Name == "" {
		return fmt.Errorf("store.etcd.name required when etcd is embedded")
	}
	if e.DataDir == "" {
		return fmt.Errorf("store.etcd.data_dir required when etcd is embedded")
	}
	if e.BindAddr == "" {
		return fmt.Errorf("store.etcd.bind_addr required when etcd is embedded")
	}
	if e.ClientAddr == "" {
		return fmt.Errorf("store.etcd.client_addr required when etcd is embedded")
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
