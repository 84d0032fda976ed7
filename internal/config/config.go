// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPClient configures the typed HTTP client shared by all adapters.
type HTTPClient struct {
	TimeoutMS        int           `mapstructure:"timeout_ms"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	MaxConnsPerHost  int           `mapstructure:"max_conns_per_host"`
	UserAgent        string        `mapstructure:"user_agent"`
	RetryInitialMS   int           `mapstructure:"retry_initial_ms"`
	RetryMaxMS       int           `mapstructure:"retry_max_ms"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`
	DefaultRatePerS  float64       `mapstructure:"default_rate_per_second"`
	DefaultBurst     int           `mapstructure:"default_burst"`
}

// Ledger configures the durable append-only state machine.
type Ledger struct {
	LogPath           string        `mapstructure:"log_path"`
	SnapshotPath      string        `mapstructure:"snapshot_path"`
	CompactEvery      int           `mapstructure:"compact_every"`
	SnapshotRetain    int           `mapstructure:"snapshot_retain"`
	StuckThreshold    time.Duration `mapstructure:"stuck_threshold"`
	DedupCacheBackend string        `mapstructure:"dedup_cache_backend"` // "memory" or "redis"
	RedisAddr         string        `mapstructure:"redis_addr"`
}

// Pipeline configures the streaming execution engine.
type Pipeline struct {
	WorkerCount      int           `mapstructure:"worker_count"`
	BufferSize       int           `mapstructure:"buffer_size"`
	ProgressInterval int           `mapstructure:"progress_interval"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          Backoff       `mapstructure:"backoff"`
	DocumentTimeout  time.Duration `mapstructure:"document_timeout"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

type Observability struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

type Config struct {
	HTTPClient     HTTPClient     `mapstructure:"http_client"`
	Ledger         Ledger         `mapstructure:"ledger"`
	Pipeline       Pipeline       `mapstructure:"pipeline"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPClient: HTTPClient{
			TimeoutMS:        30_000,
			DialTimeout:      5 * time.Second,
			MaxIdleConns:     100,
			MaxConnsPerHost:  10,
			UserAgent:        "medkg-ingestcore/1.0",
			RetryInitialMS:   250,
			RetryMaxMS:       30_000,
			RetryMaxAttempts: 5,
			RetryMultiplier:  2.0,
			DefaultRatePerS:  5,
			DefaultBurst:     10,
		},
		Ledger: Ledger{
			LogPath:           "data/ledger/ledger.ndjson",
			SnapshotPath:      "data/ledger/snapshot.json",
			CompactEvery:      1000,
			SnapshotRetain:    7,
			StuckThreshold:    15 * time.Minute,
			DedupCacheBackend: "memory",
		},
		Pipeline: Pipeline{
			WorkerCount:      4,
			BufferSize:       100,
			ProgressInterval: 100,
			MaxAttempts:      3,
			Backoff:          Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second},
			DocumentTimeout:  60 * time.Second,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       10,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false, SamplingStrategy: "probabilistic", SamplingRate: 0.1},
		},
	}
}

// Load reads configuration from a YAML file, layering environment
// variable overrides on top (LEDGER_PATH, LEDGER_SNAPSHOT_PATH,
// HTTP_TIMEOUT_MS, HTTP_MAX_ATTEMPTS, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("http_client.timeout_ms", def.HTTPClient.TimeoutMS)
	v.SetDefault("http_client.dial_timeout", def.HTTPClient.DialTimeout)
	v.SetDefault("http_client.max_idle_conns", def.HTTPClient.MaxIdleConns)
	v.SetDefault("http_client.max_conns_per_host", def.HTTPClient.MaxConnsPerHost)
	v.SetDefault("http_client.user_agent", def.HTTPClient.UserAgent)
	v.SetDefault("http_client.retry_initial_ms", def.HTTPClient.RetryInitialMS)
	v.SetDefault("http_client.retry_max_ms", def.HTTPClient.RetryMaxMS)
	v.SetDefault("http_client.retry_max_attempts", def.HTTPClient.RetryMaxAttempts)
	v.SetDefault("http_client.retry_multiplier", def.HTTPClient.RetryMultiplier)
	v.SetDefault("http_client.default_rate_per_second", def.HTTPClient.DefaultRatePerS)
	v.SetDefault("http_client.default_burst", def.HTTPClient.DefaultBurst)

	v.SetDefault("ledger.log_path", def.Ledger.LogPath)
	v.SetDefault("ledger.snapshot_path", def.Ledger.SnapshotPath)
	v.SetDefault("ledger.compact_every", def.Ledger.CompactEvery)
	v.SetDefault("ledger.snapshot_retain", def.Ledger.SnapshotRetain)
	v.SetDefault("ledger.stuck_threshold", def.Ledger.StuckThreshold)
	v.SetDefault("ledger.dedup_cache_backend", def.Ledger.DedupCacheBackend)

	v.SetDefault("pipeline.worker_count", def.Pipeline.WorkerCount)
	v.SetDefault("pipeline.buffer_size", def.Pipeline.BufferSize)
	v.SetDefault("pipeline.progress_interval", def.Pipeline.ProgressInterval)
	v.SetDefault("pipeline.max_attempts", def.Pipeline.MaxAttempts)
	v.SetDefault("pipeline.backoff.base", def.Pipeline.Backoff.Base)
	v.SetDefault("pipeline.backoff.max", def.Pipeline.Backoff.Max)
	v.SetDefault("pipeline.document_timeout", def.Pipeline.DocumentTimeout)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.sampling_strategy", def.Observability.Tracing.SamplingStrategy)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// Explicit environment variables named in the CLI contract, layered
	// on top of anything set via YAML or the generic env replacer.
	if p := os.Getenv("LEDGER_PATH"); p != "" {
		v.Set("ledger.log_path", p)
	}
	if p := os.Getenv("LEDGER_SNAPSHOT_PATH"); p != "" {
		v.Set("ledger.snapshot_path", p)
	}
	if t := os.Getenv("HTTP_TIMEOUT_MS"); t != "" {
		v.Set("http_client.timeout_ms", t)
	}
	if a := os.Getenv("HTTP_MAX_ATTEMPTS"); a != "" {
		v.Set("http_client.retry_max_attempts", a)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Pipeline.WorkerCount < 1 {
		return fmt.Errorf("pipeline.worker_count must be >= 1")
	}
	if cfg.Pipeline.BufferSize < 1 {
		return fmt.Errorf("pipeline.buffer_size must be >= 1")
	}
	if cfg.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1")
	}
	if cfg.HTTPClient.RetryMaxAttempts < 1 {
		return fmt.Errorf("http_client.retry_max_attempts must be >= 1")
	}
	if cfg.Ledger.LogPath == "" {
		return fmt.Errorf("ledger.log_path must be set")
	}
	if cfg.Ledger.SnapshotRetain < 1 {
		return fmt.Errorf("ledger.snapshot_retain must be >= 1")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	switch cfg.Ledger.DedupCacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ledger.dedup_cache_backend must be memory or redis")
	}
	return nil
}
