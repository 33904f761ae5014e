package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncConfig holds the tunables of the synchronization engine.
type SyncConfig struct {
	LocalCacheTTLDays    int `json:"local_cache_ttl_days" yaml:"localCacheTTLDays"`
	CookieMaxAgeDays     int `json:"cookie_max_age_days" yaml:"cookieMaxAgeDays"`
	SyncIntervalMs       int `json:"sync_interval_ms" yaml:"syncIntervalMs"`
	MaxRetries           int `json:"max_retries" yaml:"maxRetries"`
	RetryBackoffMs       int `json:"retry_backoff_ms" yaml:"retryBackoffMs"`
	CookieSizeLimitBytes int `json:"cookie_size_limit_bytes" yaml:"cookieSizeLimitBytes"`
	QueueMaxAttempts     int `json:"queue_max_attempts" yaml:"queueMaxAttempts"`
	SchemaVersion        int `json:"schema_version" yaml:"schemaVersion"`
}

// LocalCacheTTL is the fixed lifetime of a local cache envelope.
func (c SyncConfig) LocalCacheTTL() time.Duration {
	return time.Duration(c.LocalCacheTTLDays) * 24 * time.Hour
}

// CookieMaxAge is the Max-Age of mirror cookies.
func (c SyncConfig) CookieMaxAge() time.Duration {
	return time.Duration(c.CookieMaxAgeDays) * 24 * time.Hour
}

func (c SyncConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMs) * time.Millisecond
}

func (c SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// CacheConfig selects the local cache backend of a device.
type CacheConfig struct {
	Backend string `json:"backend" yaml:"backend"` // memory, sqlite, redis, tiered
	Path    string `json:"path" yaml:"path"`       // sqlite database file
	L1TTLMs int    `json:"l1_ttl_ms" yaml:"l1TTLMs"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"keyPrefix"`
}

// PostgresConfig holds the reference backend database settings
type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// RemoteConfig points the engine at the remote backend store.
type RemoteConfig struct {
	BaseURL   string `json:"base_url" yaml:"baseURL"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeoutMs"`
}

func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// DaemonConfig holds settings of the reference backend service
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"httpAddr"`
	Storage  string `json:"storage" yaml:"storage"` // memory, postgres, redis
}

// LoggingConfig controls the operational logger and the activity log
type LoggingConfig struct {
	Level        string `json:"level" yaml:"level"`
	Format       string `json:"format" yaml:"format"`
	ActivityFile string `json:"activity_file" yaml:"activityFile"`
}

// TracingConfig selects the span exporter and sampling rate. An empty or
// default service name is replaced by the binary name.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"serviceName"`
	SampleRate  float64 `json:"sample_rate" yaml:"sampleRate"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Sync     SyncConfig     `json:"sync" yaml:"sync"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
	Remote   RemoteConfig   `json:"remote" yaml:"remote"`
	Daemon   DaemonConfig   `json:"daemon" yaml:"daemon"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
}

// DefaultSyncConfig returns the engine defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		LocalCacheTTLDays:    30,
		CookieMaxAgeDays:     30,
		SyncIntervalMs:       30_000,
		MaxRetries:           3,
		RetryBackoffMs:       1_000,
		CookieSizeLimitBytes: 4096,
		QueueMaxAttempts:     5,
		SchemaVersion:        1,
	}
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Sync: DefaultSyncConfig(),
		Cache: CacheConfig{
			Backend: "sqlite",
			Path:    defaultCachePath(),
			L1TTLMs: 10_000,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "cartsync:",
		},
		Remote: RemoteConfig{
			BaseURL:   "http://localhost:8080",
			TimeoutMs: 10_000,
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			Storage:  "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "cartsync",
			SampleRate:  1.0,
		},
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cartsync", "device.db")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	s := c.Sync
	switch {
	case s.LocalCacheTTLDays <= 0:
		return fmt.Errorf("sync.localCacheTTLDays must be > 0")
	case s.CookieMaxAgeDays <= 0:
		return fmt.Errorf("sync.cookieMaxAgeDays must be > 0")
	case s.SyncIntervalMs <= 0:
		return fmt.Errorf("sync.syncIntervalMs must be > 0")
	case s.MaxRetries <= 0:
		return fmt.Errorf("sync.maxRetries must be > 0")
	case s.RetryBackoffMs < 0:
		return fmt.Errorf("sync.retryBackoffMs must be >= 0")
	case s.CookieSizeLimitBytes <= 0:
		return fmt.Errorf("sync.cookieSizeLimitBytes must be > 0")
	case s.QueueMaxAttempts <= 0:
		return fmt.Errorf("sync.queueMaxAttempts must be > 0")
	}
	switch c.Cache.Backend {
	case "memory", "sqlite", "redis", "tiered":
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file. Unset fields
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CARTSYNC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CARTSYNC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CARTSYNC_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("CARTSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("CARTSYNC_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("CARTSYNC_STORAGE"); v != "" {
		cfg.Daemon.Storage = v
	}
	if v := os.Getenv("CARTSYNC_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("CARTSYNC_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("CARTSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CARTSYNC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CARTSYNC_SYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.SyncIntervalMs = n
		}
	}
	if v := os.Getenv("CARTSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}
	if v := os.Getenv("CARTSYNC_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
}
