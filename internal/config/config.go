// Package config loads the document-ingest configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendFirestore = "firestore"
	BackendValkey    = "valkey"
)

// Config holds all configuration consumed by the functions.
type Config struct {
	ProjectID string
	Cache     CacheConfig
	Fetch     FetchConfig
	Buckets   BucketConfig
	Telemetry TelemetryConfig
	LogLevel  slog.Level
}

// CacheConfig holds both cache tiers' settings.
type CacheConfig struct {
	Backend              string
	FirestoreDatabase    string
	FirestoreCollection  string
	ValkeyAddress        string
	ValkeyPassword       string
	ValkeyKeyPrefix      string
	TTL                  time.Duration
	MemorySize           int
	CompressionThreshold int
	SweepBatchLimit      int
}

// FetchConfig bounds document retrieval.
type FetchConfig struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BucketConfig names the buckets used outside the cache core.
type BucketConfig struct {
	Upload  string
	Archive string
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_id", "")
	v.SetDefault("cache_backend", BackendFirestore)
	v.SetDefault("firestore_database", "(default)")
	v.SetDefault("firestore_collection", "document_cache")
	v.SetDefault("valkey_address", "localhost:6379")
	v.SetDefault("valkey_password", "")
	v.SetDefault("valkey_key_prefix", "docingest")
	v.SetDefault("cache_ttl_days", 30)
	v.SetDefault("memory_cache_size", 100)
	v.SetDefault("cache_compression_threshold", 1_000_000)
	v.SetDefault("sweep_batch_limit", 500)
	v.SetDefault("fetch_timeout", "30s")
	v.SetDefault("max_retries", 3)
	v.SetDefault("base_delay", "1s")
	v.SetDefault("max_delay", "10s")
	v.SetDefault("upload_bucket", "")
	v.SetDefault("archive_bucket", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "document-ingest")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	level, err := parseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID: v.GetString("project_id"),
		Cache: CacheConfig{
			Backend:              strings.ToLower(v.GetString("cache_backend")),
			FirestoreDatabase:    v.GetString("firestore_database"),
			FirestoreCollection:  v.GetString("firestore_collection"),
			ValkeyAddress:        v.GetString("valkey_address"),
			ValkeyPassword:       v.GetString("valkey_password"),
			ValkeyKeyPrefix:      v.GetString("valkey_key_prefix"),
			TTL:                  time.Duration(v.GetInt("cache_ttl_days")) * 24 * time.Hour,
			MemorySize:           v.GetInt("memory_cache_size"),
			CompressionThreshold: v.GetInt("cache_compression_threshold"),
			SweepBatchLimit:      v.GetInt("sweep_batch_limit"),
		},
		Fetch: FetchConfig{
			Timeout:    v.GetDuration("fetch_timeout"),
			MaxRetries: v.GetInt("max_retries"),
			BaseDelay:  v.GetDuration("base_delay"),
			MaxDelay:   v.GetDuration("max_delay"),
		},
		Buckets: BucketConfig{
			Upload:  v.GetString("upload_bucket"),
			Archive: v.GetString("archive_bucket"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  v.GetString("service_name"),
			OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),
		},
		LogLevel: level,
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case BackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, fmt.Errorf("PROJECT_ID must be set for the %s cache backend", BackendFirestore))
		}
		if c.Cache.FirestoreCollection == "" {
			errs = append(errs, fmt.Errorf("FIRESTORE_COLLECTION must not be empty"))
		}
	case BackendValkey:
		if c.Cache.ValkeyAddress == "" {
			errs = append(errs, fmt.Errorf("VALKEY_ADDRESS must be set for the %s cache backend", BackendValkey))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL_DAYS must be positive"))
	}
	if c.Cache.MemorySize <= 0 {
		errs = append(errs, fmt.Errorf("MEMORY_CACHE_SIZE must be positive"))
	}
	if c.Cache.CompressionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_COMPRESSION_THRESHOLD must be positive"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive"))
	}
	if c.Fetch.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be positive"))
	}
	if c.Fetch.BaseDelay < 0 || c.Fetch.BaseDelay > c.Fetch.MaxDelay {
		errs = append(errs, fmt.Errorf("BASE_DELAY (%s) must be between 0 and MAX_DELAY (%s)", c.Fetch.BaseDelay, c.Fetch.MaxDelay))
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads variables from local .env files for development runs.
// Missing files are ignored; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
