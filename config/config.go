// Package config loads the YAML configuration of the vecshard command.
//
// A missing file yields the defaults. Zero fields in a file are filled with
// defaults as well, so a file only needs to name what it changes. Secrets are
// referenced by environment variable name and may come from a .env file
// loaded with LoadEnv.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects where the index root lives.
type StoreConfig struct {
	// Type is local, s3 or minio.
	Type string `yaml:"type"`
	// Root is the local directory for Type local.
	Root string `yaml:"root"`
	// Prefix is the index root inside the store.
	Prefix string `yaml:"prefix"`
	// BlockCacheBytes enables a block cache in front of remote stores.
	BlockCacheBytes int64        `yaml:"block_cache_bytes"`
	S3              *S3Config    `yaml:"s3,omitempty"`
	MinIO           *MinIOConfig `yaml:"minio,omitempty"`
}

// S3Config holds S3 connection details. Credentials come from the default
// AWS chain.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	PartSize     int64  `yaml:"part_size"`
}

// MinIOConfig holds MinIO connection details.
type MinIOConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
	PartSize     uint64 `yaml:"part_size"`
}

// Credentials resolves the access and secret key from the environment.
func (m *MinIOConfig) Credentials() (accessKey, secretKey string) {
	return os.Getenv(m.AccessKeyEnv), os.Getenv(m.SecretKeyEnv)
}

// SearchConfig holds per-batch search parameters.
type SearchConfig struct {
	NProbe    int    `yaml:"nprobe"`
	K         int    `yaml:"k"`
	LocalK    int    `yaml:"local_k"`
	BatchSize int    `yaml:"batch_size"`
	Batches   int    `yaml:"batches"`
	Strategy  string `yaml:"strategy"`
	Strict    bool   `yaml:"strict"`
	Seed      int64  `yaml:"seed"`
}

// CacheConfig configures the shard cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
	// Policy is LRU or LFU.
	Policy string `yaml:"policy"`
	// Ordering is smallest_first or largest_first.
	Ordering string `yaml:"ordering"`
}

// PrefetchConfig configures the background loader.
type PrefetchConfig struct {
	Disabled      bool  `yaml:"disabled"`
	MaxWorkers    int64 `yaml:"max_workers"`
	IOBytesPerSec int64 `yaml:"io_bytes_per_sec"`
}

// TelemetryConfig selects telemetry sinks. Empty paths disable a sink.
type TelemetryConfig struct {
	File string `yaml:"file"`
	DB   string `yaml:"db"`
}

// RankStoreConfig selects where rank scores persist between runs.
type RankStoreConfig struct {
	// Type is none, badger or dynamodb.
	Type      string `yaml:"type"`
	Dir       string `yaml:"dir"`
	Table     string `yaml:"table"`
	Namespace string `yaml:"namespace"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
	Prefetch  PrefetchConfig  `yaml:"prefetch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RankStore RankStoreConfig `yaml:"rank_store"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a config from path. If path is empty or the file does not
// exist, Load returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// LoadEnv loads environment files, .env when none are given. Missing files
// are ignored; variables already set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Type == "" {
		cfg.Store.Type = "local"
	}
	if cfg.Store.Type == "local" && cfg.Store.Root == "" {
		cfg.Store.Root = "index"
	}
	if cfg.Store.MinIO != nil {
		if cfg.Store.MinIO.AccessKeyEnv == "" {
			cfg.Store.MinIO.AccessKeyEnv = "MINIO_ACCESS_KEY"
		}
		if cfg.Store.MinIO.SecretKeyEnv == "" {
			cfg.Store.MinIO.SecretKeyEnv = "MINIO_SECRET_KEY"
		}
	}

	if cfg.Search.NProbe == 0 {
		cfg.Search.NProbe = 4
	}
	if cfg.Search.K == 0 {
		cfg.Search.K = 10
	}
	if cfg.Search.BatchSize == 0 {
		cfg.Search.BatchSize = 64
	}
	if cfg.Search.Batches == 0 {
		cfg.Search.Batches = 10
	}
	if cfg.Search.Strategy == "" {
		cfg.Search.Strategy = "shard_pipelined"
	}
	if cfg.Search.Seed == 0 {
		cfg.Search.Seed = 4711
	}

	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 8
	}
	if cfg.Cache.Policy == "" {
		cfg.Cache.Policy = "LFU"
	}
	if cfg.Cache.Ordering == "" {
		cfg.Cache.Ordering = "smallest_first"
	}

	if cfg.Prefetch.MaxWorkers == 0 {
		cfg.Prefetch.MaxWorkers = 1
	}

	if cfg.RankStore.Type == "" {
		cfg.RankStore.Type = "none"
	}
	if cfg.RankStore.Namespace == "" {
		cfg.RankStore.Namespace = "default"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "local":
	case "s3":
		if c.Store.S3 == nil || c.Store.S3.Bucket == "" {
			return errors.New("config: store.s3.bucket is required")
		}
	case "minio":
		if c.Store.MinIO == nil || c.Store.MinIO.Endpoint == "" || c.Store.MinIO.Bucket == "" {
			return errors.New("config: store.minio.endpoint and store.minio.bucket are required")
		}
	default:
		return fmt.Errorf("config: unknown store type %q", c.Store.Type)
	}

	if c.Search.K <= 0 {
		return fmt.Errorf("config: search.k must be positive, got %d", c.Search.K)
	}
	if c.Search.NProbe <= 0 {
		return fmt.Errorf("config: search.nprobe must be positive, got %d", c.Search.NProbe)
	}
	if c.Search.BatchSize <= 0 {
		return fmt.Errorf("config: search.batch_size must be positive, got %d", c.Search.BatchSize)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache.capacity must be positive, got %d", c.Cache.Capacity)
	}

	switch strings.ToLower(c.RankStore.Type) {
	case "none":
	case "badger":
		if c.RankStore.Dir == "" {
			return errors.New("config: rank_store.dir is required for badger")
		}
	case "dynamodb":
		if c.RankStore.Table == "" {
			return errors.New("config: rank_store.table is required for dynamodb")
		}
	default:
		return fmt.Errorf("config: unknown rank store type %q", c.RankStore.Type)
	}

	return nil
}
