package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the packgc service: the HTTP/metrics
// surface, the GC engine's thresholds, the pack-writer defaults, and the
// backend and database connections it drives against.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	GC       GCConfig                 `yaml:"gc"`
	Pack     PackConfig               `yaml:"pack"`
	Database DatabaseConfig           `yaml:"database"`
	Cache    CacheConfig              `yaml:"cache"`
	Backends map[string]BackendConfig `yaml:"backends"`
}

type ServerConfig struct {
	MetricsPort int    `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
}

// GCConfig mirrors the thresholds a run reads before classifying packs and
// sweeping garbage.
type GCConfig struct {
	// CoalesceGarbageLimit is the byte size below which an
	// UNREACHABLE_GARBAGE pack may be coalesced into the run's new garbage
	// pack; packs of this size or larger are left in place.
	CoalesceGarbageLimit int64 `yaml:"coalesce_garbage_limit"`
	// GarbageTTL is the minimum age (now minus the pack's own last-modified
	// time) before an UNREACHABLE_GARBAGE pack is eligible for deletion; the
	// pack must also predate the most recent GC pack.
	GarbageTTL time.Duration `yaml:"garbage_ttl"`
	// MaxConcurrentRuns is loaded and defaulted but not read anywhere; runs
	// against one repository are serialized by the run lock (gc.Acquire)
	// whatever its value.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// PackConfig carries defaults applied to every pack a writer produces.
type PackConfig struct {
	IndexVersion int `yaml:"index_version"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type CacheConfig struct {
	MemorySize int64  `yaml:"memory_size"`
	Algorithm  string `yaml:"algorithm"`
}

// BackendConfig describes one obj-db storage backend (local disk, S3-compatible).
type BackendConfig struct {
	Type     string                 `yaml:"type"`
	Endpoint string                 `yaml:"endpoint"`
	Options  map[string]interface{} `yaml:"options"`
}

// Default returns a Config populated with the values spec'd for production use.
func Default() Config {
	return Config{
		Server: ServerConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
		},
		GC: GCConfig{
			CoalesceGarbageLimit: 50 * 1024 * 1024,
			GarbageTTL:           24 * time.Hour,
			MaxConcurrentRuns:    1,
		},
		Pack: PackConfig{
			IndexVersion: 2,
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Cache: CacheConfig{
			Algorithm: "lru",
		},
		Backends: map[string]BackendConfig{},
	}
}

// Load reads a YAML config file over top of Default(). A missing file is not
// an error: callers get defaults plus whatever LoadFromEnv layers on.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
