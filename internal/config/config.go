// Package config loads Lodestone configuration from a YAML file merged
// with environment variables. Environment variables take precedence over
// the file, which takes precedence over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// ProjectConfigName is the per-project configuration file name.
const ProjectConfigName = ".lodestone.yaml"

// Config represents the complete Lodestone configuration.
type Config struct {
	Dispatcher  DispatcherConfig  `yaml:"dispatcher" json:"dispatcher"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator" json:"coordinator"`
	Index       IndexConfig       `yaml:"index" json:"index"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// DispatcherConfig configures the query dispatcher.
type DispatcherConfig struct {
	// Simple disables plugin loading entirely; every query takes the
	// BM25 path. Env: USE_SIMPLE_DISPATCHER.
	Simple bool `yaml:"simple" json:"simple"`

	// PluginLoadTimeout bounds lazy plugin construction.
	// Env: PLUGIN_LOAD_TIMEOUT (seconds).
	PluginLoadTimeout time.Duration `yaml:"plugin_load_timeout" json:"plugin_load_timeout"`

	// SearchTimeout bounds a single search operation.
	SearchTimeout time.Duration `yaml:"search_timeout" json:"search_timeout"`

	// MultiRepoTimeout bounds a delegated multi-repo search; on expiry the
	// dispatcher falls back to the local index with LocalFallbackTimeout.
	MultiRepoTimeout     time.Duration `yaml:"multi_repo_timeout" json:"multi_repo_timeout"`
	LocalFallbackTimeout time.Duration `yaml:"local_fallback_timeout" json:"local_fallback_timeout"`

	// AuthorizedRepos is the allow-list of external repository identifiers.
	// Env: AUTHORIZED_REFERENCE_REPOS (comma-separated).
	AuthorizedRepos []string `yaml:"authorized_repos" json:"authorized_repos"`
}

// CacheConfig configures the multi-tier query cache.
type CacheConfig struct {
	// MaxEntries bounds the number of L1 entries. Env: CACHE_MAX_ENTRIES.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// MaxMB bounds total L1 bytes. Env: CACHE_MAX_MB.
	MaxMB int `yaml:"max_mb" json:"max_mb"`

	// DefaultTTL applies to entries without an explicit TTL.
	// Env: CACHE_DEFAULT_TTL (seconds).
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// RedisURL enables the L2 tier when non-empty. Env: REDIS_URL.
	RedisURL string `yaml:"redis_url" json:"redis_url"`

	// DiskDir is the L3 cache directory. Defaults under the data dir.
	DiskDir string `yaml:"disk_dir" json:"disk_dir"`
}

// CoordinatorConfig tunes the distributed indexing coordinator.
type CoordinatorConfig struct {
	// BatchSize is the maximum files per job. Env: BATCH_SIZE.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxWorkers bounds the expected worker pool; job count is capped at
	// 2 x MaxWorkers. Env: MAX_WORKERS.
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`

	// HealthCheckInterval is the monitor loop period. Env: HEALTH_CHECK_INTERVAL (seconds).
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// HeartbeatInterval is the worker heartbeat period. Env: HEARTBEAT_INTERVAL (seconds).
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// ResultTTL is how long completed jobs are retained. Env: RESULT_TTL (seconds).
	ResultTTL time.Duration `yaml:"result_ttl" json:"result_ttl"`

	// MaxRetries is the per-job retry budget.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// IndexConfig configures index database discovery and ingest limits.
type IndexConfig struct {
	// DataDir is the root directory for index databases and the L3 cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// MultiPathDiscovery searches ExtraPaths for existing index databases.
	// Env: MULTI_PATH_DISCOVERY.
	MultiPathDiscovery bool `yaml:"multi_path_discovery" json:"multi_path_discovery"`

	// ExtraPaths are additional index search directories.
	// Env: INDEX_PATHS (colon-separated).
	ExtraPaths []string `yaml:"extra_paths" json:"extra_paths"`

	// MaxFileSize is the largest file the indexer will ingest, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			PluginLoadTimeout:    5 * time.Second,
			SearchTimeout:        10 * time.Second,
			MultiRepoTimeout:     10 * time.Second,
			LocalFallbackTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			MaxMB:      100,
			DefaultTTL: 10 * time.Minute,
		},
		Coordinator: CoordinatorConfig{
			BatchSize:           100,
			MaxWorkers:          4,
			HealthCheckInterval: 10 * time.Second,
			HeartbeatInterval:   5 * time.Second,
			ResultTTL:           time.Hour,
			MaxRetries:          3,
		},
		Index: IndexConfig{
			DataDir:            DefaultDataDir(),
			MultiPathDiscovery: true,
			MaxFileSize:        5 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns ~/.lodestone, falling back to the temp directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".lodestone")
	}
	return filepath.Join(home, ".lodestone")
}

// Load builds the effective configuration for a project root:
// defaults, overlaid by <root>/.lodestone.yaml if present, overlaid by
// environment variables.
func Load(rootPath string) (*Config, error) {
	cfg := Default()

	if rootPath != "" {
		path := filepath.Join(rootPath, ProjectConfigName)
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, lserr.Wrap(err, lserr.ErrCodeConfigInvalid,
					fmt.Sprintf("invalid config file %s", path))
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration from the recognized environment variables.
func (c *Config) applyEnv() {
	if v, ok := envBool("USE_SIMPLE_DISPATCHER"); ok {
		c.Dispatcher.Simple = v
	}
	if v, ok := envSeconds("PLUGIN_LOAD_TIMEOUT"); ok {
		c.Dispatcher.PluginLoadTimeout = v
	}
	if v := os.Getenv("AUTHORIZED_REFERENCE_REPOS"); v != "" {
		c.Dispatcher.AuthorizedRepos = splitNonEmpty(v, ",")
	}

	if v, ok := envInt("CACHE_MAX_ENTRIES"); ok {
		c.Cache.MaxEntries = v
	}
	if v, ok := envInt("CACHE_MAX_MB"); ok {
		c.Cache.MaxMB = v
	}
	if v, ok := envSeconds("CACHE_DEFAULT_TTL"); ok {
		c.Cache.DefaultTTL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}

	if v, ok := envInt("BATCH_SIZE"); ok {
		c.Coordinator.BatchSize = v
	}
	if v, ok := envInt("MAX_WORKERS"); ok {
		c.Coordinator.MaxWorkers = v
	}
	if v, ok := envSeconds("HEALTH_CHECK_INTERVAL"); ok {
		c.Coordinator.HealthCheckInterval = v
	}
	if v, ok := envSeconds("HEARTBEAT_INTERVAL"); ok {
		c.Coordinator.HeartbeatInterval = v
	}
	if v, ok := envSeconds("RESULT_TTL"); ok {
		c.Coordinator.ResultTTL = v
	}

	if v, ok := envBool("MULTI_PATH_DISCOVERY"); ok {
		c.Index.MultiPathDiscovery = v
	}
	if v := os.Getenv("INDEX_PATHS"); v != "" {
		c.Index.ExtraPaths = splitNonEmpty(v, ":")
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Cache.MaxEntries <= 0 {
		return lserr.Newf(lserr.ErrCodeConfigInvalid, "cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxMB <= 0 {
		return lserr.Newf(lserr.ErrCodeConfigInvalid, "cache.max_mb must be positive, got %d", c.Cache.MaxMB)
	}
	if c.Coordinator.BatchSize <= 0 {
		return lserr.Newf(lserr.ErrCodeConfigInvalid, "coordinator.batch_size must be positive, got %d", c.Coordinator.BatchSize)
	}
	if c.Coordinator.MaxWorkers <= 0 {
		return lserr.Newf(lserr.ErrCodeConfigInvalid, "coordinator.max_workers must be positive, got %d", c.Coordinator.MaxWorkers)
	}
	if c.Dispatcher.PluginLoadTimeout <= 0 {
		return lserr.Newf(lserr.ErrCodeConfigInvalid, "dispatcher.plugin_load_timeout must be positive")
	}
	return nil
}

// IndexDir returns the directory holding index databases.
func (c *Config) IndexDir() string {
	return filepath.Join(c.Index.DataDir, "indexes")
}

// CacheDir returns the L3 cache directory.
func (c *Config) CacheDir() string {
	if c.Cache.DiskDir != "" {
		return c.Cache.DiskDir
	}
	return filepath.Join(c.Index.DataDir, "cache")
}

// IndexSearchPaths returns the directories searched for an existing index
// database, in priority order.
func (c *Config) IndexSearchPaths() []string {
	paths := []string{c.IndexDir()}
	if c.Index.MultiPathDiscovery {
		paths = append(paths, c.Index.ExtraPaths...)
	}
	return paths
}

func envBool(key string) (bool, bool) {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envSeconds(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
