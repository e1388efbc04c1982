package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/rshade/memctl/internal/engine/batch"
	"github.com/rshade/memctl/internal/engine/cache"
)

// Defaults applied by New before the config file and environment are read.
const (
	DefaultBaseURL           = "http://localhost:8283"
	DefaultAPITokenEnv       = "MEMCTL_API_TOKEN"
	DefaultRequestsPerSecond = 5.0
	DefaultMinServiceVersion = "0.6.0"
	DefaultMaxConcurrent     = 4
	DefaultCacheTTLSeconds   = 300
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"

	configFileName = "config.yaml"
	outputTypeFile = "file"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the memctl configuration file.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"  json:"remote"`
	Batch   BatchConfig   `yaml:"batch"   json:"batch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Cache   CacheConfig   `yaml:"cache"   json:"cache"`
	History HistoryConfig `yaml:"history" json:"history"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	configPath string
}

// RemoteConfig describes how to reach the memory service.
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url"            json:"base_url"`
	Timeout           time.Duration `yaml:"timeout"             json:"timeout"` // 0 disables the per-request timeout
	APITokenEnv       string        `yaml:"api_token_env"       json:"api_token_env"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	MinServiceVersion string        `yaml:"min_service_version" json:"min_service_version"`
}

// APIToken reads the bearer token from the configured environment variable.
func (r RemoteConfig) APIToken() string {
	if r.APITokenEnv == "" {
		return ""
	}
	return os.Getenv(r.APITokenEnv)
}

// BatchConfig holds the bulk operation tunables.
type BatchConfig struct {
	BatchSize     int           `yaml:"batch_size"     json:"batch_size"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	TickInterval  time.Duration `yaml:"tick_interval"  json:"tick_interval"`
	SimPerItem    time.Duration `yaml:"sim_per_item"   json:"sim_per_item"`
	SimFloor      time.Duration `yaml:"sim_floor"      json:"sim_floor"`
}

// Simulated returns the simulated progress settings.
func (b BatchConfig) Simulated() batch.SimulatedConfig {
	return batch.SimulatedConfig{
		TickInterval: b.TickInterval,
		PerItem:      b.SimPerItem,
		Floor:        b.SimFloor,
	}
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level"  json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file"   json:"file"`
}

// CacheConfig controls the suggestion list cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"     json:"enabled"`
	Directory  string `yaml:"directory"   json:"directory"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// HistoryConfig locates the execution history file.
type HistoryConfig struct {
	File string `yaml:"file" json:"file"`
}

// MetricsConfig enables the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile"`
}

// Defaults returns a Config populated with built-in defaults only. Paths are
// resolved against dir.
func Defaults(dir string) *Config {
	sim := batch.DefaultSimulatedConfig()
	return &Config{
		Remote: RemoteConfig{
			BaseURL:           DefaultBaseURL,
			APITokenEnv:       DefaultAPITokenEnv,
			RequestsPerSecond: DefaultRequestsPerSecond,
			MinServiceVersion: DefaultMinServiceVersion,
		},
		Batch: BatchConfig{
			BatchSize:     batch.DefaultBatchSize,
			MaxConcurrent: DefaultMaxConcurrent,
			TickInterval:  sim.TickInterval,
			SimPerItem:    sim.PerItem,
			SimFloor:      sim.Floor,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Directory:  filepath.Join(dir, "cache"),
			TTLSeconds: DefaultCacheTTLSeconds,
		},
		History: HistoryConfig{
			File: filepath.Join(dir, "history.json"),
		},
		configPath: filepath.Join(dir, configFileName),
	}
}

// New returns the configuration from the global config file with
// environment overrides applied. A missing or unreadable file yields the
// defaults.
func New() *Config {
	dir, err := GetConfigDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), ".memctl")
	}

	cfg := Defaults(dir)
	if loadErr := cfg.Load(); loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
		Logger.Warn().
			Str("component", "config").
			Err(loadErr).
			Str("path", cfg.configPath).
			Msg("failed to load config file, using defaults")
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg
}

// Load reads the config file at ConfigPath over the current values.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", c.configPath, err)
	}
	return nil
}

// Save writes the configuration to ConfigPath, creating the directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	return os.WriteFile(c.configPath, data, 0o600)
}

func (c *Config) dir() string {
	if c.configPath == "" {
		if dir, err := GetConfigDir(); err == nil {
			return dir
		}
		return "."
	}
	return filepath.Dir(c.configPath)
}

// ConfigPath returns the file Load and Save use.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// SetConfigPath changes the file Load and Save use.
func (c *Config) SetConfigPath(path string) {
	c.configPath = path
}

// ApplyEnv overrides values from MEMCTL_* environment variables. Malformed
// numeric values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("MEMCTL_BASE_URL", &c.Remote.BaseURL)
	str("MEMCTL_MIN_SERVICE_VERSION", &c.Remote.MinServiceVersion)
	str("MEMCTL_LOG_LEVEL", &c.Logging.Level)
	str("MEMCTL_LOG_FORMAT", &c.Logging.Format)
	str("MEMCTL_LOG_FILE", &c.Logging.File)
	str("MEMCTL_HISTORY_FILE", &c.History.File)
	str("MEMCTL_CACHE_DIR", &c.Cache.Directory)
	str("MEMCTL_METRICS_TEXTFILE", &c.Metrics.Textfile)
	num("MEMCTL_BATCH_SIZE", &c.Batch.BatchSize)
	num("MEMCTL_MAX_CONCURRENT", &c.Batch.MaxConcurrent)
	if v, ok := lookup("MEMCTL_CACHE_TTL"); ok {
		if ttl, err := cache.ParseTTL(strings.TrimSpace(v)); err == nil {
			c.Cache.TTLSeconds = ttl
		}
	}

	if v, ok := lookup("MEMCTL_CACHE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
}

// Validate reports the first malformed value.
func (c *Config) Validate() error {
	switch {
	case c.Remote.BaseURL == "":
		return fmt.Errorf("%w: remote.base_url is required", ErrInvalidConfig)
	case c.Remote.Timeout < 0:
		return fmt.Errorf("%w: remote.timeout must be >= 0", ErrInvalidConfig)
	case c.Remote.RequestsPerSecond < 0:
		return fmt.Errorf("%w: remote.requests_per_second must be >= 0", ErrInvalidConfig)
	case c.Batch.BatchSize < batch.MinBatchSize || c.Batch.BatchSize > batch.MaxBatchSize:
		return fmt.Errorf("%w: batch.batch_size must be between %d and %d, got %d",
			ErrInvalidConfig, batch.MinBatchSize, batch.MaxBatchSize, c.Batch.BatchSize)
	case c.Batch.MaxConcurrent < 1:
		return fmt.Errorf("%w: batch.max_concurrent must be >= 1, got %d", ErrInvalidConfig, c.Batch.MaxConcurrent)
	case c.Batch.TickInterval <= 0:
		return fmt.Errorf("%w: batch.tick_interval must be > 0", ErrInvalidConfig)
	case c.Batch.SimPerItem < 0 || c.Batch.SimFloor < 0:
		return fmt.Errorf("%w: batch.sim_per_item and batch.sim_floor must be >= 0", ErrInvalidConfig)
	case c.Cache.TTLSeconds < 0 || c.Cache.TTLSeconds > cache.MaxTTLSeconds:
		return fmt.Errorf("%w: cache.ttl_seconds must be between 0 and %d", ErrInvalidConfig, cache.MaxTTLSeconds)
	}
	if c.Remote.MinServiceVersion != "" {
		if _, err := semver.NewVersion(c.Remote.MinServiceVersion); err != nil {
			return fmt.Errorf("%w: remote.min_service_version: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}
