// Package config loads benchtrail settings from .benchtrail.yaml, BENCHTRAIL_
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/observability"
	"github.com/Sumatoshi-tech/benchtrail/pkg/persist"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/safeconv"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

const (
	configName      = ".benchtrail"
	configType      = "yaml"
	envPrefix       = "BENCHTRAIL"
	envKeySeparator = "_"
)

// Sentinel validation errors.
var (
	ErrInvalidSource       = errors.New("invalid benchmarks.source")
	ErrInvalidSnapshotMode = errors.New("invalid snapshot.mode")
	ErrInvalidTimeout      = errors.New("runner.timeout must be positive")
	ErrInvalidGrace        = errors.New("runner.grace must not be negative")
	ErrInvalidProvisionTTL = errors.New("provision.timeout must be positive")
	ErrInvalidTail         = errors.New("invalid runner.tail size")
	ErrInvalidBackend      = errors.New("invalid cache.backend")
	ErrInvalidCodec        = errors.New("invalid cache.codec")
	ErrMissingBackendAddr  = errors.New("cache backend address missing")
	ErrInvalidJobs         = errors.New("orchestrator.jobs must be positive")
	ErrInvalidCount        = errors.New("orchestrator.count must be positive")
	ErrInvalidLogLevel     = errors.New("invalid log.level")
	ErrInvalidSampleRatio  = errors.New("observability.sample_ratio must be within [0, 1]")
)

// Config holds all benchtrail settings.
type Config struct {
	Benchmarks    BenchmarksConfig    `mapstructure:"benchmarks"`
	Snapshot      SnapshotConfig      `mapstructure:"snapshot"`
	Provision     ProvisionConfig     `mapstructure:"provision"`
	Runner        RunnerConfig        `mapstructure:"runner"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Runs          RunsConfig          `mapstructure:"runs"`
	Log           LogConfig           `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// BenchmarksConfig locates benchmark code and its cache.
type BenchmarksConfig struct {
	// Dir is relative to the repository unless absolute.
	Dir string `mapstructure:"dir"`
	// Source is "latest" or "revision".
	Source string `mapstructure:"source"`
	// CacheDir is the fs cache root; <dir>/__benchmark_data__ when empty.
	CacheDir string `mapstructure:"cache_dir"`
}

// SnapshotConfig selects how revisions are materialized.
type SnapshotConfig struct {
	Mode string `mapstructure:"mode"`
	// Dir holds snapshots; the system temp dir when empty.
	Dir string `mapstructure:"dir"`
}

// ProvisionConfig configures --install environments.
type ProvisionConfig struct {
	Python       string   `mapstructure:"python"`
	Packages     []string `mapstructure:"packages"`
	Requirements string   `mapstructure:"requirements"`

	// Timeout bounds each venv or pip command.
	Timeout time.Duration `mapstructure:"timeout"`
}

// RunnerConfig bounds benchmark processes.
type RunnerConfig struct {
	Python  string        `mapstructure:"python"`
	Timeout time.Duration `mapstructure:"timeout"`
	Grace   time.Duration `mapstructure:"grace"`
	// Tail is a humanized size, e.g. "8KiB".
	Tail string `mapstructure:"tail"`
}

// CacheConfig selects the result store backend.
type CacheConfig struct {
	Backend  string         `mapstructure:"backend"`
	Codec    string         `mapstructure:"codec"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	S3       S3Config       `mapstructure:"s3"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// S3Config configures the s3 backend.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// OrchestratorConfig holds run defaults.
type OrchestratorConfig struct {
	Jobs  int `mapstructure:"jobs"`
	Count int `mapstructure:"count"`
}

// RunsConfig configures run record retention.
type RunsConfig struct {
	Dir      string        `mapstructure:"dir"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	MaxCount int           `mapstructure:"max_count"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ObservabilityConfig configures tracing and metrics export.
type ObservabilityConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// LoadConfig reads configPath when set, otherwise .benchtrail.yaml from
// repoDir, the working directory or $HOME. A missing file is not an error.
func LoadConfig(configPath, repoDir string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)

		if repoDir != "" {
			viperCfg.AddConfigPath(repoDir)
		}

		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if !bench.ValidSource(c.Benchmarks.Source) {
		return fmt.Errorf("%w: %q", ErrInvalidSource, c.Benchmarks.Source)
	}

	if !slices.Contains([]string{snapshot.ModeWorktree, snapshot.ModeExport}, c.Snapshot.Mode) {
		return fmt.Errorf("%w: %q", ErrInvalidSnapshotMode, c.Snapshot.Mode)
	}

	if c.Runner.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.Runner.Timeout)
	}

	if c.Provision.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProvisionTTL, c.Provision.Timeout)
	}

	if c.Runner.Grace < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidGrace, c.Runner.Grace)
	}

	_, err := c.TailBytes()
	if err != nil {
		return err
	}

	err = c.validateCache()
	if err != nil {
		return err
	}

	if c.Orchestrator.Jobs <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidJobs, c.Orchestrator.Jobs)
	}

	if c.Orchestrator.Count <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, c.Orchestrator.Count)
	}

	_, err = observability.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Observability.SampleRatio)
	}

	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case resultcache.BackendFS:
		_, err := persist.ByName(c.Cache.Codec)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidCodec, c.Cache.Codec)
		}
	case resultcache.BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("%w: cache.redis.addr", ErrMissingBackendAddr)
		}
	case resultcache.BackendPostgres:
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("%w: cache.postgres.dsn", ErrMissingBackendAddr)
		}
	case resultcache.BackendS3:
		if c.Cache.S3.Endpoint == "" || c.Cache.S3.Bucket == "" {
			return fmt.Errorf("%w: cache.s3.endpoint and cache.s3.bucket", ErrMissingBackendAddr)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Cache.Backend)
	}

	return nil
}

// TailBytes parses runner.tail.
func (c *Config) TailBytes() (int, error) {
	size, err := humanize.ParseBytes(c.Runner.Tail)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTail, c.Runner.Tail)
	}

	n, err := safeconv.Uint64ToInt(size)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidTail, c.Runner.Tail, err)
	}

	return n, nil
}

// BenchDir resolves benchmarks.dir against repoDir.
func (c *Config) BenchDir(repoDir string) string {
	return resolve(repoDir, c.Benchmarks.Dir)
}

// BenchRel is benchmarks.dir relative to repoDir, as it appears inside a
// snapshot.
func (c *Config) BenchRel(repoDir string) string {
	rel, err := filepath.Rel(repoDir, c.BenchDir(repoDir))
	if err != nil || strings.HasPrefix(rel, "..") {
		return bench.DefaultDirName
	}

	return rel
}

// CacheDir resolves the fs cache root.
func (c *Config) CacheDir(repoDir string) string {
	if c.Benchmarks.CacheDir == "" {
		return resultcache.DefaultRoot(c.BenchDir(repoDir))
	}

	return resolve(repoDir, c.Benchmarks.CacheDir)
}

// StoreOptions converts the cache section for resultcache.Open.
func (c *Config) StoreOptions(repoDir string) resultcache.Options {
	return resultcache.Options{
		Backend: c.Cache.Backend,
		Root:    c.CacheDir(repoDir),
		Codec:   c.Cache.Codec,
		Redis: resultcache.RedisOptions{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
			Prefix:   c.Cache.Redis.Prefix,
		},
		Postgres: resultcache.PostgresOptions{DSN: c.Cache.Postgres.DSN},
		S3: resultcache.S3Options{
			Endpoint:  c.Cache.S3.Endpoint,
			Bucket:    c.Cache.S3.Bucket,
			Prefix:    c.Cache.S3.Prefix,
			Region:    c.Cache.S3.Region,
			AccessKey: c.Cache.S3.AccessKey,
			SecretKey: c.Cache.S3.SecretKey,
			UseSSL:    c.Cache.S3.UseSSL,
		},
	}
}

// ObservabilityConfig converts the log and observability sections.
// verbosity raises the log level per -v.
func (c *Config) ObservabilityConfig(version string, mode observability.AppMode, verbosity int) observability.Config {
	cfg := observability.DefaultConfig()

	if c.Observability.ServiceName != "" {
		cfg.ServiceName = c.Observability.ServiceName
	}

	cfg.ServiceVersion = version
	cfg.Mode = mode
	cfg.OTLPEndpoint = c.Observability.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Observability.OTLPHeaders)
	cfg.OTLPInsecure = c.Observability.Insecure
	cfg.SampleRatio = c.Observability.SampleRatio
	cfg.Prometheus = c.Observability.MetricsAddr != ""
	cfg.LogJSON = c.Log.JSON

	level, err := observability.ParseLevel(c.Log.Level)
	if err == nil {
		cfg.LogLevel = level
	}

	cfg.LogLevel = observability.LevelFromVerbosity(cfg.LogLevel, verbosity)

	return cfg
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}

	return filepath.Join(base, path)
}
