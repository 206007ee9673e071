package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/provision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runrecord"
	"github.com/Sumatoshi-tech/benchtrail/pkg/snapshot"
)

// Defaults.
const (
	DefaultBenchmarksDir    = bench.DefaultDirName
	DefaultBenchmarksSource = bench.SourceLatest
	DefaultSnapshotMode     = snapshot.ModeWorktree
	DefaultPython           = "python3"
	DefaultProvisionTimeout = provision.DefaultTimeout
	DefaultRunnerTimeout    = 30 * time.Minute
	DefaultRunnerGrace      = 5 * time.Second
	DefaultRunnerTail       = "8KiB"
	DefaultCacheBackend     = resultcache.BackendFS
	DefaultCacheCodec       = "json"
	DefaultRedisAddr        = ""
	DefaultRedisPrefix      = resultcache.DefaultRedisPrefix
	DefaultJobs             = 1
	DefaultCount            = 10
	DefaultRunsMaxAge       = runrecord.DefaultMaxAge
	DefaultRunsMaxCount     = runrecord.DefaultMaxCount
	DefaultLogLevel         = "warn"
	DefaultServiceName      = "benchtrail"
)

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("benchmarks.dir", DefaultBenchmarksDir)
	viperCfg.SetDefault("benchmarks.source", DefaultBenchmarksSource)
	viperCfg.SetDefault("benchmarks.cache_dir", "")

	viperCfg.SetDefault("snapshot.mode", DefaultSnapshotMode)
	viperCfg.SetDefault("snapshot.dir", "")

	viperCfg.SetDefault("provision.python", DefaultPython)
	viperCfg.SetDefault("provision.packages", []string{})
	viperCfg.SetDefault("provision.requirements", "")
	viperCfg.SetDefault("provision.timeout", DefaultProvisionTimeout)

	viperCfg.SetDefault("runner.python", DefaultPython)
	viperCfg.SetDefault("runner.timeout", DefaultRunnerTimeout)
	viperCfg.SetDefault("runner.grace", DefaultRunnerGrace)
	viperCfg.SetDefault("runner.tail", DefaultRunnerTail)

	viperCfg.SetDefault("cache.backend", DefaultCacheBackend)
	viperCfg.SetDefault("cache.codec", DefaultCacheCodec)
	viperCfg.SetDefault("cache.redis.addr", DefaultRedisAddr)
	viperCfg.SetDefault("cache.redis.password", "")
	viperCfg.SetDefault("cache.redis.db", 0)
	viperCfg.SetDefault("cache.redis.prefix", DefaultRedisPrefix)
	viperCfg.SetDefault("cache.postgres.dsn", "")
	viperCfg.SetDefault("cache.s3.endpoint", "")
	viperCfg.SetDefault("cache.s3.bucket", "")
	viperCfg.SetDefault("cache.s3.prefix", "")
	viperCfg.SetDefault("cache.s3.region", "")
	viperCfg.SetDefault("cache.s3.access_key", "")
	viperCfg.SetDefault("cache.s3.secret_key", "")
	viperCfg.SetDefault("cache.s3.use_ssl", true)

	viperCfg.SetDefault("orchestrator.jobs", DefaultJobs)
	viperCfg.SetDefault("orchestrator.count", DefaultCount)

	viperCfg.SetDefault("runs.dir", "")
	viperCfg.SetDefault("runs.max_age", DefaultRunsMaxAge)
	viperCfg.SetDefault("runs.max_count", DefaultRunsMaxCount)

	viperCfg.SetDefault("log.level", DefaultLogLevel)
	viperCfg.SetDefault("log.json", false)

	viperCfg.SetDefault("observability.service_name", DefaultServiceName)
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.insecure", false)
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.metrics_addr", "")
}
