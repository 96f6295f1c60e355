package config

import (
	"errors"
	"fmt"
	"time"
)

// Server defaults
const (
	DefaultPort             = "8080"
	DefaultLineReceiverAddr = ":2003"
	DefaultDataDir          = "./data"
	DefaultMaxStorageGB     = 1
	DefaultMaxMemoryMB      = 48
	DefaultShutdownGrace    = 10 * time.Second
)

// Rule files
const (
	DefaultRewriteRulesPath     = "rewrite-rules.conf"
	DefaultAggregationRulesPath = "aggregation-rules.conf"
	DefaultRuleWatchInterval    = 5 * time.Second
)

// Aggregation buffers
const (
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferDelay   = 0 * time.Second
)

// Write cache
const (
	DefaultCacheMaxSize        = 2_000_000
	DefaultCacheStrategy       = "max"
	DefaultMaxUpdatesPerSecond = 500
	DefaultMaxCreatesPerMinute = 50
	DefaultWriteRetries        = 3
	DefaultRetryBackoff        = 100 * time.Millisecond
	DefaultQueuesTopN          = 20
)

// Background tasks
const (
	BadgerGCInterval       = 10 * time.Minute
	StatsBroadcastInterval = 5 * time.Second
	StorageCheckInterval   = 1 * time.Minute
)

// HTTP timeouts and limits
const (
	IngestTimeout           = 5 * time.Second
	IngestMaxBodyBytes      = 10 << 20
	FetchTimeout            = 10 * time.Second
	FetchDefaultWindow      = 24 * time.Hour
	MetricsListTimeout      = 5 * time.Second
	MetricsListLimit        = 10000
	LineReceiverReadTimeout = 2 * time.Minute
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Defaults for series created without a matching schema
const (
	DefaultRetentions        = "60:1440"
	DefaultXFilesFactor      = 0.5
	DefaultAggregationMethod = "average"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config is the daemon configuration, read from YAML and overridden by
// environment variables.
type Config struct {
	Port             string `yaml:"port"`
	LineReceiverAddr string `yaml:"line_receiver_addr"`
	DataDir          string `yaml:"data_dir"`
	IndexDir         string `yaml:"index_dir"`
	SparseCreate     bool   `yaml:"sparse_create"`
	MaxStorageGB     int64  `yaml:"max_storage_gb"`
	MaxMemoryMB      int64  `yaml:"max_memory_mb"`

	RewriteRulesPath     string        `yaml:"rewrite_rules"`
	AggregationRulesPath string        `yaml:"aggregation_rules"`
	RuleWatchInterval    time.Duration `yaml:"rule_watch_interval"`

	Aggregator AggregatorConfig `yaml:"aggregator"`
	Cache      CacheConfig      `yaml:"cache"`

	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	StorageSchemas     []StorageSchema     `yaml:"storage_schemas"`
	AggregationSchemas []AggregationSchema `yaml:"aggregation_schemas"`
}

type AggregatorConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferDelay   time.Duration `yaml:"buffer_delay"`
}

type CacheConfig struct {
	MaxSize             int           `yaml:"max_size"`
	Strategy            string        `yaml:"strategy"`
	MaxUpdatesPerSecond int           `yaml:"max_updates_per_second"`
	MaxCreatesPerMinute int           `yaml:"max_creates_per_minute"`
	WriteRetries        int           `yaml:"write_retries"`
	RetryBackoff        time.Duration `yaml:"retry_backoff"`
}

// StorageSchema picks the archives of a new series. Retentions is a comma
// separated list such as "10s:6h,1m:7d,10m:1y".
type StorageSchema struct {
	Name       string `yaml:"name"`
	Pattern    string `yaml:"pattern"`
	Retentions string `yaml:"retentions"`
}

// AggregationSchema picks the rollup settings of a new series. A nil
// XFilesFactor means the default.
type AggregationSchema struct {
	Name              string   `yaml:"name"`
	Pattern           string   `yaml:"pattern"`
	XFilesFactor      *float64 `yaml:"xfiles_factor"`
	AggregationMethod string   `yaml:"aggregation_method"`
}

// Default returns a config with every field set to its default.
func Default() Config {
	return Config{
		Port:                 DefaultPort,
		LineReceiverAddr:     DefaultLineReceiverAddr,
		DataDir:              DefaultDataDir,
		MaxStorageGB:         DefaultMaxStorageGB,
		MaxMemoryMB:          DefaultMaxMemoryMB,
		RewriteRulesPath:     DefaultRewriteRulesPath,
		AggregationRulesPath: DefaultAggregationRulesPath,
		RuleWatchInterval:    DefaultRuleWatchInterval,
		Aggregator: AggregatorConfig{
			FlushInterval: DefaultFlushInterval,
			BufferDelay:   DefaultBufferDelay,
		},
		Cache: CacheConfig{
			MaxSize:             DefaultCacheMaxSize,
			Strategy:            DefaultCacheStrategy,
			MaxUpdatesPerSecond: DefaultMaxUpdatesPerSecond,
			MaxCreatesPerMinute: DefaultMaxCreatesPerMinute,
			WriteRetries:        DefaultWriteRetries,
			RetryBackoff:        DefaultRetryBackoff,
		},
		ShutdownGracePeriod: DefaultShutdownGrace,
	}
}

var cacheStrategies = map[string]bool{"max": true, "sorted": true, "naive": true}

// Validate checks field ranges. Schema patterns and retentions are compiled
// by the storage layer, which reports its own errors.
func (c Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidConfig)
	case c.Port == "":
		return fmt.Errorf("%w: port is empty", ErrInvalidConfig)
	case c.Cache.MaxSize <= 0:
		return fmt.Errorf("%w: cache.max_size must be positive, got %d", ErrInvalidConfig, c.Cache.MaxSize)
	case !cacheStrategies[c.Cache.Strategy]:
		return fmt.Errorf("%w: cache.strategy %q (want max, sorted or naive)", ErrInvalidConfig, c.Cache.Strategy)
	case c.Cache.MaxUpdatesPerSecond < 0:
		return fmt.Errorf("%w: cache.max_updates_per_second is negative", ErrInvalidConfig)
	case c.Cache.MaxCreatesPerMinute < 0:
		return fmt.Errorf("%w: cache.max_creates_per_minute is negative", ErrInvalidConfig)
	case c.Cache.WriteRetries < 0:
		return fmt.Errorf("%w: cache.write_retries is negative", ErrInvalidConfig)
	case c.Aggregator.FlushInterval <= 0:
		return fmt.Errorf("%w: aggregator.flush_interval must be positive", ErrInvalidConfig)
	case c.Aggregator.BufferDelay < 0:
		return fmt.Errorf("%w: aggregator.buffer_delay is negative", ErrInvalidConfig)
	case c.ShutdownGracePeriod < 0:
		return fmt.Errorf("%w: shutdown_grace_period is negative", ErrInvalidConfig)
	case c.RuleWatchInterval < 0:
		return fmt.Errorf("%w: rule_watch_interval is negative", ErrInvalidConfig)
	}

	for i, s := range c.StorageSchemas {
		if s.Pattern == "" || s.Retentions == "" {
			return fmt.Errorf("%w: storage_schemas[%d] needs pattern and retentions", ErrInvalidConfig, i)
		}
	}
	for i, s := range c.AggregationSchemas {
		if s.Pattern == "" {
			return fmt.Errorf("%w: aggregation_schemas[%d] needs a pattern", ErrInvalidConfig, i)
		}
		if s.XFilesFactor != nil && (*s.XFilesFactor < 0 || *s.XFilesFactor > 1) {
			return fmt.Errorf("%w: aggregation_schemas[%d].xfiles_factor must be between 0 and 1", ErrInvalidConfig, i)
		}
	}
	return nil
}
