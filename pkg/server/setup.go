package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/nicktill/tinycarbon/pkg/aggregator"
	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/export"
	"github.com/nicktill/tinycarbon/pkg/ingest"
	"github.com/nicktill/tinycarbon/pkg/rules"
	"github.com/nicktill/tinycarbon/pkg/server/monitor"
	"github.com/nicktill/tinycarbon/pkg/storage/badger"
	"github.com/nicktill/tinycarbon/pkg/storage/whisperdb"
)

// Components is every long-lived part of the daemon
type Components struct {
	Config config.Config

	Index    *badger.Index
	Store    *whisperdb.Storage
	Rules    *rules.Engine
	Cache    *cache.Cache
	Writer   *cache.Writer
	Pipeline *ingest.Pipeline
	Receiver *ingest.LineReceiver // nil when the line receiver is disabled
	Hub      *ingest.StatsHub

	Ingest *ingest.Handler
	Export *export.Handler

	WriterMonitor  *monitor.WriterMonitor
	StorageMonitor *monitor.StorageMonitor
	Registry       *prometheus.Registry
}

// LoadConfig starts from the defaults, applies the YAML file named by
// TINYCARBON_CONFIG (if set), then environment overrides.
func LoadConfig() (config.Config, error) {
	cfg := config.Default()

	if path := os.Getenv("TINYCARBON_CONFIG"); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
		log.Printf("Loaded config from %s", path)
	}

	cfg.Port = getPort(cfg.Port)
	cfg.LineReceiverAddr = getEnvString("TINYCARBON_LINE_ADDR", cfg.LineReceiverAddr)
	cfg.DataDir = getEnvString("TINYCARBON_DATA_DIR", cfg.DataDir)
	cfg.IndexDir = getEnvString("TINYCARBON_INDEX_DIR", cfg.IndexDir)
	cfg.RewriteRulesPath = getEnvString("TINYCARBON_REWRITE_RULES", cfg.RewriteRulesPath)
	cfg.AggregationRulesPath = getEnvString("TINYCARBON_AGGREGATION_RULES", cfg.AggregationRulesPath)
	cfg.MaxStorageGB = getEnvInt64("TINYCARBON_MAX_STORAGE_GB", cfg.MaxStorageGB)
	cfg.MaxMemoryMB = getEnvInt64("TINYCARBON_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	cfg.Cache.MaxSize = int(getEnvInt64("TINYCARBON_CACHE_MAX_SIZE", int64(cfg.Cache.MaxSize)))
	cfg.Cache.Strategy = getEnvString("TINYCARBON_CACHE_STRATEGY", cfg.Cache.Strategy)

	if cfg.IndexDir == "" {
		cfg.IndexDir = filepath.Join(cfg.DataDir, ".index")
	}
	return cfg, cfg.Validate()
}

func loadConfigFile(path string, cfg *config.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", config.ErrInvalidConfig, path, err)
	}
	return nil
}

// Initialize builds every component from cfg. Nothing runs until Start.
func Initialize(cfg config.Config) (*Components, error) {
	c := &Components{Config: cfg}

	log.Println("Opening series index...")
	index, err := badger.New(badger.Config{
		Path:        cfg.IndexDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	c.Index = index

	schemas, err := whisperdb.CompileSchemas(cfg.StorageSchemas, cfg.AggregationSchemas)
	if err != nil {
		index.Close()
		return nil, err
	}
	store, err := whisperdb.New(whisperdb.Config{
		DataDir: cfg.DataDir,
		Schemas: schemas,
		Sparse:  cfg.SparseCreate,
		Index:   index,
	})
	if err != nil {
		index.Close()
		return nil, err
	}
	c.Store = store
	log.Printf("Whisper storage ready at %s (%d storage schemas)", cfg.DataDir, len(cfg.StorageSchemas)+1)

	c.Rules = rules.NewEngine(cfg.RewriteRulesPath, cfg.AggregationRulesPath)
	if err := c.Rules.Reload(); err != nil {
		log.Printf("Failed to load rules, starting with none: %v", err)
	} else {
		rs := c.Rules.Rules()
		log.Printf("Loaded %d rewrite and %d aggregation rules", len(rs.Pre)+len(rs.Post), len(rs.Aggregations))
	}

	strategy, err := cache.ParseStrategy(cfg.Cache.Strategy)
	if err != nil {
		index.Close()
		return nil, err
	}
	c.Cache = cache.New(cfg.Cache.MaxSize, strategy)
	c.Writer = cache.NewWriter(c.Cache, store, cache.WriterConfig{
		MaxUpdatesPerSecond: cfg.Cache.MaxUpdatesPerSecond,
		MaxCreatesPerMinute: cfg.Cache.MaxCreatesPerMinute,
		Retries:             cfg.Cache.WriteRetries,
		Backoff:             cfg.Cache.RetryBackoff,
	})

	c.Pipeline = ingest.NewPipeline(c.Rules, c.Cache, aggregator.Config{
		FlushInterval: cfg.Aggregator.FlushInterval,
		Delay:         cfg.Aggregator.BufferDelay,
	})
	if cfg.LineReceiverAddr != "" {
		c.Receiver = ingest.NewLineReceiver(cfg.LineReceiverAddr, c.Pipeline)
	}
	c.Hub = ingest.NewStatsHub()
	c.Ingest = ingest.NewHandler(c.Pipeline)
	c.Export = export.NewHandler(store)

	c.WriterMonitor = monitor.NewWriterMonitor(c.Writer, c.Cache)
	c.StorageMonitor = monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB*1024*1024*1024)
	c.Registry = newRegistry(c)

	return c, nil
}

func newRegistry(c *Components) *prometheus.Registry {
	src := monitor.Sources{
		Cache:    c.Cache,
		Writer:   c.Writer,
		Pipeline: c.Pipeline,
		Rules:    c.Rules,
		Buffers:  c.Pipeline.Buffers(),
	}
	if c.Receiver != nil {
		src.Receiver = c.Receiver
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		monitor.NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Close releases the index; call after the writer has drained.
func (c *Components) Close() error {
	if err := c.Store.Close(); err != nil {
		log.Printf("Failed to close storage: %v", err)
	}
	return c.Index.Close()
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvString gets a string from environment variable or returns default.
func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getPort gets the HTTP port from TINYCARBON_PORT or PORT.
func getPort(defaultPort string) string {
	return getEnvString("TINYCARBON_PORT", getEnvString("PORT", defaultPort))
}
