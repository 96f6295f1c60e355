package sdk

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/sdk/batch"
	"github.com/nicktill/tinycarbon/pkg/sdk/metrics"
	"github.com/nicktill/tinycarbon/pkg/sdk/runtime"
	"github.com/nicktill/tinycarbon/pkg/sdk/transport"
)

// DefaultEndpoint is the HTTP ingest route of a local tinycarbon server
const DefaultEndpoint = "http://localhost:8080/v1/ingest"

// ClientConfig holds configuration for the tinycarbon client
type ClientConfig struct {
	// Prefix is prepended to every metric name, e.g. "myapp.web01"
	Prefix string `json:"prefix"`
	APIKey string `json:"api_key"`

	// Endpoint is either an HTTP ingest URL or tcp://host:port for the
	// plaintext line receiver.
	Endpoint   string        `json:"endpoint"`
	FlushEvery time.Duration `json:"flush_every"`

	MaxBatchSize   int  `json:"max_batch_size"`
	DisableRuntime bool `json:"disable_runtime"`
}

// Client is the main tinycarbon SDK client
type Client struct {
	config     ClientConfig
	transport  transport.Transport
	batcher    *batch.Batcher
	collectors []metrics.Collector

	counters map[string]*metrics.Counter
	gauges   map[string]*metrics.Gauge
	timers   map[string]*metrics.Timer
	mu       sync.RWMutex

	started atomic.Bool
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new tinycarbon client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("metric prefix is required")
	}
	if err := metric.ValidateName(cfg.Prefix); err != nil {
		return nil, fmt.Errorf("invalid metric prefix: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 10 * time.Second
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 1000
	}

	trans, err := newTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	client := &Client{
		config:    cfg,
		transport: trans,
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
		}),
		counters: make(map[string]*metrics.Counter),
		gauges:   make(map[string]*metrics.Gauge),
		timers:   make(map[string]*metrics.Timer),
		now:      time.Now,
	}

	if !cfg.DisableRuntime {
		client.collectors = append(client.collectors, runtime.NewCollector())
	}

	return client, nil
}

func newTransport(cfg ClientConfig) (transport.Transport, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "tcp":
		return transport.NewLine(u.Host)
	case "http", "https":
		return transport.NewHTTP(cfg.Endpoint, cfg.APIKey)
	}
	return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
}

// Counter returns a counter metric with the given name
func (c *Client) Counter(name string) metrics.CounterInterface {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, exists := c.counters[name]; exists {
		return counter
	}

	counter := metrics.NewCounter(name, c)
	c.counters[name] = counter
	return counter
}

// Gauge returns a gauge metric with the given name
func (c *Client) Gauge(name string) metrics.GaugeInterface {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gauge, exists := c.gauges[name]; exists {
		return gauge
	}

	gauge := metrics.NewGauge(name, c)
	c.gauges[name] = gauge
	return gauge
}

// Timer returns a timer metric with the given name. Its aggregates are
// sent on every flush interval.
func (c *Client) Timer(name string) metrics.TimerInterface {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, exists := c.timers[name]; exists {
		return timer
	}

	timer := metrics.NewTimer(name)
	c.timers[name] = timer
	return timer
}

// Register adds a collector polled on every flush interval
func (c *Client) Register(collector metrics.Collector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectors = append(c.collectors, collector)
}

// Start starts the client and begins collecting metrics
func (c *Client) Start(ctx context.Context) error {
	if c.started.Load() {
		return fmt.Errorf("client already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.started.Store(true)

	if err := c.batcher.Start(c.ctx); err != nil {
		return fmt.Errorf("failed to start batcher: %w", err)
	}

	go c.collectLoop()

	return nil
}

// Stop collects a final round, flushes remaining samples and closes the
// transport.
func (c *Client) Stop() error {
	if !c.started.Load() {
		return nil
	}

	c.cancel()
	<-c.done

	c.collect()

	c.started.Store(false)
	err := c.batcher.Stop()

	if closer, ok := c.transport.(io.Closer); ok {
		closer.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to flush metrics: %w", err)
	}
	return nil
}

// Send prefixes a sample and queues it (implements metrics.Sender)
func (c *Client) Send(s metric.Sample) {
	if !c.started.Load() {
		return
	}

	s.Metric = c.config.Prefix + "." + s.Metric
	c.batcher.Add(s)
}

// Failed returns the number of samples lost to transport errors
func (c *Client) Failed() uint64 {
	return c.batcher.Failed()
}

func (c *Client) collectLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Client) collect() {
	now := c.now()

	c.mu.RLock()
	collectors := make([]metrics.Collector, 0, len(c.collectors)+len(c.timers))
	collectors = append(collectors, c.collectors...)
	for _, timer := range c.timers {
		collectors = append(collectors, timer)
	}
	c.mu.RUnlock()

	for _, collector := range collectors {
		for _, s := range collector.Collect(now) {
			c.Send(s)
		}
	}
}
