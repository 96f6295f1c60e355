package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/ingest"
)

const namespace = "tinycarbon"

// Sources are the components a Collector reads at scrape time. Nil
// sources are skipped.
type Sources struct {
	Cache    interface{ Stats() cache.Stats }
	Writer   HealthSource
	Pipeline interface{ Stats() ingest.PipelineStats }
	Receiver interface{ Stats() ingest.ReceiverStats }
	Rules    interface{ Stats() (reloads, failures uint64) }
	Buffers  interface{ Flushed() uint64 }
}

// Collector exposes daemon counters to Prometheus. Values are read from
// the components on every scrape; nothing is double counted.
type Collector struct {
	src Sources

	cacheReceived *prometheus.Desc
	cacheWritten  *prometheus.Desc
	cacheQueued   *prometheus.Desc
	cacheDropped  *prometheus.Desc
	cacheSize     *prometheus.Desc
	cacheInFlight *prometheus.Desc
	cacheMetrics  *prometheus.Desc

	writerBatches  *prometheus.Desc
	writerRetries  *prometheus.Desc
	writerCreates  *prometheus.Desc
	writerFailures *prometheus.Desc

	pipelinePoints *prometheus.Desc
	buffers        *prometheus.Desc
	bufferFlushed  *prometheus.Desc

	receiverConns *prometheus.Desc
	receiverLines *prometheus.Desc

	ruleReloads *prometheus.Desc
}

// NewCollector creates a collector over src
func NewCollector(src Sources) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &Collector{
		src: src,

		cacheReceived: desc("cache", "points_received_total", "Points offered to the write cache."),
		cacheWritten:  desc("cache", "points_written_total", "Points persisted to storage."),
		cacheQueued:   desc("cache", "points_queued", "Points accepted and not yet finished, including in-flight batches."),
		cacheDropped:  desc("cache", "points_dropped_total", "Points dropped, by reason.", "reason"),
		cacheSize:     desc("cache", "size", "Points waiting in cache queues."),
		cacheInFlight: desc("cache", "in_flight", "Points detached by the writer and not yet finished."),
		cacheMetrics:  desc("cache", "metrics", "Metrics with a pending queue."),

		writerBatches:  desc("writer", "batches_total", "Batches finished by the writer, by result.", "result"),
		writerRetries:  desc("writer", "retries_total", "Write attempts retried after an error."),
		writerCreates:  desc("writer", "creates_total", "Series created by the writer."),
		writerFailures: desc("writer", "consecutive_failures", "Failed batches since the last success."),

		pipelinePoints: desc("pipeline", "points_total", "Points seen by the pipeline, by outcome.", "outcome"),
		buffers:        desc("aggregator", "buffers", "Registered aggregation buffers."),
		bufferFlushed:  desc("aggregator", "points_flushed_total", "Aggregate points emitted by buffer flushes."),

		receiverConns: desc("receiver", "connections", "Open plaintext protocol connections."),
		receiverLines: desc("receiver", "lines_total", "Plaintext protocol lines read, by result.", "result"),

		ruleReloads: desc("rules", "reloads_total", "Rule reload attempts, by result.", "result"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cacheReceived, c.cacheWritten, c.cacheQueued, c.cacheDropped, c.cacheSize, c.cacheInFlight, c.cacheMetrics,
		c.writerBatches, c.writerRetries, c.writerCreates, c.writerFailures,
		c.pipelinePoints, c.buffers, c.bufferFlushed,
		c.receiverConns, c.receiverLines,
		c.ruleReloads,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	if c.src.Cache != nil {
		s := c.src.Cache.Stats()
		counter(c.cacheReceived, s.Received)
		counter(c.cacheWritten, s.Written)
		gauge(c.cacheQueued, float64(s.Queued))
		counter(c.cacheDropped, s.DroppedFull, "full")
		counter(c.cacheDropped, s.DroppedRange, "range")
		counter(c.cacheDropped, s.DroppedError, "error")
		counter(c.cacheDropped, s.DroppedCreate, "create")
		counter(c.cacheDropped, s.DroppedShutdown, "shutdown")
		gauge(c.cacheSize, float64(s.Size))
		gauge(c.cacheInFlight, float64(s.InFlight))
		gauge(c.cacheMetrics, float64(s.Metrics))
	}

	if c.src.Writer != nil {
		h := c.src.Writer.Health()
		counter(c.writerBatches, h.BatchesWritten, "written")
		counter(c.writerBatches, h.BatchesFailed, "failed")
		counter(c.writerRetries, h.Retries)
		counter(c.writerCreates, h.Creates)
		gauge(c.writerFailures, float64(h.ConsecutiveFailures))
	}

	if c.src.Pipeline != nil {
		s := c.src.Pipeline.Stats()
		counter(c.pipelinePoints, s.Received, "received")
		counter(c.pipelinePoints, s.Generated, "generated")
		counter(c.pipelinePoints, s.Forwarded, "forwarded")
		counter(c.pipelinePoints, s.Aggregated, "aggregated")
		counter(c.pipelinePoints, s.Suppressed, "suppressed")
		counter(c.pipelinePoints, s.Invalid, "invalid")
		counter(c.pipelinePoints, s.CacheFull, "cache_full")
		counter(c.pipelinePoints, s.Discarded, "discarded")
		gauge(c.buffers, float64(s.Buffers))
	}

	if c.src.Buffers != nil {
		counter(c.bufferFlushed, c.src.Buffers.Flushed())
	}

	if c.src.Receiver != nil {
		s := c.src.Receiver.Stats()
		gauge(c.receiverConns, float64(s.Connections))
		counter(c.receiverLines, s.LinesTotal-s.LinesInvalid, "valid")
		counter(c.receiverLines, s.LinesInvalid, "invalid")
	}

	if c.src.Rules != nil {
		reloads, failures := c.src.Rules.Stats()
		counter(c.ruleReloads, reloads, "success")
		counter(c.ruleReloads, failures, "failure")
	}
}
