package ingest

import (
	"errors"
	"sync/atomic"

	"github.com/nicktill/tinycarbon/pkg/aggregator"
	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/rules"
)

// RuleSource publishes the current rule generation
type RuleSource interface {
	Rules() *rules.RuleSet
}

// Sink accepts points that leave the pipeline (the write cache)
type Sink interface {
	Put(name string, dp metric.Datapoint) error
}

// Processor is what receivers hand parsed points to
type Processor interface {
	Process(name string, dp metric.Datapoint)
}

// PipelineStats counts what happened to points entering the pipeline
type PipelineStats struct {
	Received   uint64 `json:"received"`
	Generated  uint64 `json:"generated"`
	Forwarded  uint64 `json:"forwarded"`
	Aggregated uint64 `json:"aggregated"`
	Suppressed uint64 `json:"suppressed"`
	Invalid    uint64 `json:"invalid"`
	CacheFull  uint64 `json:"cacheFull"`
	Discarded  uint64 `json:"discarded"`
	Buffers    int    `json:"buffers"`
}

// Pipeline runs every point through pre-rewrite, aggregation and
// post-rewrite, then hands it to the sink. A point whose name equals one of
// its own aggregate outputs is consumed by the aggregation and not
// forwarded. Points produced by a buffer flush re-enter the pipeline but
// never feed the buffer that produced them.
type Pipeline struct {
	rules   RuleSource
	sink    Sink
	buffers *aggregator.Manager

	received   atomic.Uint64
	generated  atomic.Uint64
	forwarded  atomic.Uint64
	aggregated atomic.Uint64
	suppressed atomic.Uint64
	invalid    atomic.Uint64
	cacheFull  atomic.Uint64
}

// NewPipeline creates a pipeline and the buffer manager whose flushes feed
// back into it.
func NewPipeline(rs RuleSource, sink Sink, cfg aggregator.Config) *Pipeline {
	p := &Pipeline{rules: rs, sink: sink}
	p.buffers = aggregator.NewManager(cfg, p.generate)
	return p
}

// Buffers returns the aggregation buffer manager
func (p *Pipeline) Buffers() *aggregator.Manager {
	return p.buffers
}

// Process runs one received point through the pipeline
func (p *Pipeline) Process(name string, dp metric.Datapoint) {
	p.received.Add(1)
	p.process(name, dp, "")
}

// generate re-injects a point emitted by the buffer named origin
func (p *Pipeline) generate(origin string, dp metric.Datapoint) {
	p.generated.Add(1)
	p.process(origin, dp, origin)
}

func (p *Pipeline) process(name string, dp metric.Datapoint, origin string) {
	rs := p.rules.Rules()

	name = rs.Rewrite(rules.Pre, name)

	forward := true
	for _, m := range rs.AggregateMetrics(name) {
		if m.Output == origin {
			continue
		}
		b := p.buffers.Get(m.Output)
		b.Configure(m.Rule.Frequency, m.Rule.Func)
		if b.Input(dp) {
			p.aggregated.Add(1)
		}
		if m.Output == name {
			forward = false
		}
	}
	if !forward {
		p.suppressed.Add(1)
		return
	}

	name = rs.Rewrite(rules.Post, name)
	if err := metric.ValidateName(name); err != nil {
		p.invalid.Add(1)
		return
	}

	if err := p.sink.Put(name, dp); err != nil {
		if errors.Is(err, cache.ErrCacheFull) {
			p.cacheFull.Add(1)
		}
		return
	}
	p.forwarded.Add(1)
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Received:   p.received.Load(),
		Generated:  p.generated.Load(),
		Forwarded:  p.forwarded.Load(),
		Aggregated: p.aggregated.Load(),
		Suppressed: p.suppressed.Load(),
		Invalid:    p.invalid.Load(),
		CacheFull:  p.cacheFull.Load(),
		Discarded:  p.buffers.Discarded(),
		Buffers:    p.buffers.Len(),
	}
}
