package ingest

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/aggregator"
	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/rules"
)

type staticRules struct {
	rs *rules.RuleSet
}

func (s staticRules) Rules() *rules.RuleSet { return s.rs }

type recordingSink struct {
	mu     sync.Mutex
	points map[string][]metric.Datapoint
}

func newRecordingSink() *recordingSink {
	return &recordingSink{points: make(map[string][]metric.Datapoint)}
}

func (s *recordingSink) Put(name string, dp metric.Datapoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[name] = append(s.points[name], dp)
	return nil
}

func (s *recordingSink) get(name string) []metric.Datapoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metric.Datapoint(nil), s.points[name]...)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.points))
	for name := range s.points {
		names = append(names, name)
	}
	return names
}

func ruleSet(t *testing.T, rewrite, aggregation string) *rules.RuleSet {
	t.Helper()
	pre, post, err := rules.ParseRewriteRules("rewrite", strings.NewReader(rewrite))
	require.NoError(t, err)
	aggs, err := rules.ParseAggregationRules("aggregation", strings.NewReader(aggregation))
	require.NoError(t, err)
	return &rules.RuleSet{Pre: pre, Post: post, Aggregations: aggs}
}

func newTestPipeline(t *testing.T, rewrite, aggregation string, sink Sink) *Pipeline {
	t.Helper()
	return NewPipeline(staticRules{ruleSet(t, rewrite, aggregation)}, sink, aggregator.Config{})
}

func TestPipeline_ForwardsUnmatchedPoints(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, "", "", sink)

	p.Process("servers.web1.cpu", metric.Datapoint{Timestamp: 100, Value: 1})

	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 1}}, sink.get("servers.web1.cpu"))
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Forwarded)
	assert.Equal(t, 0, stats.Buffers)
}

func TestPipeline_RewritePhases(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, `
[pre]
^prod\. = production.
[post]
\.cpu$ = .cpu_total
`, "production.all.cpu (10) = sum production.*.cpu\n", sink)

	p.Process("prod.web1.cpu", metric.Datapoint{Timestamp: 100, Value: 2})

	// Aggregation matched the pre-rewritten name, storage got the
	// post-rewritten one.
	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 2}}, sink.get("production.web1.cpu_total"))
	require.Equal(t, 1, p.Buffers().Len())
	assert.Equal(t, 1, p.Buffers().Get("production.all.cpu").Pending())
}

func TestPipeline_FeedsEveryMatchingRule(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, "", `
stats.<<env>>.all (10) = sum stats.<<env>>.*
stats.everything (10) = max stats.*.web*
`, sink)

	p.Process("stats.prod.web1", metric.Datapoint{Timestamp: 100, Value: 3})
	p.Process("stats.prod.web2", metric.Datapoint{Timestamp: 101, Value: 4})

	assert.Equal(t, 2, p.Buffers().Len())
	assert.Equal(t, uint64(4), p.Stats().Aggregated)

	p.Buffers().Flush(time.Unix(200, 0))

	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 7}}, sink.get("stats.prod.all"))
	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 4}}, sink.get("stats.everything"))
	assert.Len(t, sink.get("stats.prod.web1"), 1)
	assert.Len(t, sink.get("stats.prod.web2"), 1)
}

func TestPipeline_SuppressesPointNamedLikeItsAggregate(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, "", "app.all (10) = sum app.*\n", sink)

	p.Process("app.all", metric.Datapoint{Timestamp: 100, Value: 5})
	p.Process("app.web", metric.Datapoint{Timestamp: 100, Value: 1})

	assert.Empty(t, sink.get("app.all"))
	assert.Equal(t, uint64(1), p.Stats().Suppressed)

	p.Buffers().Flush(time.Unix(200, 0))

	// The flushed aggregate is stored once and does not loop back into its
	// own buffer.
	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 6}}, sink.get("app.all"))
	assert.Equal(t, 0, p.Buffers().Get("app.all").Pending())
	assert.Equal(t, uint64(1), p.Stats().Generated)
}

func TestPipeline_SuppressionIgnoresPostRewrite(t *testing.T) {
	t.Run("post rule renames input onto output", func(t *testing.T) {
		sink := newRecordingSink()
		p := newTestPipeline(t, "[post]\n^app\\.web$ = app.all\n", "app.all (10) = sum app.*\n", sink)

		p.Process("app.web", metric.Datapoint{Timestamp: 100, Value: 1})

		// Aggregated under its own name and still forwarded after the rename
		assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 1}}, sink.get("app.all"))
		assert.Equal(t, uint64(0), p.Stats().Suppressed)
		assert.Equal(t, 1, p.Buffers().Get("app.all").Pending())
	})

	t.Run("post rule renames output away", func(t *testing.T) {
		sink := newRecordingSink()
		p := newTestPipeline(t, "[post]\n^app\\.all$ = app.total\n", "app.all (10) = sum app.*\n", sink)

		p.Process("app.all", metric.Datapoint{Timestamp: 100, Value: 5})

		assert.Empty(t, sink.get("app.total"))
		assert.Empty(t, sink.get("app.all"))
		assert.Equal(t, uint64(1), p.Stats().Suppressed)

		p.Buffers().Flush(time.Unix(200, 0))
		assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 5}}, sink.get("app.total"))
	})
}

func TestPipeline_GeneratedPointsFeedOtherRules(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, "", `
dc1.<<app>>.all (10) = sum dc1.<<app>>.*
dc1.<<app>>.max (10) = max dc1.<<app>>.all
`, sink)

	p.Process("dc1.api.web1", metric.Datapoint{Timestamp: 100, Value: 2})
	p.Process("dc1.api.web2", metric.Datapoint{Timestamp: 100, Value: 3})

	p.Buffers().Flush(time.Unix(200, 0))
	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 5}}, sink.get("dc1.api.all"))
	assert.Equal(t, 1, p.Buffers().Get("dc1.api.max").Pending())

	p.Buffers().Flush(time.Unix(200, 0))
	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 5}}, sink.get("dc1.api.max"))
}

func TestPipeline_DropsInvalidRewrittenNames(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, "[post]\n^.*$ = \n", "", sink)

	p.Process("servers.web1.cpu", metric.Datapoint{Timestamp: 100, Value: 1})

	assert.Empty(t, sink.names())
	assert.Equal(t, uint64(1), p.Stats().Invalid)
}

func TestPipeline_CountsCacheFull(t *testing.T) {
	c := cache.New(1, cache.StrategyMax)
	p := newTestPipeline(t, "", "", c)

	p.Process("a.b", metric.Datapoint{Timestamp: 100, Value: 1})
	p.Process("a.b", metric.Datapoint{Timestamp: 101, Value: 1})

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Forwarded)
	assert.Equal(t, uint64(1), stats.CacheFull)
	assert.Equal(t, uint64(1), c.Stats().DroppedFull)
}

func TestPipeline_SwappedRulesApplyToNextPoint(t *testing.T) {
	sink := newRecordingSink()
	engine := rules.NewEngine("", "")
	require.NoError(t, engine.Reload())
	p := NewPipeline(engine, sink, aggregator.Config{})

	p.Process("x.y", metric.Datapoint{Timestamp: 100, Value: 1})
	assert.Equal(t, 0, p.Buffers().Len())

	engine.Swap(ruleSet(t, "", "x.all (10) = sum x.*\n"))
	p.Process("x.y", metric.Datapoint{Timestamp: 100, Value: 1})
	assert.Equal(t, 1, p.Buffers().Len())
	assert.Len(t, sink.get("x.y"), 2)
}

func TestPipeline_ConcurrentProcess(t *testing.T) {
	sink := newRecordingSink()
	p := newTestPipeline(t, "", "load.total (10) = sum load.*\n", sink)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.Process("load.worker", metric.Datapoint{Timestamp: 100, Value: 1})
			}
		}()
	}
	wg.Wait()

	p.Buffers().Flush(time.Unix(200, 0))
	assert.Equal(t, []metric.Datapoint{{Timestamp: 100, Value: 800}}, sink.get("load.total"))
	assert.Len(t, sink.get("load.worker"), 800)
}
