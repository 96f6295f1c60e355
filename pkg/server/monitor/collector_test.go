package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/ingest"
)

type fakeCache struct{ stats cache.Stats }

func (f fakeCache) Stats() cache.Stats { return f.stats }

type fakePipeline struct{ stats ingest.PipelineStats }

func (f fakePipeline) Stats() ingest.PipelineStats { return f.stats }

type fakeRules struct{ reloads, failures uint64 }

func (f fakeRules) Stats() (uint64, uint64) { return f.reloads, f.failures }

func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestCollector_CacheAndPipeline(t *testing.T) {
	c := NewCollector(Sources{
		Cache: fakeCache{cache.Stats{Received: 10, Written: 6, Queued: 2, Dropped: 2, DroppedFull: 1, DroppedRange: 1, Size: 2}},
		Pipeline: fakePipeline{ingest.PipelineStats{Received: 12, Forwarded: 10, Suppressed: 2, Buffers: 3}},
		Rules:    fakeRules{reloads: 4, failures: 1},
	})

	families := gather(t, c)

	received := families["tinycarbon_cache_points_received_total"]
	require.NotNil(t, received)
	assert.Equal(t, 10.0, received.GetMetric()[0].GetCounter().GetValue())

	dropped := families["tinycarbon_cache_points_dropped_total"]
	require.NotNil(t, dropped)
	byReason := make(map[string]float64)
	for _, m := range dropped.GetMetric() {
		byReason[labelValue(m, "reason")] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 1.0, byReason["full"])
	assert.Equal(t, 1.0, byReason["range"])
	assert.Equal(t, 0.0, byReason["shutdown"])

	assert.Equal(t, 3.0, families["tinycarbon_aggregator_buffers"].GetMetric()[0].GetGauge().GetValue())
	assert.Len(t, families["tinycarbon_rules_reloads_total"].GetMetric(), 2)

	// Sources left nil produce no samples
	assert.NotContains(t, families, "tinycarbon_receiver_connections")
	assert.NotContains(t, families, "tinycarbon_writer_retries_total")
}

func TestCollector_Writer(t *testing.T) {
	c := NewCollector(Sources{Writer: &fakeWriter{cache.Health{BatchesWritten: 7, BatchesFailed: 2, ConsecutiveFailures: 1}}})

	families := gather(t, c)
	batches := families["tinycarbon_writer_batches_total"]
	require.NotNil(t, batches)
	require.Len(t, batches.GetMetric(), 2)
	assert.Equal(t, 1.0, families["tinycarbon_writer_consecutive_failures"].GetMetric()[0].GetGauge().GetValue())
}
