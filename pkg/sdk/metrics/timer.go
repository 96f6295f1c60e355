package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// timerStats accumulates observations between two flushes
type timerStats struct {
	count int
	sum   float64
	min   float64
	max   float64
}

func (ts *timerStats) observe(v float64) {
	if ts.count == 0 || v < ts.min {
		ts.min = v
	}
	if ts.count == 0 || v > ts.max {
		ts.max = v
	}
	ts.count++
	ts.sum += v
}

// Timer records durations in memory and reports count, sum, mean, min and
// max (in milliseconds) per name when the client flushes it. Nothing is
// sent on Observe.
type Timer struct {
	name string

	mu    sync.Mutex
	stats map[string]*timerStats
}

// NewTimer creates a new timer metric
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		stats: make(map[string]*timerStats),
	}
}

// Observe records one duration
func (t *Timer) Observe(d time.Duration, segments ...string) {
	name := Name(t.name, segments...)
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.stats[name]
	if !ok {
		ts = &timerStats{}
		t.stats[name] = ts
	}
	ts.observe(ms)
}

// Collect returns the aggregates of every name observed since the last
// call and resets them.
func (t *Timer) Collect(now time.Time) []metric.Sample {
	t.mu.Lock()
	stats := t.stats
	t.stats = make(map[string]*timerStats, len(stats))
	t.mu.Unlock()

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	samples := make([]metric.Sample, 0, len(names)*5)
	for _, name := range names {
		ts := stats[name]
		for _, agg := range []struct {
			suffix string
			value  float64
		}{
			{"count", float64(ts.count)},
			{"sum", ts.sum},
			{"mean", ts.sum / float64(ts.count)},
			{"min", ts.min},
			{"max", ts.max},
		} {
			samples = append(samples, metric.Sample{
				Metric:    name + "." + agg.suffix,
				Datapoint: metric.NewDatapoint(now, agg.value),
			})
		}
	}
	return samples
}
