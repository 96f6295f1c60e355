package runtime

import (
	"runtime"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// Collector reports Go runtime gauges under "runtime."
type Collector struct{}

// NewCollector creates a new runtime collector
func NewCollector() *Collector {
	return &Collector{}
}

// Collect reads memory and scheduler statistics
func (c *Collector) Collect(now time.Time) []metric.Sample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	values := []struct {
		name  string
		value float64
	}{
		{"heap_alloc_bytes", float64(m.HeapAlloc)},
		{"heap_sys_bytes", float64(m.HeapSys)},
		{"heap_objects", float64(m.HeapObjects)},
		{"gc_pause_total_seconds", float64(m.PauseTotalNs) / 1e9},
		{"gc_cycles", float64(m.NumGC)},
		{"goroutines", float64(runtime.NumGoroutine())},
	}

	samples := make([]metric.Sample, 0, len(values))
	for _, v := range values {
		samples = append(samples, metric.Sample{
			Metric:    "runtime." + v.name,
			Datapoint: metric.NewDatapoint(now, v.value),
		})
	}
	return samples
}
