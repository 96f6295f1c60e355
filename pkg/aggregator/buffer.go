package aggregator

import (
	"sort"
	"sync"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/rules"
)

// Buffer accumulates values for one aggregate metric, bucketed by interval.
type Buffer struct {
	Metric string

	mu         sync.Mutex
	configured bool
	frequency  int64
	fn         rules.AggFunc
	intervals  map[int64][]float64 // interval start -> pending values
}

func newBuffer(name string) *Buffer {
	return &Buffer{
		Metric:    name,
		intervals: make(map[int64][]float64),
	}
}

// Configure sets the interval width and reduction. Only the first call has
// an effect; it reports whether this call configured the buffer.
func (b *Buffer) Configure(frequency int64, fn rules.AggFunc) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.configured || frequency <= 0 {
		return false
	}
	b.frequency = frequency
	b.fn = fn
	b.configured = true
	return true
}

// Configured reports whether Configure has succeeded.
func (b *Buffer) Configured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured
}

// Settings returns the frequency and function, zero values if unconfigured.
func (b *Buffer) Settings() (int64, rules.AggFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frequency, b.fn
}

// Input adds dp to the interval containing its timestamp. Points are
// bucketed by their own timestamp, never by arrival time. It returns false
// if the buffer is not configured yet.
func (b *Buffer) Input(dp metric.Datapoint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.configured {
		return false
	}
	start := IntervalStart(dp.Timestamp, b.frequency)
	b.intervals[start] = append(b.intervals[start], dp.Value)
	return true
}

// Pending returns the number of intervals still open.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.intervals)
}

// discard drops every open interval and returns how many values they held
func (b *Buffer) discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for start, values := range b.intervals {
		n += len(values)
		delete(b.intervals, start)
	}
	return n
}

// collect detaches every interval that ended at or before cutoff and reduces
// it. Values added after the detach land in a fresh slice.
func (b *Buffer) collect(cutoff int64) []metric.Datapoint {
	b.mu.Lock()
	if !b.configured || len(b.intervals) == 0 {
		b.mu.Unlock()
		return nil
	}

	ready := make(map[int64][]float64)
	for start, values := range b.intervals {
		if start+b.frequency <= cutoff {
			ready[start] = values
			delete(b.intervals, start)
		}
	}
	fn := b.fn
	b.mu.Unlock()

	points := make([]metric.Datapoint, 0, len(ready))
	for start, values := range ready {
		if len(values) == 0 {
			continue
		}
		points = append(points, metric.Datapoint{Timestamp: start, Value: fn.Reduce(values)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points
}

// IntervalStart floors ts to a multiple of frequency.
func IntervalStart(ts, frequency int64) int64 {
	rem := ts % frequency
	if rem < 0 {
		rem += frequency
	}
	return ts - rem
}
