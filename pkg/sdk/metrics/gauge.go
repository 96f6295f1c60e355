package metrics

import (
	"sync"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// Gauge sends its current value every time it changes
type Gauge struct {
	name   string
	sender Sender
	now    func() time.Time

	mu     sync.Mutex
	values map[string]float64
}

// NewGauge creates a new gauge metric
func NewGauge(name string, sender Sender) *Gauge {
	return &Gauge{
		name:   name,
		sender: sender,
		now:    time.Now,
		values: make(map[string]float64),
	}
}

// Set sets the gauge to the given value
func (g *Gauge) Set(value float64, segments ...string) {
	name := Name(g.name, segments...)

	g.mu.Lock()
	g.values[name] = value
	g.mu.Unlock()

	g.send(name, value)
}

// Inc increments the gauge by 1
func (g *Gauge) Inc(segments ...string) {
	g.Add(1, segments...)
}

// Dec decrements the gauge by 1
func (g *Gauge) Dec(segments ...string) {
	g.Add(-1, segments...)
}

// Sub subtracts the given value from the gauge
func (g *Gauge) Sub(value float64, segments ...string) {
	g.Add(-value, segments...)
}

// Add adds the given value to the gauge
func (g *Gauge) Add(value float64, segments ...string) {
	name := Name(g.name, segments...)

	g.mu.Lock()
	g.values[name] += value
	current := g.values[name]
	g.mu.Unlock()

	g.send(name, current)
}

func (g *Gauge) send(name string, value float64) {
	g.sender.Send(metric.Sample{
		Metric:    name,
		Datapoint: metric.NewDatapoint(g.now(), value),
	})
}
