package metrics

import (
	"sync"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// Counter sends its running total every time it changes
type Counter struct {
	name   string
	sender Sender
	now    func() time.Time

	mu     sync.Mutex
	values map[string]float64
}

// NewCounter creates a new counter metric
func NewCounter(name string, sender Sender) *Counter {
	return &Counter{
		name:   name,
		sender: sender,
		now:    time.Now,
		values: make(map[string]float64),
	}
}

// Inc increments the counter by 1
func (c *Counter) Inc(segments ...string) {
	c.Add(1, segments...)
}

// Add adds the given value to the counter. Negative values are ignored.
func (c *Counter) Add(value float64, segments ...string) {
	if value < 0 {
		return
	}

	name := Name(c.name, segments...)

	// Read the total under the lock so concurrent adds never send a stale value
	c.mu.Lock()
	c.values[name] += value
	total := c.values[name]
	c.mu.Unlock()

	c.sender.Send(metric.Sample{
		Metric:    name,
		Datapoint: metric.NewDatapoint(c.now(), total),
	})
}
