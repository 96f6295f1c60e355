package metrics

import (
	"strings"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// Sender accepts finished samples (the SDK client)
type Sender interface {
	Send(s metric.Sample)
}

// Collector is polled by the client on every flush
type Collector interface {
	Collect(now time.Time) []metric.Sample
}

// CounterInterface represents a counter metric
type CounterInterface interface {
	Inc(segments ...string)
	Add(value float64, segments ...string)
}

// GaugeInterface represents a gauge metric
type GaugeInterface interface {
	Set(value float64, segments ...string)
	Inc(segments ...string)
	Dec(segments ...string)
	Add(value float64, segments ...string)
	Sub(value float64, segments ...string)
}

// TimerInterface represents a timer metric
type TimerInterface interface {
	Observe(d time.Duration, segments ...string)
}

// Name joins a base name and extra segments into a metric path. Segments
// are sanitized so that values such as URL paths or status codes always
// produce a valid name.
func Name(base string, segments ...string) string {
	if len(segments) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('.')
		b.WriteString(Sanitize(s))
	}
	return b.String()
}

// Sanitize turns s into a single path segment: dots, slashes, spaces and
// other characters outside [A-Za-z0-9_-] become underscores.
func Sanitize(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}
