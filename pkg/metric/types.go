package metric

import (
	"strings"
	"time"
)

// Datapoint is a single sample: seconds since the epoch and a value.
type Datapoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// NewDatapoint builds a Datapoint at time t.
func NewDatapoint(t time.Time, v float64) Datapoint {
	return Datapoint{Timestamp: t.Unix(), Value: v}
}

// Time returns the datapoint timestamp as a time.Time
func (d Datapoint) Time() time.Time {
	return time.Unix(d.Timestamp, 0)
}

// Sample is a datapoint bound to the metric it belongs to.
type Sample struct {
	Metric string `json:"metric"`
	Datapoint
}

// Segments splits a dotted metric name into its path segments.
func Segments(name string) []string {
	return strings.Split(name, ".")
}
