package monitor

import (
	"time"

	"github.com/nicktill/tinycarbon/pkg/cache"
)

const (
	// maxConsecutiveFailures before the writer is reported unhealthy
	maxConsecutiveFailures = 3

	// stallTimeout is how long points may sit in the cache without a
	// successful write before the writer counts as stalled
	stallTimeout = 5 * time.Minute
)

// HealthSource is what the monitor reads; *cache.Writer implements it
type HealthSource interface {
	Health() cache.Health
}

// Pending reports how many points wait in the cache
type Pending interface {
	Size() int
}

// WriterMonitor judges cache writer health from its counters.
type WriterMonitor struct {
	writer  HealthSource
	pending Pending
	started time.Time
	now     func() time.Time
}

// NewWriterMonitor creates a monitor for writer draining pending
func NewWriterMonitor(writer HealthSource, pending Pending) *WriterMonitor {
	return &WriterMonitor{writer: writer, pending: pending, started: time.Now(), now: time.Now}
}

// WriterStatus is the writer section of the health check
type WriterStatus struct {
	Healthy           bool   `json:"healthy"`
	Reason            string `json:"reason,omitempty"`
	Pending           int    `json:"pending"`
	BatchesWritten    uint64 `json:"batches_written"`
	BatchesFailed     uint64 `json:"batches_failed"`
	Retries           uint64 `json:"retries"`
	Creates           uint64 `json:"creates"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorAt       string `json:"last_error_at,omitempty"`
}

// IsHealthy returns true if the writer is keeping up.
// Unhealthy conditions:
//   - More than 3 consecutive failed batches
//   - Points pending and no successful write for 5 minutes
func (wm *WriterMonitor) IsHealthy() bool {
	return wm.Status().Healthy
}

// Status returns the current writer status for health checks
func (wm *WriterMonitor) Status() WriterStatus {
	h := wm.writer.Health()
	now := wm.now()

	status := WriterStatus{
		Healthy:        true,
		Pending:        wm.pending.Size(),
		BatchesWritten: h.BatchesWritten,
		BatchesFailed:  h.BatchesFailed,
		Retries:        h.Retries,
		Creates:        h.Creates,
	}

	lastProgress := wm.started
	if !h.LastSuccessAt.IsZero() {
		status.LastSuccess = h.LastSuccessAt.Format(time.RFC3339)
		status.TimeSinceSuccess = now.Sub(h.LastSuccessAt).Round(time.Second).String()
		lastProgress = h.LastSuccessAt
	}
	if h.ConsecutiveFailures > 0 {
		status.ConsecutiveErrors = h.ConsecutiveFailures
		status.LastError = h.LastError
		status.LastErrorAt = h.LastErrorAt.Format(time.RFC3339)
	}

	switch {
	case h.ConsecutiveFailures > maxConsecutiveFailures:
		status.Healthy = false
		status.Reason = "writes are failing"
	case status.Pending > 0 && now.Sub(lastProgress) > stallTimeout:
		status.Healthy = false
		status.Reason = "writer is stalled"
	}
	return status
}
