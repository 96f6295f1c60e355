package monitor

import (
	"testing"
	"time"

	"github.com/nicktill/tinycarbon/pkg/cache"
)

type fakeWriter struct{ health cache.Health }

func (f *fakeWriter) Health() cache.Health { return f.health }

type fakePending int

func (p fakePending) Size() int { return int(p) }

func newTestWriterMonitor(h cache.Health, pending int, now time.Time) *WriterMonitor {
	wm := NewWriterMonitor(&fakeWriter{health: h}, fakePending(pending))
	wm.started = now.Add(-time.Hour)
	wm.now = func() time.Time { return now }
	return wm
}

func TestWriterMonitor_Healthy(t *testing.T) {
	now := time.Now()
	wm := newTestWriterMonitor(cache.Health{BatchesWritten: 10, LastSuccessAt: now.Add(-time.Second)}, 5, now)

	status := wm.Status()
	if !status.Healthy {
		t.Errorf("Status should be healthy, got reason %q", status.Reason)
	}
	if status.BatchesWritten != 10 {
		t.Errorf("BatchesWritten = %d, want 10", status.BatchesWritten)
	}
	if status.Pending != 5 {
		t.Errorf("Pending = %d, want 5", status.Pending)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
}

func TestWriterMonitor_IsHealthy(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		health   cache.Health
		pending  int
		expected bool
	}{
		{
			name:     "idle and never written",
			pending:  0,
			expected: true,
		},
		{
			name:     "pending but never written for an hour",
			pending:  10,
			expected: false,
		},
		{
			name:     "recent success",
			health:   cache.Health{LastSuccessAt: now.Add(-time.Minute)},
			pending:  10,
			expected: true,
		},
		{
			name:     "stale success with pending points",
			health:   cache.Health{LastSuccessAt: now.Add(-10 * time.Minute)},
			pending:  10,
			expected: false,
		},
		{
			name:     "stale success with empty cache",
			health:   cache.Health{LastSuccessAt: now.Add(-10 * time.Minute)},
			pending:  0,
			expected: true,
		},
		{
			name:     "three consecutive failures",
			health:   cache.Health{LastSuccessAt: now, ConsecutiveFailures: 3, LastError: "disk full", LastErrorAt: now},
			expected: true,
		},
		{
			name:     "four consecutive failures",
			health:   cache.Health{LastSuccessAt: now, ConsecutiveFailures: 4, LastError: "disk full", LastErrorAt: now},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wm := newTestWriterMonitor(tt.health, tt.pending, now)
			if got := wm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v (reason %q)", got, tt.expected, wm.Status().Reason)
			}
		})
	}
}

func TestWriterMonitor_ReportsLastError(t *testing.T) {
	now := time.Now()
	wm := newTestWriterMonitor(cache.Health{ConsecutiveFailures: 5, LastError: "disk full", LastErrorAt: now}, 1, now)

	status := wm.Status()
	if status.Healthy {
		t.Error("Status should be unhealthy")
	}
	if status.Reason != "writes are failing" {
		t.Errorf("Reason = %q", status.Reason)
	}
	if status.ConsecutiveErrors != 5 {
		t.Errorf("ConsecutiveErrors = %d, want 5", status.ConsecutiveErrors)
	}
	if status.LastError != "disk full" {
		t.Errorf("LastError = %q, want %q", status.LastError, "disk full")
	}
}
