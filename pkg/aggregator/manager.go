package aggregator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

const shardCount = 64

// Emitter receives every point produced by a flush.
type Emitter func(metricName string, dp metric.Datapoint)

// Config controls flushing.
type Config struct {
	// FlushInterval is how often buffers are scanned
	FlushInterval time.Duration

	// Delay is how long past an interval's end we wait for late points
	Delay time.Duration
}

type shard struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// Manager owns every aggregation buffer. Buffers are created lazily and live
// for the lifetime of the process; there is no eviction.
type Manager struct {
	cfg    Config
	emit   Emitter
	shards [shardCount]shard

	count     atomic.Int64
	flushed   atomic.Uint64
	discarded atomic.Uint64
	now       func() time.Time
}

// NewManager creates a manager that hands flushed points to emit.
func NewManager(cfg Config, emit Emitter) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	m := &Manager{cfg: cfg, emit: emit, now: time.Now}
	for i := range m.shards {
		m.shards[i].buffers = make(map[string]*Buffer)
	}
	return m
}

// Get returns the buffer for name, creating an unconfigured one if needed.
// Concurrent callers always get the same *Buffer for the same name.
func (m *Manager) Get(name string) *Buffer {
	s := &m.shards[xxhash.Sum64String(name)%shardCount]

	s.mu.RLock()
	b, ok := s.buffers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[name]; ok {
		return b
	}
	b = newBuffer(name)
	s.buffers[name] = b
	m.count.Add(1)
	return b
}

// Len returns the number of registered buffers.
func (m *Manager) Len() int {
	return int(m.count.Load())
}

// Flushed returns the total number of points emitted so far.
func (m *Manager) Flushed() uint64 {
	return m.flushed.Load()
}

// Discarded returns the number of values dropped with intervals still open
// at shutdown.
func (m *Manager) Discarded() uint64 {
	return m.discarded.Load()
}

// Flush emits every interval that ended at least Delay before now and
// returns the number of points emitted.
func (m *Manager) Flush(now time.Time) int {
	cutoff := now.Add(-m.cfg.Delay).Unix()

	emitted := 0
	for _, b := range m.snapshot() {
		for _, dp := range b.collect(cutoff) {
			m.emit(b.Metric, dp)
			emitted++
		}
	}
	m.flushed.Add(uint64(emitted))
	return emitted
}

// Run flushes every FlushInterval until ctx is cancelled. A final flush of
// already-finished intervals runs before returning; values in intervals that
// are still open are then discarded and counted.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	log.Printf("Aggregation flusher started (interval=%v, delay=%v)", m.cfg.FlushInterval, m.cfg.Delay)
	for {
		select {
		case <-ctx.Done():
			if n := m.Flush(m.now()); n > 0 {
				log.Printf("Aggregation flusher emitted %d points on shutdown", n)
			}
			if n := m.discardOpen(); n > 0 {
				log.Printf("Aggregation flusher discarded %d values in unfinished intervals", n)
			}
			return
		case <-ticker.C:
			m.Flush(m.now())
		}
	}
}

func (m *Manager) discardOpen() int {
	n := 0
	for _, b := range m.snapshot() {
		n += b.discard()
	}
	m.discarded.Add(uint64(n))
	return n
}

// snapshot copies the buffer pointers so emitting never holds a shard lock.
func (m *Manager) snapshot() []*Buffer {
	buffers := make([]*Buffer, 0, m.Len())
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for _, b := range s.buffers {
			buffers = append(buffers, b)
		}
		s.mu.RUnlock()
	}
	return buffers
}
