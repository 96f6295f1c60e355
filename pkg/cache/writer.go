package cache

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
)

// WriterConfig controls how the writer drains the cache
type WriterConfig struct {
	// MaxUpdatesPerSecond throttles file writes (0 = unlimited). The writer
	// waits for a token.
	MaxUpdatesPerSecond int

	// MaxCreatesPerMinute limits new series (0 = unlimited). Points for a
	// metric refused a create are dropped.
	MaxCreatesPerMinute int

	// Retries is the number of extra attempts after a failed write
	Retries int

	// Backoff is the delay before the first retry; it doubles per attempt
	Backoff time.Duration
}

// Health is a snapshot of the writer's recent behavior
type Health struct {
	BatchesWritten      uint64    `json:"batchesWritten"`
	BatchesFailed       uint64    `json:"batchesFailed"`
	Retries             uint64    `json:"retries"`
	Creates             uint64    `json:"creates"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastErrorAt         time.Time `json:"lastErrorAt,omitempty"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitempty"`
}

// Writer is the single goroutine that moves points from the cache to
// storage.
type Writer struct {
	cache   *Cache
	store   storage.Storage
	cfg     WriterConfig
	updates *rate.Limiter
	creates *rate.Limiter

	mu     sync.Mutex
	health Health
}

// NewWriter creates a writer for cache and store
func NewWriter(c *Cache, store storage.Storage, cfg WriterConfig) *Writer {
	w := &Writer{cache: c, store: store, cfg: cfg}
	if cfg.MaxUpdatesPerSecond > 0 {
		w.updates = rate.NewLimiter(rate.Limit(cfg.MaxUpdatesPerSecond), cfg.MaxUpdatesPerSecond)
	}
	if cfg.MaxCreatesPerMinute > 0 {
		w.creates = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxCreatesPerMinute)), cfg.MaxCreatesPerMinute)
	}
	return w
}

// Run drains the cache until ctx is cancelled. A batch interrupted by the
// cancellation goes back to the cache for Drain.
func (w *Writer) Run(ctx context.Context) {
	log.Printf("Cache writer started (strategy=%s)", w.cache.strategy)
	defer log.Println("Cache writer stopped")

	for {
		name, points, ok := w.cache.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.cache.Notify():
				continue
			}
		}

		if !w.writeBatch(ctx, name, points, true) {
			return
		}
	}
}

// Drain writes everything left in the cache, without update throttling,
// until the cache is empty or ctx expires. Points still queued at that
// point are dropped and counted as shutdown drops. It must not run
// concurrently with Run.
func (w *Writer) Drain(ctx context.Context) error {
	start := time.Now()
	pending := w.cache.Size()

	for {
		name, points, ok := w.cache.Pop()
		if !ok {
			break
		}
		if !w.writeBatch(ctx, name, points, false) {
			break
		}
	}

	if dropped := w.cache.DropAll(); dropped > 0 {
		log.Printf("Cache drain timed out: dropped %d points after %v", dropped, time.Since(start))
		return ctx.Err()
	}
	log.Printf("Cache drained: %d points in %v", pending, time.Since(start))
	return nil
}

// Health returns a snapshot of writer health
func (w *Writer) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.health
}

// writeBatch persists one detached queue and reports its outcome to the
// cache. It returns false, after requeueing the batch, when ctx ended
// before the batch could be finished.
func (w *Writer) writeBatch(ctx context.Context, name string, points []metric.Datapoint, throttle bool) bool {
	exists, err := w.store.Exists(name)
	if err != nil {
		w.fail(name, points, err)
		return true
	}

	if !exists {
		if w.creates != nil && !w.creates.Allow() {
			w.cache.Complete(name, Outcome{Create: len(points)})
			return true
		}
		if err := w.store.Create(ctx, name); err != nil {
			if ctx.Err() != nil {
				w.cache.Requeue(name, points)
				return false
			}
			w.fail(name, points, err)
			return true
		}
		w.mu.Lock()
		w.health.Creates++
		w.mu.Unlock()
	}

	if throttle && w.updates != nil {
		if err := w.updates.Wait(ctx); err != nil {
			w.cache.Requeue(name, points)
			return false
		}
	}

	sorted := append([]metric.Datapoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	backoff := w.cfg.Backoff
	for attempt := 0; ; attempt++ {
		rejected, err := w.store.Write(ctx, name, sorted)
		if err == nil {
			w.cache.Complete(name, Outcome{Written: len(points) - rejected, Range: rejected})
			w.succeed()
			return true
		}

		if ctx.Err() != nil {
			w.cache.Requeue(name, points)
			return false
		}
		if errors.Is(err, storage.ErrFormat) || attempt >= w.cfg.Retries {
			w.fail(name, points, err)
			return true
		}

		w.mu.Lock()
		w.health.Retries++
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			w.cache.Requeue(name, points)
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (w *Writer) fail(name string, points []metric.Datapoint, err error) {
	w.cache.Complete(name, Outcome{Error: len(points)})
	log.Printf("Failed to write %d points for %s: %v", len(points), name, err)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.health.BatchesFailed++
	w.health.ConsecutiveFailures++
	w.health.LastError = err.Error()
	w.health.LastErrorAt = time.Now()
}

func (w *Writer) succeed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.health.BatchesWritten++
	w.health.ConsecutiveFailures = 0
	w.health.LastSuccessAt = time.Now()
}
