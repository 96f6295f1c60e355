package batch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/sdk/transport"
)

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration

	// SendTimeout bounds a single transport call
	SendTimeout time.Duration
}

// Batcher batches samples and sends them periodically
type Batcher struct {
	config    Config
	transport transport.Transport

	samples []metric.Sample
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// flushing keeps at most one background flush running
	flushing atomic.Bool
	sending  sync.WaitGroup
	failed   atomic.Uint64
}

// New creates a new batcher
func New(transport transport.Transport, config Config) *Batcher {
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	return &Batcher{
		config:    config,
		transport: transport,
		samples:   make([]metric.Sample, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the batcher
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add adds a sample to the batch. A full batch is flushed in the
// background unless a flush is already running.
func (b *Batcher) Add(s metric.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, s)
	shouldFlush := len(b.samples) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.sending.Add(1)
		go func() {
			defer b.sending.Done()
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Flush sends all pending samples and waits for the result
func (b *Batcher) Flush() error {
	samples := b.take()
	if len(samples) == 0 {
		return nil
	}
	return b.send(samples)
}

// Pending returns the number of samples waiting to be sent
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Failed returns the number of samples lost to transport errors
func (b *Batcher) Failed() uint64 {
	return b.failed.Load()
}

// Stop stops the flush loop, waits for background sends and flushes what
// is left.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.sending.Wait()

	return b.Flush()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

func (b *Batcher) flush() {
	samples := b.take()
	if len(samples) == 0 {
		return
	}
	if err := b.send(samples); err != nil {
		log.Printf("tinycarbon: failed to send %d samples: %v", len(samples), err)
	}
}

func (b *Batcher) take() []metric.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return nil
	}
	samples := make([]metric.Sample, len(b.samples))
	copy(samples, b.samples)
	b.samples = b.samples[:0]
	return samples
}

func (b *Batcher) send(samples []metric.Sample) error {
	// The final flush in Stop runs after the loop context is gone
	parent := context.Background()
	if b.ctx != nil && b.ctx.Err() == nil {
		parent = b.ctx
	}
	ctx, cancel := context.WithTimeout(parent, b.config.SendTimeout)
	defer cancel()

	err := b.transport.Send(ctx, samples)
	if err != nil {
		b.failed.Add(uint64(len(samples)))
	}
	return err
}
