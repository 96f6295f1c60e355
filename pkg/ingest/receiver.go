package ingest

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/metric"
)

// maxLineLength bounds a single plaintext line
const maxLineLength = 64 * 1024

// ReceiverStats counts plaintext protocol traffic
type ReceiverStats struct {
	Connections  int64  `json:"connections"`
	LinesTotal   uint64 `json:"linesTotal"`
	LinesInvalid uint64 `json:"linesInvalid"`
}

// LineReceiver accepts "<metric> <value> <timestamp>\n" lines over TCP
type LineReceiver struct {
	addr        string
	processor   Processor
	readTimeout time.Duration

	ln    net.Listener
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	connections atomic.Int64
	lines       atomic.Uint64
	invalid     atomic.Uint64
}

// NewLineReceiver creates a receiver that will listen on addr
func NewLineReceiver(addr string, p Processor) *LineReceiver {
	return &LineReceiver{
		addr:        addr,
		processor:   p,
		readTimeout: config.LineReceiverReadTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket
func (r *LineReceiver) Listen() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	r.ln = ln
	return nil
}

// Addr returns the bound address; valid after Listen
func (r *LineReceiver) Addr() net.Addr {
	return r.ln.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes every open
// connection and waits for the handlers to return.
func (r *LineReceiver) Serve(ctx context.Context) error {
	log.Printf("Line receiver listening on %s", r.ln.Addr())

	go func() {
		<-ctx.Done()
		r.ln.Close()
		r.mu.Lock()
		for conn := range r.conns {
			conn.Close()
		}
		r.mu.Unlock()
	}()

	defer r.wg.Wait()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Line receiver accept error: %v", err)
			continue
		}

		r.mu.Lock()
		r.conns[conn] = struct{}{}
		r.mu.Unlock()

		r.wg.Add(1)
		go r.handle(conn)
	}
}

func (r *LineReceiver) handle(conn net.Conn) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		conn.Close()
		r.connections.Add(-1)
	}()
	r.connections.Add(1)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineLength)

	for {
		conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.lines.Add(1)

		sample, err := metric.ParseLine(line)
		if err != nil {
			r.invalid.Add(1)
			continue
		}
		r.processor.Process(sample.Metric, sample.Datapoint)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			log.Printf("Line receiver connection from %s: %v", conn.RemoteAddr(), err)
		}
	}
}

// Stats returns receiver counters
func (r *LineReceiver) Stats() ReceiverStats {
	return ReceiverStats{
		Connections:  r.connections.Load(),
		LinesTotal:   r.lines.Load(),
		LinesInvalid: r.invalid.Load(),
	}
}
