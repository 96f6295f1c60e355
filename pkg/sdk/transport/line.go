package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// LineTransport writes samples as plaintext protocol lines over one TCP
// connection. The connection is opened lazily and reopened on the next
// Send after a write error.
type LineTransport struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewLine creates a plaintext transport for host:port
func NewLine(addr string) (*LineTransport, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid line receiver address %q: %w", addr, err)
	}
	return &LineTransport{addr: addr, dialTimeout: 5 * time.Second}, nil
}

// Send writes every sample, one line each
func (t *LineTransport) Send(ctx context.Context, samples []metric.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		d := net.Dialer{Timeout: t.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
		}
		t.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Time{})
	}

	w := bufio.NewWriter(t.conn)
	for _, s := range samples {
		if _, err := w.WriteString(metric.FormatLine(s)); err != nil {
			t.reset()
			return fmt.Errorf("failed to write to %s: %w", t.addr, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.reset()
		return fmt.Errorf("failed to write to %s: %w", t.addr, err)
	}
	return nil
}

// Close closes the connection, if one is open
func (t *LineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *LineTransport) reset() {
	t.conn.Close()
	t.conn = nil
}
