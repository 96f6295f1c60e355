package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/tinycarbon/pkg/config"
)

var upgrader = websocket.Upgrader{
	// Same-origin browsers and clients that send no Origin at all
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// StatsHub pushes daemon stat snapshots (cache, pipeline, writer) to
// WebSocket clients
type StatsHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewStatsHub creates an empty hub; Run must be started before clients
// connect.
func NewStatsHub() *StatsHub {
	return &StatsHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then closes every client
func (h *StatsHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("Stats client connected (total: %d)", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if h.clients[conn] {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("Stats client disconnected (total: %d)", n)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

// send writes message to every client; clients that fail are dropped
// after the read lock is released.
func (h *StatsHub) send(message []byte) {
	var failed []*websocket.Conn

	h.mu.RLock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("Stats client write error: %v", err)
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, conn := range failed {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

// Broadcast queues data for every client. A snapshot is dropped, not
// blocked on, when the broadcast queue is full.
func (h *StatsHub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("Stats broadcast channel full, dropping snapshot")
	}
	return nil
}

// Publish broadcasts snapshot() every interval while clients are
// connected, until ctx is cancelled
func (h *StatsHub) Publish(ctx context.Context, interval time.Duration, snapshot func() interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.HasClients() {
				continue
			}
			if err := h.Broadcast(snapshot()); err != nil {
				log.Printf("Failed to encode stats snapshot: %v", err)
			}
		}
	}
}

// HasClients reports whether any client is connected
func (h *StatsHub) HasClients() bool {
	return h.ClientCount() > 0
}

// ClientCount returns the number of connected clients
func (h *StatsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles GET /v1/ws. Clients only receive; anything they
// send is read and discarded so control frames are processed.
func (h *StatsHub) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Stats client upgrade failed: %v", err)
			return
		}
		select {
		case h.register <- conn:
		case <-h.done:
			conn.Close()
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer func() {
			cancel()
			h.leave(conn)
		}()

		go h.ping(ctx, conn)

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("Stats client error: %v", err)
				}
				return
			}
		}
	}
}

// leave unregisters conn unless the hub has already stopped
func (h *StatsHub) leave(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *StatsHub) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
