package main

import (
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/nicktill/tinycarbon/pkg/sdk/metrics"
)

// app holds the business metrics the handlers report
type app struct {
	errors  metrics.CounterInterface
	active  metrics.GaugeInterface
	backend metrics.TimerInterface
	stats   *statsClient
}

// setupHandlers configures all HTTP handlers. The endpoints return mock
// data; httpx.Middleware records request counts and latency for all of them.
func (a *app) setupHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/users", a.handleBackend("users", 50, 50, 0.02,
		`{"users": [{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}]}`))
	mux.HandleFunc("/api/orders", a.handleBackend("orders", 80, 40, 0,
		`{"orders": [{"id": 1, "total": 99.99}, {"id": 2, "total": 149.99}]}`))
	mux.HandleFunc("/api/products", a.handleBackend("products", 30, 30, 0,
		`{"products": [{"id": 1, "name": "Widget"}, {"id": 2, "name": "Gadget"}]}`))

	mux.HandleFunc("/health", handleHealth)

	// Request totals read back from tinycarbon
	mux.HandleFunc("/api/stats", a.handleStats)
}

// handleBackend simulates a backend call taking base..base+jitter ms that
// fails with the given probability.
func (a *app) handleBackend(name string, base, jitter int, errRate float32, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.active.Inc()
		defer a.active.Dec()

		latency := time.Duration(base+rand.Intn(jitter)) * time.Millisecond
		time.Sleep(latency)
		a.backend.Observe(latency, name)

		if rand.Float32() < errRate {
			a.errors.Inc(name)
			log.Printf("⚠️  ERROR: /api/%s request failed (latency: %v)", name, latency)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "healthy", "uptime": "` + time.Since(startTime).Round(time.Second).String() + `"}`))
}
