package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// ingestServer collects every sample posted to it
type ingestServer struct {
	*httptest.Server
	mu      sync.Mutex
	samples map[string][]float64
}

func newIngestServer(t *testing.T) *ingestServer {
	s := &ingestServer{samples: make(map[string][]float64)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Metrics []metric.Sample `json:"metrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		for _, m := range req.Metrics {
			s.samples[m.Metric] = append(s.samples[m.Metric], m.Value)
		}
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ingestServer) values(name string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.samples[name]...)
}

func TestClientCreation(t *testing.T) {
	client, err := New(ClientConfig{
		Prefix:     "test-service",
		Endpoint:   "http://localhost:8080/v1/ingest",
		FlushEvery: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.Counter("requests") == nil {
		t.Fatal("Counter is nil")
	}
	if client.Gauge("queue_depth") == nil {
		t.Fatal("Gauge is nil")
	}
	if client.Timer("latency") == nil {
		t.Fatal("Timer is nil")
	}
	if client.Counter("requests") != client.Counter("requests") {
		t.Error("Counter() should return the same instance for the same name")
	}
}

func TestClientConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
	}{
		{"missing prefix", ClientConfig{}},
		{"invalid prefix", ClientConfig{Prefix: "my app"}},
		{"unsupported scheme", ClientConfig{Prefix: "app", Endpoint: "udp://localhost:2003"}},
		{"line endpoint without port", ClientConfig{Prefix: "app", Endpoint: "tcp://localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Errorf("New(%+v) should fail", tt.cfg)
			}
		})
	}
}

func TestClientDefaults(t *testing.T) {
	client, err := New(ClientConfig{Prefix: "app"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.config.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want %q", client.config.Endpoint, DefaultEndpoint)
	}
	if client.config.FlushEvery != 10*time.Second {
		t.Errorf("FlushEvery = %v, want 10s", client.config.FlushEvery)
	}
	if len(client.collectors) != 1 {
		t.Errorf("expected the runtime collector to be registered, got %d collectors", len(client.collectors))
	}
}

func TestClientStartStop(t *testing.T) {
	server := newIngestServer(t)
	client, err := New(ClientConfig{
		Prefix:     "test-service",
		Endpoint:   server.URL,
		FlushEvery: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	if err := client.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("Failed to stop client: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Errorf("second Stop() should be a no-op, got %v", err)
	}

	// The final collection includes runtime gauges
	if len(server.values("test-service.runtime.goroutines")) == 0 {
		t.Error("expected runtime samples after Stop")
	}
}

func TestMetricsDelivered(t *testing.T) {
	server := newIngestServer(t)
	client, err := New(ClientConfig{
		Prefix:         "app",
		Endpoint:       server.URL,
		FlushEvery:     time.Hour,
		DisableRuntime: true,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}

	requests := client.Counter("requests")
	requests.Inc("GET")
	requests.Inc("GET")
	requests.Add(3, "POST")

	client.Gauge("queue_depth").Set(7)

	latency := client.Timer("latency")
	latency.Observe(10 * time.Millisecond)
	latency.Observe(30 * time.Millisecond)

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := server.values("app.requests.GET"); len(got) != 2 || got[1] != 2 {
		t.Errorf("app.requests.GET = %v, want [1 2]", got)
	}
	if got := server.values("app.requests.POST"); len(got) != 1 || got[0] != 3 {
		t.Errorf("app.requests.POST = %v, want [3]", got)
	}
	if got := server.values("app.queue_depth"); len(got) != 1 || got[0] != 7 {
		t.Errorf("app.queue_depth = %v, want [7]", got)
	}
	if got := server.values("app.latency.count"); len(got) != 1 || got[0] != 2 {
		t.Errorf("app.latency.count = %v, want [2]", got)
	}
	if got := server.values("app.latency.mean"); len(got) != 1 || got[0] != 20 {
		t.Errorf("app.latency.mean = %v, want [20]", got)
	}
	if got := server.values("app.runtime.goroutines"); len(got) != 0 {
		t.Errorf("runtime samples sent with DisableRuntime: %v", got)
	}
}

func TestSendBeforeStartIsDropped(t *testing.T) {
	server := newIngestServer(t)
	client, _ := New(ClientConfig{Prefix: "app", Endpoint: server.URL, DisableRuntime: true})

	client.Counter("early").Inc()

	client.Start(context.Background())
	client.Stop()

	if got := server.values("app.early"); len(got) != 0 {
		t.Errorf("sample sent before Start was delivered: %v", got)
	}
}

type fixedCollector struct{}

func (fixedCollector) Collect(now time.Time) []metric.Sample {
	return []metric.Sample{{Metric: "custom.value", Datapoint: metric.NewDatapoint(now, 99)}}
}

func TestRegisterCollector(t *testing.T) {
	server := newIngestServer(t)
	client, _ := New(ClientConfig{Prefix: "app", Endpoint: server.URL, FlushEvery: time.Hour, DisableRuntime: true})
	client.Register(fixedCollector{})

	client.Start(context.Background())
	client.Stop()

	if got := server.values("app.custom.value"); len(got) != 1 || got[0] != 99 {
		t.Errorf("app.custom.value = %v, want [99]", got)
	}
}
