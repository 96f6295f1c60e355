package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/metric"
)

func newTestComponents(t *testing.T) *Components {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.LineReceiverAddr = ""
	cfg.DataDir = filepath.Join(dir, "whisper")
	cfg.IndexDir = filepath.Join(dir, "index")
	cfg.RewriteRulesPath = filepath.Join(dir, "rewrite-rules.conf")
	cfg.AggregationRulesPath = filepath.Join(dir, "aggregation-rules.conf")

	c, err := Initialize(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func serve(t *testing.T, c *Components, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	New(c).Handler().ServeHTTP(w, req)
	return w
}

func TestHandleMetadata(t *testing.T) {
	c := newTestComponents(t)
	require.NoError(t, c.Store.Create(context.Background(), "servers.web1.cpu"))

	w := serve(t, c, "GET", "/v1/metadata/servers.web1.cpu/aggregationMethod", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got MetadataResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "average", got.Value)

	w = serve(t, c, "PUT", "/v1/metadata/servers.web1.cpu/aggregationMethod", `{"value":"max"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "max", got.Value)
	assert.Equal(t, "average", got.Previous)

	value, err := c.Store.GetMetadata("servers.web1.cpu", "aggregationMethod")
	require.NoError(t, err)
	assert.Equal(t, "max", value)
}

func TestHandleMetadata_Errors(t *testing.T) {
	c := newTestComponents(t)
	require.NoError(t, c.Store.Create(context.Background(), "servers.web1.cpu"))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"missing series", "GET", "/v1/metadata/servers.web9.cpu/aggregationMethod", "", http.StatusNotFound},
		{"unsupported key", "GET", "/v1/metadata/servers.web1.cpu/owner", "", http.StatusBadRequest},
		{"bad method", "PUT", "/v1/metadata/servers.web1.cpu/aggregationMethod", `{"value":"median"}`, http.StatusBadRequest},
		{"missing value", "PUT", "/v1/metadata/servers.web1.cpu/aggregationMethod", `{}`, http.StatusBadRequest},
		{"bad JSON", "PUT", "/v1/metadata/servers.web1.cpu/aggregationMethod", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, c, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestHandleCache(t *testing.T) {
	c := newTestComponents(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Cache.Put("servers.web1.cpu", metric.Datapoint{Timestamp: int64(100 + i), Value: 1}))
	}
	require.NoError(t, c.Cache.Put("servers.web2.cpu", metric.Datapoint{Timestamp: 100, Value: 1}))

	w := serve(t, c, "GET", "/v1/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats cache.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, uint64(4), stats.Received)
	assert.Equal(t, 4, stats.Size)

	w = serve(t, c, "GET", "/v1/cache/queues?top=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var queues []cache.QueueInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&queues))
	assert.Equal(t, []cache.QueueInfo{{Metric: "servers.web1.cpu", Size: 3}}, queues)

	w = serve(t, c, "GET", "/v1/cache/queues?top=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, c, "GET", "/v1/cache/metrics/servers.web2.cpu", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ms cache.MetricStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ms))
	assert.Equal(t, uint64(1), ms.Queued)

	w = serve(t, c, "GET", "/v1/cache/metrics/servers.web3.cpu", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRulesReload(t *testing.T) {
	c := newTestComponents(t)

	w := serve(t, c, "GET", "/v1/rules", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rules RulesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rules))
	assert.Empty(t, rules.Aggregations)

	require.NoError(t, os.WriteFile(c.Config.AggregationRulesPath,
		[]byte("stats.all.requests (60) = sum stats.*.requests\n"), 0644))
	w = serve(t, c, "POST", "/v1/rules/reload", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rules))
	assert.Equal(t, []string{"stats.all.requests (60) = sum stats.*.requests"}, rules.Aggregations)

	// A broken file is rejected and the active rules stay
	require.NoError(t, os.WriteFile(c.Config.AggregationRulesPath, []byte("garbage\n"), 0644))
	w = serve(t, c, "POST", "/v1/rules/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Len(t, c.Rules.Rules().Aggregations, 1)
}

func TestHandleMetricsList(t *testing.T) {
	c := newTestComponents(t)
	ctx := context.Background()
	for _, name := range []string{"servers.web1.cpu", "servers.web2.cpu", "stats.requests"} {
		require.NoError(t, c.Store.Create(ctx, name))
	}

	w := serve(t, c, "GET", "/v1/metrics/list?prefix=servers.&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list MetricsListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, []string{"servers.web1.cpu"}, list.Metrics)

	w = serve(t, c, "GET", "/v1/metrics/list?prefix=nothing.", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"metrics":[],"count":0}`, w.Body.String())

	w = serve(t, c, "GET", "/v1/metrics/list?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealthAndStorage(t *testing.T) {
	c := newTestComponents(t)
	require.NoError(t, c.Store.Create(context.Background(), "servers.web1.cpu"))

	w := serve(t, c, "GET", "/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Storage)

	w = serve(t, c, "GET", "/v1/storage", "")
	require.Equal(t, http.StatusOK, w.Code)
	var usage StorageUsage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&usage))
	assert.Equal(t, uint64(1), usage.TotalSeries)
	assert.Positive(t, usage.UsedBytes)
	assert.False(t, usage.OverLimit)
}

func TestHandleStats(t *testing.T) {
	c := newTestComponents(t)
	c.Pipeline.Process("servers.web1.cpu", metric.Datapoint{Timestamp: 100, Value: 1})

	w := serve(t, c, "GET", "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, "stats_update", stats.Type)
	assert.Equal(t, uint64(1), stats.Pipeline.Received)
	assert.Equal(t, uint64(1), stats.Cache.Queued)
	assert.Nil(t, stats.Receiver)
}

func TestIngestRoute(t *testing.T) {
	c := newTestComponents(t)

	w := serve(t, c, "POST", "/v1/ingest", `{"metrics":[{"metric":"servers.web1.cpu","value":1,"timestamp":100}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, c.Cache.Size())

	w = serve(t, c, "GET", "/v1/ingest", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware("8080")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:8080", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusTeapot, w.Code)

	req = httptest.NewRequest("OPTIONS", "/v1/stats", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerLifecycle(t *testing.T) {
	c := newTestComponents(t)
	c.Config.Port = "0"
	srv := New(c)
	require.NoError(t, srv.Start())

	resp, err := http.Post("http://"+srv.Addr()+"/v1/ingest", "text/plain",
		bytes.NewBufferString("servers.web1.cpu 1 100\n"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	stats := c.Cache.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, stats.Received, stats.Written+stats.Dropped+stats.Queued)
	assert.Zero(t, stats.Queued)
}

func TestServerShutdown_FlushesAggregatesAcceptedOverHTTP(t *testing.T) {
	dir := t.TempDir()
	aggPath := filepath.Join(dir, "aggregation-rules.conf")
	require.NoError(t, os.WriteFile(aggPath, []byte("app.all (86400) = sum app.*\n"), 0644))

	cfg := config.Default()
	cfg.Port = "0"
	cfg.LineReceiverAddr = ""
	cfg.DataDir = filepath.Join(dir, "whisper")
	cfg.IndexDir = filepath.Join(dir, "index")
	cfg.RewriteRulesPath = filepath.Join(dir, "rewrite-rules.conf")
	cfg.AggregationRulesPath = aggPath
	cfg.RuleWatchInterval = 0
	cfg.Aggregator.FlushInterval = time.Hour

	c, err := Initialize(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	srv := New(c)
	require.NoError(t, srv.Start())

	// One point in a long-finished day, one in today's still-open day.
	body := fmt.Sprintf("app.web 1 100\napp.web 2 %d\n", time.Now().Unix())
	resp, err := http.Post("http://"+srv.Addr()+"/v1/ingest", "text/plain", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))

	stats := c.Pipeline.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(1), stats.Generated)
	assert.Equal(t, uint64(1), stats.Discarded)
	assert.Equal(t, 0, c.Pipeline.Buffers().Get("app.all").Pending())

	cs := c.Cache.Stats()
	assert.Equal(t, uint64(3), cs.Received)
	assert.Zero(t, cs.Queued)
}
