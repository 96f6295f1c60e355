package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinycarbon/pkg/cache"
	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/httpx"
	"github.com/nicktill/tinycarbon/pkg/ingest"
	"github.com/nicktill/tinycarbon/pkg/rules"
	"github.com/nicktill/tinycarbon/pkg/server/monitor"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes   int64  `json:"used_bytes"`
	MaxBytes    int64  `json:"max_bytes"`
	OverLimit   bool   `json:"over_limit"`
	TotalSeries uint64 `json:"total_series"`
	SeriesBytes uint64 `json:"series_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Writer  monitor.WriterStatus `json:"writer"`
	Storage string               `json:"storage,omitempty"`
}

// StatsResponse is everything the daemon counts, in one document. The
// websocket stream publishes the same shape.
type StatsResponse struct {
	Type      string                `json:"type"`
	Timestamp int64                 `json:"timestamp"`
	Cache     cache.Stats           `json:"cache"`
	Writer    cache.Health          `json:"writer"`
	Pipeline  ingest.PipelineStats  `json:"pipeline"`
	Receiver  *ingest.ReceiverStats `json:"receiver,omitempty"`
	Rules     RulesStats            `json:"rules"`
	Clients   int                   `json:"clients"`
}

// RulesStats counts rule reloads
type RulesStats struct {
	Reloads  uint64 `json:"reloads"`
	Failures uint64 `json:"failures"`
}

// RulesResponse lists the active rules in rule file syntax
type RulesResponse struct {
	Pre          []string `json:"pre"`
	Post         []string `json:"post"`
	Aggregations []string `json:"aggregations"`
}

// MetadataResponse is returned by the metadata endpoints
type MetadataResponse struct {
	Metric   string `json:"metric"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Previous string `json:"previous,omitempty"`
}

// MetricsListResponse is returned by GET /v1/metrics/list
type MetricsListResponse struct {
	Metrics []string `json:"metrics"`
	Count   int      `json:"count"`
}

// snapshot collects the stats document served over HTTP and websocket
func snapshot(c *Components) StatsResponse {
	reloads, failures := c.Rules.Stats()
	s := StatsResponse{
		Type:      "stats_update",
		Timestamp: time.Now().Unix(),
		Cache:     c.Cache.Stats(),
		Writer:    c.Writer.Health(),
		Pipeline:  c.Pipeline.Stats(),
		Rules:     RulesStats{Reloads: reloads, Failures: failures},
		Clients:   c.Hub.ClientCount(),
	}
	if c.Receiver != nil {
		rs := c.Receiver.Stats()
		s.Receiver = &rs
	}
	return s
}

// handleHealth reports degraded when the writer is unhealthy or storage is
// over its limit.
func handleHealth(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		response := HealthResponse{
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Writer:  c.WriterMonitor.Status(),
		}
		if !response.Writer.Healthy {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		over, err := c.StorageMonitor.OverLimit()
		switch {
		case err != nil:
			response.Storage = "unknown: " + err.Error()
		case over:
			response.Storage = "over limit"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		default:
			response.Storage = "ok"
		}

		response.Status = overallStatus
		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := c.StorageMonitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.MetricsListTimeout)
		defer cancel()
		stats, err := c.Store.Stats(ctx)
		if err != nil {
			httpx.RespondStorageError(w, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes:   usedBytes,
			MaxBytes:    c.StorageMonitor.GetLimit(),
			OverLimit:   c.StorageMonitor.GetLimit() > 0 && usedBytes > c.StorageMonitor.GetLimit(),
			TotalSeries: stats.TotalSeries,
			SeriesBytes: stats.SizeBytes,
		})
	}
}

func handleStats(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, snapshot(c))
	}
}

func handleCacheStats(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, c.Cache.Stats())
	}
}

// handleCacheQueues returns the largest pending queues (?top=N)
func handleCacheQueues(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		top := config.DefaultQueuesTopN
		if v := r.URL.Query().Get("top"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpx.RespondErrorString(w, http.StatusBadRequest, "top must be a positive integer")
				return
			}
			top = n
		}
		httpx.RespondJSON(w, http.StatusOK, c.Cache.TopQueues(top))
	}
}

func handleCacheMetric(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["metric"]
		ms, ok := c.Cache.MetricStats(name)
		if !ok {
			httpx.RespondErrorString(w, http.StatusNotFound, fmt.Sprintf("no cache entry for %q", name))
			return
		}
		httpx.RespondJSON(w, http.StatusOK, ms)
	}
}

func handleRules(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, describeRules(c.Rules.Rules()))
	}
}

// handleRulesReload re-reads both rule files. A rejected file leaves the
// active rules in place and is reported as 422.
func handleRulesReload(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Rules.Reload(); err != nil {
			status := http.StatusInternalServerError
			var pe *rules.ParseError
			if errors.As(err, &pe) || errors.Is(err, rules.ErrConfig) {
				status = http.StatusUnprocessableEntity
			}
			httpx.RespondError(w, status, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, describeRules(c.Rules.Rules()))
	}
}

func describeRules(rs *rules.RuleSet) RulesResponse {
	resp := RulesResponse{
		Pre:          make([]string, 0, len(rs.Pre)),
		Post:         make([]string, 0, len(rs.Post)),
		Aggregations: make([]string, 0, len(rs.Aggregations)),
	}
	for _, rule := range rs.Pre {
		resp.Pre = append(resp.Pre, rule.Pattern.String()+" = "+rule.Replacement)
	}
	for _, rule := range rs.Post {
		resp.Post = append(resp.Post, rule.Pattern.String()+" = "+rule.Replacement)
	}
	for _, rule := range rs.Aggregations {
		resp.Aggregations = append(resp.Aggregations, rule.String())
	}
	return resp
}

// handleMetricsList returns stored series names (?prefix=&limit=)
func handleMetricsList(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := config.MetricsListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n < limit {
				limit = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.MetricsListTimeout)
		defer cancel()

		names, err := c.Store.List(ctx, r.URL.Query().Get("prefix"), limit)
		if err != nil {
			httpx.RespondStorageError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		httpx.RespondJSON(w, http.StatusOK, MetricsListResponse{Metrics: names, Count: len(names)})
	}
}

func handleGetMetadata(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		value, err := c.Store.GetMetadata(vars["metric"], vars["key"])
		if err != nil {
			httpx.RespondStorageError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, MetadataResponse{Metric: vars["metric"], Key: vars["key"], Value: value})
	}
}

// handleSetMetadata changes one header value; the body is {"value": "..."}
func handleSetMetadata(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		var body struct {
			Value *string `json:"value"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
		if body.Value == nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "value is required")
			return
		}

		previous, err := c.Store.SetMetadata(vars["metric"], vars["key"], *body.Value)
		if err != nil {
			httpx.RespondStorageError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, MetadataResponse{
			Metric:   vars["metric"],
			Key:      vars["key"],
			Value:    *body.Value,
			Previous: previous,
		})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, c *Components) {
	router.Use(corsMiddleware(c.Config.Port))

	api := router.PathPrefix("/v1").Subrouter()

	// Ingestion
	api.HandleFunc("/ingest", c.Ingest.HandleIngest).Methods("POST")

	// Series data
	api.HandleFunc("/fetch", c.Export.HandleFetch).Methods("GET")
	api.HandleFunc("/import", c.Export.HandleImport).Methods("POST")
	api.HandleFunc("/metrics/list", handleMetricsList(c)).Methods("GET")
	api.HandleFunc("/metadata/{metric}/{key}", handleGetMetadata(c)).Methods("GET")
	api.HandleFunc("/metadata/{metric}/{key}", handleSetMetadata(c)).Methods("PUT")

	// Cache and rules
	api.HandleFunc("/cache", handleCacheStats(c)).Methods("GET")
	api.HandleFunc("/cache/queues", handleCacheQueues(c)).Methods("GET")
	api.HandleFunc("/cache/metrics/{metric}", handleCacheMetric(c)).Methods("GET")
	api.HandleFunc("/rules", handleRules(c)).Methods("GET")
	api.HandleFunc("/rules/reload", handleRulesReload(c)).Methods("POST")

	// Status
	api.HandleFunc("/stats", handleStats(c)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(c)).Methods("GET")
	api.HandleFunc("/health", handleHealth(c)).Methods("GET")
	api.HandleFunc("/ws", c.Hub.HandleWebSocket()).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
