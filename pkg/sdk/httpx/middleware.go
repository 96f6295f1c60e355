package httpx

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinycarbon/pkg/sdk/metrics"
)

// Instrumenter hands out named metrics (implemented by *sdk.Client)
type Instrumenter interface {
	Counter(name string) metrics.CounterInterface
	Timer(name string) metrics.TimerInterface
}

var (
	numericID = regexp.MustCompile(`/\d+`)
	uuidID    = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// Middleware returns HTTP middleware that tracks every request as
//   - http.requests.<path>.<method>.<status> (counter)
//   - http.latency.<path>.<method> (timer)
//
// Usage:
//
//	client, _ := sdk.New(sdk.ClientConfig{Prefix: "myapp"})
//	client.Start(ctx)
//	defer client.Stop()
//
//	handler := httpx.Middleware(client)(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(client Instrumenter) func(http.Handler) http.Handler {
	requests := client.Counter("http.requests")
	latency := client.Timer("http.latency")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := normalizePath(r.URL.Path)
			requests.Inc(path, r.Method, strconv.Itoa(rw.statusCode))
			latency.Observe(time.Since(start), path, r.Method)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath turns a URL path into one metric segment, collapsing IDs:
//   - / → root
//   - /api/users/123 → api_users_id
//   - /posts/<uuid>/comments → posts_id_comments
func normalizePath(path string) string {
	path = uuidID.ReplaceAllString(path, "/id")
	path = numericID.ReplaceAllString(path, "/id")

	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}
	return metrics.Sanitize(path)
}
