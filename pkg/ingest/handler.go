package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/httpx"
	"github.com/nicktill/tinycarbon/pkg/metric"
)

// Handler handles metric ingestion over HTTP
type Handler struct {
	processor Processor
}

// NewHandler creates a new ingest handler
func NewHandler(p Processor) *Handler {
	return &Handler{processor: p}
}

// IngestRequest is the JSON form of an ingest request. The body may also
// be plaintext protocol lines.
type IngestRequest struct {
	Metrics []metric.Sample `json:"metrics"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status   string   `json:"status"`
	Accepted int      `json:"accepted"`
	Invalid  int      `json:"invalid"`
	Errors   []string `json:"errors,omitempty"`
}

// HandleIngest handles POST /v1/ingest. A JSON body is decoded as an
// IngestRequest; anything else is read as plaintext lines.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes)

	var samples []metric.Sample
	var errs []string
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		samples, errs, err = decodeJSON(r)
	} else {
		samples, errs, err = decodeLines(r)
	}
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(samples) == 0 && len(errs) > 0 {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrNoValidMetrics, errs[0]))
		return
	}

	for _, s := range samples {
		h.processor.Process(s.Metric, s.Datapoint)
	}

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Status:   "success",
		Accepted: len(samples),
		Invalid:  len(errs),
		Errors:   truncateErrors(errs),
	})
}

func decodeLines(r *http.Request) ([]metric.Sample, []string, error) {
	var samples []metric.Sample
	var errs []string

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 4096), maxLineLength)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(samples)+len(errs) >= MaxMetricsPerRequest {
			return nil, nil, ErrTooManyMetrics
		}

		s, err := metric.ParseLine(line)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", err)
	}
	return samples, errs, nil
}

func decodeJSON(r *http.Request) ([]metric.Sample, []string, error) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(req.Metrics) > MaxMetricsPerRequest {
		return nil, nil, ErrTooManyMetrics
	}

	samples := make([]metric.Sample, 0, len(req.Metrics))
	var errs []string
	for i, s := range req.Metrics {
		if err := metric.ValidateName(s.Metric); err != nil {
			errs = append(errs, fmt.Sprintf("metric %d: %v", i, err))
			continue
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			errs = append(errs, fmt.Sprintf("metric %d: value is not finite", i))
			continue
		}
		samples = append(samples, s)
	}
	return samples, errs, nil
}

func truncateErrors(errs []string) []string {
	if len(errs) > maxReportedErrors {
		return errs[:maxReportedErrors]
	}
	return errs
}
