package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/tinycarbon/pkg/export"
)

const requestsPrefix = "example.http.requests."

// statsClient reads the example's own series back from tinycarbon
type statsClient struct {
	baseURL string
	http    *http.Client
}

// requestTotals returns the latest counter value of every
// example.http.requests series, summed overall and for 5xx statuses.
func (s *statsClient) requestTotals(ctx context.Context) (total, errors float64, err error) {
	names, err := s.list(ctx, requestsPrefix)
	if err != nil {
		return 0, 0, err
	}
	if len(names) == 0 {
		return 0, 0, nil
	}

	doc, err := s.fetch(ctx, names, "-10min")
	if err != nil {
		return 0, 0, err
	}

	for _, series := range doc.Series {
		v, ok := latest(series.Values)
		if !ok {
			continue
		}
		total += v
		if status := series.Name[strings.LastIndexByte(series.Name, '.')+1:]; strings.HasPrefix(status, "5") {
			errors += v
		}
	}
	return total, errors, nil
}

func (s *statsClient) list(ctx context.Context, prefix string) ([]string, error) {
	var resp struct {
		Metrics []string `json:"metrics"`
	}
	if err := s.get(ctx, "/v1/metrics/list?prefix="+url.QueryEscape(prefix), &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

func (s *statsClient) fetch(ctx context.Context, targets []string, from string) (*export.Document, error) {
	q := url.Values{"from": {from}}
	for _, t := range targets {
		q.Add("target", t)
	}
	var doc export.Document
	if err := s.get(ctx, "/v1/fetch?"+q.Encode(), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *statsClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// latest returns the last known value of a series
func latest(values []export.Value) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if v := float64(values[i]); !math.IsNaN(v) {
			return v, true
		}
	}
	return 0, false
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	total, errors, err := a.stats.requestTotals(ctx)
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"requests": total,
		"errors":   errors,
		"uptime":   time.Since(startTime).Round(time.Second).String(),
	})
}
