package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// Transport defines the interface for sending samples
type Transport interface {
	Send(ctx context.Context, samples []metric.Sample) error
}

// HTTPTransport posts JSON batches to the /v1/ingest endpoint
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP creates a new HTTP transport
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send sends samples to the ingest endpoint
func (t *HTTPTransport) Send(ctx context.Context, samples []metric.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(map[string]interface{}{
		"metrics": samples,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return nil
}
