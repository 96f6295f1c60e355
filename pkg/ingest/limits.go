package ingest

import (
	"errors"
	"fmt"
)

// Request limits
const (
	MaxMetricsPerRequest = 10000 // Maximum points in a single ingest request
	maxReportedErrors    = 10    // Invalid lines echoed back in a response
)

var (
	// ErrTooManyMetrics is returned when a request carries too many points
	ErrTooManyMetrics = fmt.Errorf("too many metrics in request (max %d)", MaxMetricsPerRequest)

	// ErrNoValidMetrics is returned when every point in a request was invalid
	ErrNoValidMetrics = errors.New("invalid metric: no valid points in request")
)
