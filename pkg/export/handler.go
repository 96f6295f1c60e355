package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/httpx"
	"github.com/nicktill/tinycarbon/pkg/storage"
)

const (
	// MaxTargets bounds the series in one fetch request
	MaxTargets = 100

	// MaxDataPointsLimit bounds the maxDataPoints parameter
	MaxDataPointsLimit = 100000
)

// Handler handles fetch and import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	now      func() time.Time
}

// NewHandler creates a new fetch/import handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		now:      time.Now,
	}
}

// HandleFetch handles GET /v1/fetch
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts, format, err := h.parseFetch(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.FetchTimeout)
	defer cancel()

	// Fetch before writing headers so storage errors still get a status
	series, missing, err := h.exporter.Fetch(ctx, opts)
	if err != nil {
		httpx.RespondStorageError(w, err)
		return
	}
	if len(series) == 0 && len(missing) > 0 {
		httpx.RespondError(w, http.StatusNotFound, fmt.Errorf("%w: %s", storage.ErrNotFound, strings.Join(missing, ", ")))
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	var result *ExportResult
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		result, err = h.exporter.ExportToCSV(ctx, w, opts)
	} else {
		w.Header().Set("Content-Type", "application/json")
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	}
	if err != nil {
		log.Printf("Fetch export failed: %v", err)
		return
	}
	if len(result.Missing) > 0 {
		log.Printf("Fetch skipped %d unknown targets", len(result.Missing))
	}
}

func (h *Handler) parseFetch(r *http.Request) (ExportOptions, string, error) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return ExportOptions{}, "", fmt.Errorf("invalid format %q: must be 'json' or 'csv'", format)
	}

	targets := query["target"]
	if len(targets) == 0 {
		return ExportOptions{}, "", errors.New("target parameter required")
	}
	if len(targets) > MaxTargets {
		return ExportOptions{}, "", fmt.Errorf("too many targets (max %d)", MaxTargets)
	}

	now := h.now()
	until, err := ParseTime(query.Get("until"), now, now)
	if err != nil {
		return ExportOptions{}, "", fmt.Errorf("invalid until: %w", err)
	}
	from, err := ParseTime(query.Get("from"), now, until.Add(-config.FetchDefaultWindow))
	if err != nil {
		return ExportOptions{}, "", fmt.Errorf("invalid from: %w", err)
	}
	if from.After(until) {
		return ExportOptions{}, "", fmt.Errorf("%w: from must not be after until", storage.ErrInvalidRange)
	}

	opts := ExportOptions{Targets: targets, From: from, Until: until}
	if mdp := query.Get("maxDataPoints"); mdp != "" {
		n, err := strconv.Atoi(mdp)
		if err != nil || n <= 0 || n > MaxDataPointsLimit {
			return ExportOptions{}, "", fmt.Errorf("maxDataPoints must be between 1 and %d", MaxDataPointsLimit)
		}
		opts.MaxDataPoints = n
	}
	return opts, format, nil
}

// HandleImport handles POST /v1/import with a JSON export as the body
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		log.Printf("Import failed: %v", err)
		httpx.RespondStorageError(w, err)
		return
	}

	if len(result.Errors) > 0 {
		log.Printf("Import skipped %d invalid series", len(result.Errors))
	}
	log.Printf("Imported %d points into %d series (%d created, %d rejected)",
		result.PointsImported, result.SeriesImported, result.SeriesCreated, result.PointsRejected)

	httpx.RespondJSON(w, http.StatusOK, result)
}
