package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
)

const (
	// MaxImportBatchSize is the maximum number of points written at once
	MaxImportBatchSize = 5000
)

// Importer restores JSON exports into storage
type Importer struct {
	storage storage.Storage
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SeriesImported int       `json:"series_imported"`
	SeriesCreated  int       `json:"series_created"`
	PointsImported int       `json:"points_imported"`
	PointsRejected int       `json:"points_rejected"`
	BatchesWritten int       `json:"batches_written"`
	ImportedAt     time.Time `json:"imported_at"`
	Errors         []string  `json:"errors,omitempty"`
}

// ImportFromJSON writes the known slots of every series in a JSON export.
// Invalid series are skipped and reported in Errors.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	result := &ImportResult{ImportedAt: time.Now().UTC()}
	for i, sd := range doc.Series {
		if err := validateSeries(sd); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("series %d: %v", i, err))
			continue
		}

		exists, err := im.storage.Exists(sd.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", sd.Name, err)
		}
		if !exists {
			if err := im.storage.Create(ctx, sd.Name); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", sd.Name, err)
			}
			result.SeriesCreated++
		}

		points := knownPoints(sd)
		for start := 0; start < len(points); start += MaxImportBatchSize {
			end := min(start+MaxImportBatchSize, len(points))
			rejected, err := im.storage.Write(ctx, sd.Name, points[start:end])
			if err != nil {
				return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
			}
			result.BatchesWritten++
			result.PointsImported += end - start - rejected
			result.PointsRejected += rejected
		}
		result.SeriesImported++
	}

	return result, nil
}

func knownPoints(sd SeriesData) []metric.Datapoint {
	points := make([]metric.Datapoint, 0, len(sd.Values))
	for i, v := range sd.Values {
		if math.IsNaN(float64(v)) {
			continue
		}
		points = append(points, metric.Datapoint{Timestamp: sd.From + int64(i)*sd.Step, Value: float64(v)})
	}
	return points
}

// validateSeries checks a series before import
func validateSeries(sd SeriesData) error {
	if err := metric.ValidateName(sd.Name); err != nil {
		return err
	}
	if len(sd.Values) > 0 && sd.Step <= 0 {
		return fmt.Errorf("series %s: step must be positive, got %d", sd.Name, sd.Step)
	}
	if want := sd.From + int64(len(sd.Values)-1)*sd.Step; len(sd.Values) > 0 && want != sd.Until {
		return fmt.Errorf("series %s: %d values from %d step %d do not end at %d", sd.Name, len(sd.Values), sd.From, sd.Step, sd.Until)
	}
	return nil
}
