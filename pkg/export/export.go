package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/nicktill/tinycarbon/pkg/storage"
)

// Exporter fetches series from storage and writes them out
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Targets []string
	From    time.Time
	Until   time.Time

	// MaxDataPoints consolidates each series to at most this many values
	// (0 = full resolution)
	MaxDataPoints int
}

// ExportResult contains stats about the export
type ExportResult struct {
	SeriesExported int       `json:"series_exported"`
	PointsExported int       `json:"points_exported"`
	Missing        []string  `json:"missing,omitempty"`
	Format         string    `json:"format"`
	ExportedAt     time.Time `json:"exported_at"`
}

// Value is a series slot; NaN encodes as JSON null and back
type Value float64

func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid series value %s", data)
	}
	*v = Value(f)
	return nil
}

// SeriesData is one exported series
type SeriesData struct {
	Name   string  `json:"name"`
	From   int64   `json:"from"`
	Until  int64   `json:"until"`
	Step   int64   `json:"step"`
	Values []Value `json:"values"`
}

// Metadata describes an export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	From        int64     `json:"from"`
	Until       int64     `json:"until"`
	SeriesCount int       `json:"series_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Document is the JSON export layout, also accepted by the importer
type Document struct {
	Metadata Metadata     `json:"metadata"`
	Series   []SeriesData `json:"series"`
}

// Fetch reads every target. Targets without a series are reported in
// missing rather than failing the whole export.
func (e *Exporter) Fetch(ctx context.Context, opts ExportOptions) (series []*storage.Series, missing []string, err error) {
	for _, name := range opts.Targets {
		s, err := e.storage.Fetch(ctx, name, opts.From, opts.Until)
		if errors.Is(err, storage.ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch %s: %w", name, err)
		}
		if opts.MaxDataPoints > 0 {
			s = Consolidate(s, opts.MaxDataPoints)
		}
		series = append(series, s)
	}
	return series, missing, nil
}

// ExportToJSON exports the targets as a JSON document
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	series, missing, err := e.Fetch(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:  time.Now().UTC(),
			From:        opts.From.Unix(),
			Until:       opts.Until.Unix(),
			SeriesCount: len(series),
			Format:      "json",
			Version:     "1.0",
		},
		Series: make([]SeriesData, 0, len(series)),
	}

	points := 0
	for _, s := range series {
		values := make([]Value, len(s.Values))
		for i, v := range s.Values {
			values[i] = Value(v)
		}
		points += len(values)
		doc.Series = append(doc.Series, SeriesData{Name: s.Name, From: s.From, Until: s.Until, Step: s.Step, Values: values})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SeriesExported: len(series),
		PointsExported: points,
		Missing:        missing,
		Format:         "json",
		ExportedAt:     doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports the targets as name,timestamp,value rows
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	series, missing, err := e.Fetch(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"name", "timestamp", "value"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	points := 0
	for _, s := range series {
		for i, ts := range s.Timestamps() {
			value := ""
			if v := s.Values[i]; !math.IsNaN(v) {
				value = strconv.FormatFloat(v, 'f', -1, 64)
			}
			if err := writer.Write([]string{s.Name, strconv.FormatInt(ts, 10), value}); err != nil {
				return nil, fmt.Errorf("failed to write CSV row: %w", err)
			}
			points++
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		SeriesExported: len(series),
		PointsExported: points,
		Missing:        missing,
		Format:         "csv",
		ExportedAt:     time.Now().UTC(),
	}, nil
}

// Consolidate averages runs of consecutive values so s has at most
// maxPoints values. NaN slots are ignored; a run with no data stays NaN.
func Consolidate(s *storage.Series, maxPoints int) *storage.Series {
	if maxPoints <= 0 || len(s.Values) <= maxPoints {
		return s
	}

	bucket := (len(s.Values) + maxPoints - 1) / maxPoints
	values := make([]float64, 0, maxPoints)
	for i := 0; i < len(s.Values); i += bucket {
		end := min(i+bucket, len(s.Values))

		var sum float64
		known := 0
		for _, v := range s.Values[i:end] {
			if !math.IsNaN(v) {
				sum += v
				known++
			}
		}
		if known == 0 {
			values = append(values, math.NaN())
		} else {
			values = append(values, sum/float64(known))
		}
	}

	step := s.Step * int64(bucket)
	return &storage.Series{
		Name:   s.Name,
		From:   s.From,
		Until:  s.From + int64(len(values)-1)*step,
		Step:   step,
		Values: values,
	}
}
