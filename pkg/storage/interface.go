package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/whisper"
)

// MetadataAggregationMethod is the only metadata key a series exposes.
const MetadataAggregationMethod = "aggregationMethod"

var (
	// ErrNotFound is returned when a series has not been created yet
	ErrNotFound = errors.New("series not found")

	// ErrUnsupportedKey is returned for metadata keys other than aggregationMethod
	ErrUnsupportedKey = errors.New("unsupported metadata key")

	// ErrFormat marks a series file that cannot be decoded. Writes that hit it
	// are not retried.
	ErrFormat = whisper.ErrFormat

	// ErrInvalidRange is returned by Fetch when from is after until
	ErrInvalidRange = whisper.ErrInvalidRange

	// ErrOutOfRange marks a point outside the retention window
	ErrOutOfRange = whisper.ErrOutOfRange
)

// Storage persists one fixed-size series per metric name.
// Implementations: whisperdb (production), memory (tests and dry runs)
type Storage interface {
	// Exists reports whether the series for name has been created
	Exists(name string) (bool, error)

	// Create makes the series for name. Creating an existing series is a no-op.
	Create(ctx context.Context, name string) error

	// Write stores points in an existing series. Points outside the
	// retention window are skipped and counted in rejected.
	Write(ctx context.Context, name string, points []metric.Datapoint) (rejected int, err error)

	// Fetch reads the series between from and until, inclusive
	Fetch(ctx context.Context, name string, from, until time.Time) (*Series, error)

	// GetMetadata returns a header value of the series
	GetMetadata(name, key string) (string, error)

	// SetMetadata changes a header value and returns the previous one
	SetMetadata(name, key, value string) (previous string, err error)

	// List returns the names of stored series starting with prefix, sorted
	List(ctx context.Context, prefix string, limit int) ([]string, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close releases resources held by the backend
	Close() error
}

// Index keeps a searchable record of every series created.
type Index interface {
	Record(ctx context.Context, info SeriesInfo) error
	Get(ctx context.Context, name string) (SeriesInfo, error)
	List(ctx context.Context, prefix string, limit int) ([]string, error)
}

// SeriesInfo describes how a series was created.
type SeriesInfo struct {
	Name              string    `json:"name"`
	Schema            string    `json:"schema"`
	Retentions        string    `json:"retentions"`
	XFilesFactor      float32   `json:"xFilesFactor"`
	AggregationMethod string    `json:"aggregationMethod"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Series is the result of a fetch: one value per step from From to Until,
// inclusive. Missing slots are NaN.
type Series struct {
	Name   string
	From   int64
	Until  int64
	Step   int64
	Values []float64
}

// Timestamps returns the timestamp of every value in s.
func (s *Series) Timestamps() []int64 {
	ts := make([]int64, len(s.Values))
	for i := range ts {
		ts[i] = s.From + int64(i)*s.Step
	}
	return ts
}

// Stats provides storage health and usage info
type Stats struct {
	// Series files (or in-memory series) stored
	TotalSeries uint64

	// Storage size in bytes
	SizeBytes uint64
}
