package whisperdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
	"github.com/nicktill/tinycarbon/pkg/whisper"
)

const (
	fileExt     = ".wsp"
	lockStripes = 256
)

var _ storage.Storage = (*Storage)(nil)

// Config holds whisperdb configuration
type Config struct {
	// DataDir is the root of the metric tree
	DataDir string

	// Schemas choose archives and rollup settings for new series
	Schemas *Schemas

	// Sparse creates files without writing their data region
	Sparse bool

	// Index records created series (optional)
	Index storage.Index
}

// Storage implements storage.Storage with one whisper file per metric,
// laid out as <DataDir>/a/b/c.wsp for a.b.c.
type Storage struct {
	dir     string
	schemas *Schemas
	sparse  bool
	index   storage.Index
	now     func() time.Time

	// Writers to one file are serialized in-process; flock covers other
	// processes.
	locks [lockStripes]sync.RWMutex
}

// New creates the data directory if needed and returns a Storage.
func New(cfg Config) (*Storage, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("whisperdb: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	schemas := cfg.Schemas
	if schemas == nil {
		var err error
		if schemas, err = CompileSchemas(nil, nil); err != nil {
			return nil, err
		}
	}

	return &Storage{
		dir:     cfg.DataDir,
		schemas: schemas,
		sparse:  cfg.Sparse,
		index:   cfg.Index,
		now:     time.Now,
	}, nil
}

// SetNow replaces the clock used for retention checks.
func (s *Storage) SetNow(now func() time.Time) {
	s.now = now
}

// Path returns the file path for a metric name.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))+fileExt)
}

func (s *Storage) lock(name string) *sync.RWMutex {
	return &s.locks[xxhash.Sum64String(name)%lockStripes]
}

// Exists reports whether the series file exists.
func (s *Storage) Exists(name string) (bool, error) {
	_, err := os.Stat(s.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Create makes the series file using the first matching schemas.
func (s *Storage) Create(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := metric.ValidateName(name); err != nil {
		return err
	}

	schema, agg := s.schemas.Match(name)
	path := s.Path(name)

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}

	w, err := whisper.Create(path, schema.Archives, whisper.Options{
		XFilesFactor:      agg.XFilesFactor,
		AggregationMethod: agg.AggregationMethod,
		Sparse:            s.sparse,
	})
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	w.Close()

	log.Printf("Created series %s (schema=%s retentions=%s xff=%.2f method=%s)",
		name, schema.Name, schema.Retentions, agg.XFilesFactor, agg.AggregationMethod)

	if s.index != nil {
		info := storage.SeriesInfo{
			Name:              name,
			Schema:            schema.Name,
			Retentions:        schema.Retentions,
			XFilesFactor:      agg.XFilesFactor,
			AggregationMethod: agg.AggregationMethod.String(),
			CreatedAt:         s.now(),
		}
		if err := s.index.Record(ctx, info); err != nil {
			log.Printf("Failed to index series %s: %v", name, err)
		}
	}
	return nil
}

// Write stores points in the series file. Points outside the retention
// window, or with timestamps the file format cannot hold, count as rejected.
func (s *Storage) Write(ctx context.Context, name string, points []metric.Datapoint) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rejected := 0
	wp := make([]whisper.Point, 0, len(points))
	for _, p := range points {
		if p.Timestamp < 0 || p.Timestamp > math.MaxUint32 {
			rejected++
			continue
		}
		wp = append(wp, whisper.Point{Timestamp: uint32(p.Timestamp), Value: p.Value})
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	w, err := s.open(name, false)
	if err != nil {
		return rejected, err
	}
	defer w.Close()

	n, err := w.UpdateMany(wp)
	return rejected + n, err
}

// Fetch reads the series between from and until.
func (s *Storage) Fetch(ctx context.Context, name string, from, until time.Time) (*storage.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.lock(name)
	l.RLock()
	defer l.RUnlock()

	w, err := s.open(name, true)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	interval, values, err := w.Fetch(clampUnix(from), clampUnix(until))
	if err != nil {
		return nil, err
	}
	return &storage.Series{
		Name:   name,
		From:   int64(interval.From),
		Until:  int64(interval.Until),
		Step:   int64(interval.Step),
		Values: values,
	}, nil
}

// GetMetadata returns the aggregation method of the series.
func (s *Storage) GetMetadata(name, key string) (string, error) {
	if key != storage.MetadataAggregationMethod {
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedKey, key)
	}

	l := s.lock(name)
	l.RLock()
	defer l.RUnlock()

	w, err := s.open(name, true)
	if err != nil {
		return "", err
	}
	defer w.Close()

	return w.Header.Metadata.AggregationMethod.String(), nil
}

// SetMetadata changes the aggregation method and returns the previous one.
func (s *Storage) SetMetadata(name, key, value string) (string, error) {
	if key != storage.MetadataAggregationMethod {
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedKey, key)
	}
	method, err := whisper.ParseAggregationMethod(value)
	if err != nil {
		return "", err
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	w, err := s.open(name, false)
	if err != nil {
		return "", err
	}
	defer w.Close()

	prev, err := w.SetAggregationMethod(method)
	if err != nil {
		return "", err
	}

	if s.index != nil {
		ctx := context.Background()
		if info, err := s.index.Get(ctx, name); err == nil {
			info.AggregationMethod = method.String()
			if err := s.index.Record(ctx, info); err != nil {
				log.Printf("Failed to update index for %s: %v", name, err)
			}
		}
	}
	return prev.String(), nil
}

// List returns stored series names with the given prefix. The index answers
// when configured; otherwise the data directory is walked.
func (s *Storage) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	if s.index != nil {
		return s.index.List(ctx, prefix, limit)
	}

	var names []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fileExt) {
			return nil
		}
		if name := s.nameFromPath(path); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// Stats counts series files and their disk usage.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fileExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalSeries++
		stats.SizeBytes += uint64(info.Size())
		return nil
	})
	return stats, err
}

// Close is a no-op; files are opened per operation.
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) open(name string, readOnly bool) (*whisper.Whisper, error) {
	if err := metric.ValidateName(name); err != nil {
		return nil, err
	}
	path := s.Path(name)

	var w *whisper.Whisper
	var err error
	if readOnly {
		w, err = whisper.OpenReadOnly(path)
	} else {
		w, err = whisper.Open(path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	w.SetNow(s.now)
	return w, nil
}

func (s *Storage) nameFromPath(path string) string {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return ""
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), fileExt)
	return strings.ReplaceAll(rel, "/", ".")
}

func clampUnix(t time.Time) uint32 {
	ts := t.Unix()
	if ts < 0 {
		return 0
	}
	if ts > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ts)
}
