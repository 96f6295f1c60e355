package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
	"github.com/nicktill/tinycarbon/pkg/whisper"
)

var _ storage.Storage = (*Storage)(nil)

// Storage stores series in memory. Data is lost on restart.
// Every series has a single archive of Points slots, Step seconds apart.
// Useful for testing and development.
type Storage struct {
	mu     sync.RWMutex
	series map[string]*series
	step   int64
	points int64
	now    func() time.Time
}

type series struct {
	method whisper.AggregationMethod
	values map[int64]float64
}

// New creates an in-memory storage backend. Zero arguments mean one day at
// one minute resolution.
func New(step time.Duration, points int) *Storage {
	if step < time.Second {
		step = time.Minute
	}
	if points <= 0 {
		points = 1440
	}
	return &Storage{
		series: make(map[string]*series),
		step:   int64(step / time.Second),
		points: int64(points),
		now:    time.Now,
	}
}

// SetNow replaces the clock used for retention checks
func (s *Storage) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Storage) Exists(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.series[name]
	return ok, nil
}

func (s *Storage) Create(ctx context.Context, name string) error {
	if err := metric.ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[name]; !ok {
		s.series[name] = &series{method: whisper.DefaultAggregationMethod, values: make(map[int64]float64)}
	}
	return nil
}

// Write stores points, dropping slots that fell out of the window
func (s *Storage) Write(ctx context.Context, name string, points []metric.Datapoint) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}

	now := s.now().Unix()
	retention := s.step * s.points
	rejected := 0
	for _, p := range points {
		if p.Timestamp > now+s.step || now-p.Timestamp >= retention {
			rejected++
			continue
		}
		sr.values[p.Timestamp-mod(p.Timestamp, s.step)] = p.Value
	}

	for ts := range sr.values {
		if now-ts >= retention {
			delete(sr.values, ts)
		}
	}
	return rejected, nil
}

// Fetch returns one value per step between from and until, NaN where empty
func (s *Storage) Fetch(ctx context.Context, name string, from, until time.Time) (*storage.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from.After(until) {
		return nil, fmt.Errorf("%w: %v > %v", whisper.ErrInvalidRange, from, until)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}

	now := s.now().Unix()
	start := max(from.Unix(), now-s.step*s.points)
	end := min(until.Unix(), now)
	if start > end {
		return &storage.Series{Name: name, Step: s.step}, nil
	}

	first := start - mod(start, s.step)
	last := end - mod(end, s.step)
	values := make([]float64, 0, (last-first)/s.step+1)
	for ts := first; ts <= last; ts += s.step {
		if v, ok := sr.values[ts]; ok {
			values = append(values, v)
		} else {
			values = append(values, math.NaN())
		}
	}

	return &storage.Series{Name: name, From: first, Until: last, Step: s.step, Values: values}, nil
}

func (s *Storage) GetMetadata(name, key string) (string, error) {
	if key != storage.MetadataAggregationMethod {
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedKey, key)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	return sr.method.String(), nil
}

func (s *Storage) SetMetadata(name, key, value string) (string, error) {
	if key != storage.MetadataAggregationMethod {
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedKey, key)
	}
	method, err := whisper.ParseAggregationMethod(value)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	prev := sr.method
	sr.method = method
	return prev.String(), nil
}

func (s *Storage) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.series {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalSeries: uint64(len(s.series))}
	for _, sr := range s.series {
		// Rough size estimate, same slot size as a series file
		stats.SizeBytes += uint64(len(sr.values)) * 12
	}
	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

func mod(ts, step int64) int64 {
	m := ts % step
	if m < 0 {
		m += step
	}
	return m
}
