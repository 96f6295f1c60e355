package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
)

const testNow = 1_000_020

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s := New(10*time.Second, 6)
	s.SetNow(func() time.Time { return time.Unix(testNow, 0) })
	return s
}

func TestMemoryStorage_WriteAndFetch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Write(ctx, "a.b", []metric.Datapoint{{Timestamp: testNow, Value: 1}})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Create(ctx, "a.b"))
	rejected, err := s.Write(ctx, "a.b", []metric.Datapoint{
		{Timestamp: testNow - 15, Value: 1},
		{Timestamp: testNow - 1, Value: 2},
		{Timestamp: testNow - 60, Value: 3},
		{Timestamp: testNow + 11, Value: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rejected)

	series, err := s.Fetch(ctx, "a.b", time.Unix(testNow-20, 0), time.Unix(testNow, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(testNow-20), series.From)
	assert.Equal(t, int64(testNow), series.Until)
	assert.Equal(t, int64(10), series.Step)
	require.Len(t, series.Values, 3)
	assert.Equal(t, 1.0, series.Values[0])
	assert.Equal(t, 2.0, series.Values[1])
	assert.True(t, math.IsNaN(series.Values[2]))
}

func TestMemoryStorage_FetchInvalidRange(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Create(context.Background(), "a.b"))

	_, err := s.Fetch(context.Background(), "a.b", time.Unix(testNow, 0), time.Unix(testNow-10, 0))
	assert.Error(t, err)
}

func TestMemoryStorage_Metadata(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Create(context.Background(), "a.b"))

	prev, err := s.SetMetadata("a.b", storage.MetadataAggregationMethod, "sum")
	require.NoError(t, err)
	assert.Equal(t, "average", prev)

	got, err := s.GetMetadata("a.b", storage.MetadataAggregationMethod)
	require.NoError(t, err)
	assert.Equal(t, "sum", got)

	_, err = s.GetMetadata("a.b", "owner")
	assert.ErrorIs(t, err, storage.ErrUnsupportedKey)
}

func TestMemoryStorage_ListAndStats(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for _, name := range []string{"x.2", "x.1", "y.1"} {
		require.NoError(t, s.Create(ctx, name))
	}

	names, err := s.List(ctx, "x.", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.1", "x.2"}, names)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.TotalSeries)

	exists, err := s.Exists("y.1")
	require.NoError(t, err)
	assert.True(t, exists)
}
