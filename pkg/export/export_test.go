package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/metric"
	"github.com/nicktill/tinycarbon/pkg/storage"
	"github.com/nicktill/tinycarbon/pkg/storage/memory"
)

const testNow = 1_000_020

func newTestStore(t *testing.T) *memory.Storage {
	t.Helper()
	store := memory.New(10*time.Second, 6)
	store.SetNow(func() time.Time { return time.Unix(testNow, 0) })

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "servers.web1.cpu"))
	_, err := store.Write(ctx, "servers.web1.cpu", []metric.Datapoint{
		{Timestamp: testNow - 20, Value: 0.5},
		{Timestamp: testNow, Value: 0.75},
	})
	require.NoError(t, err)
	return store
}

func fullWindow() ExportOptions {
	return ExportOptions{
		Targets: []string{"servers.web1.cpu"},
		From:    time.Unix(testNow-30, 0),
		Until:   time.Unix(testNow, 0),
	}
}

func TestExportToJSON(t *testing.T) {
	store := newTestStore(t)
	exporter := NewExporter(store)

	buf := &bytes.Buffer{}
	result, err := exporter.ExportToJSON(context.Background(), buf, fullWindow())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SeriesExported)
	assert.Equal(t, 4, result.PointsExported)

	// Gaps are null so every step keeps its position
	assert.Contains(t, buf.String(), "null")

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "json", doc.Metadata.Format)
	assert.Equal(t, 1, doc.Metadata.SeriesCount)
	require.Len(t, doc.Series, 1)

	sd := doc.Series[0]
	assert.Equal(t, int64(testNow-30), sd.From)
	assert.Equal(t, int64(testNow), sd.Until)
	assert.Equal(t, int64(10), sd.Step)
	require.Len(t, sd.Values, 4)
	assert.True(t, math.IsNaN(float64(sd.Values[0])))
	assert.Equal(t, Value(0.5), sd.Values[1])
	assert.True(t, math.IsNaN(float64(sd.Values[2])))
	assert.Equal(t, Value(0.75), sd.Values[3])
}

func TestExportToCSV(t *testing.T) {
	store := newTestStore(t)
	exporter := NewExporter(store)

	buf := &bytes.Buffer{}
	result, err := exporter.ExportToCSV(context.Background(), buf, fullWindow())
	require.NoError(t, err)
	assert.Equal(t, "csv", result.Format)

	records, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"name", "timestamp", "value"}, records[0])
	assert.Equal(t, []string{"servers.web1.cpu", "999990", ""}, records[1])
	assert.Equal(t, []string{"servers.web1.cpu", "1000000", "0.5"}, records[2])
	assert.Equal(t, []string{"servers.web1.cpu", "1000020", "0.75"}, records[4])
}

func TestExport_MissingTargetsAreReported(t *testing.T) {
	store := newTestStore(t)
	exporter := NewExporter(store)

	opts := fullWindow()
	opts.Targets = append(opts.Targets, "servers.web9.cpu")

	result, err := exporter.ExportToJSON(context.Background(), &bytes.Buffer{}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SeriesExported)
	assert.Equal(t, []string{"servers.web9.cpu"}, result.Missing)
}

func TestConsolidate(t *testing.T) {
	nan := math.NaN()
	s := &storage.Series{Name: "a", From: 100, Until: 160, Step: 10, Values: []float64{1, 3, nan, nan, 5, nan, 7}}

	got := Consolidate(s, 3)
	assert.Equal(t, int64(30), got.Step)
	assert.Equal(t, int64(100), got.From)
	assert.Equal(t, int64(160), got.Until)
	require.Len(t, got.Values, 3)
	assert.Equal(t, 2.0, got.Values[0])
	assert.Equal(t, 5.0, got.Values[1])
	assert.Equal(t, 7.0, got.Values[2])

	allGaps := &storage.Series{Name: "b", From: 0, Until: 30, Step: 10, Values: []float64{nan, nan, nan, nan}}
	got = Consolidate(allGaps, 2)
	require.Len(t, got.Values, 2)
	assert.True(t, math.IsNaN(got.Values[0]))

	assert.Same(t, s, Consolidate(s, 10))
}

func TestImportFromJSON_RoundTrip(t *testing.T) {
	source := newTestStore(t)
	buf := &bytes.Buffer{}
	_, err := NewExporter(source).ExportToJSON(context.Background(), buf, fullWindow())
	require.NoError(t, err)

	target := memory.New(10*time.Second, 6)
	target.SetNow(func() time.Time { return time.Unix(testNow, 0) })

	result, err := NewImporter(target).ImportFromJSON(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SeriesImported)
	assert.Equal(t, 1, result.SeriesCreated)
	assert.Equal(t, 2, result.PointsImported)
	assert.Equal(t, 0, result.PointsRejected)

	s, err := target.Fetch(context.Background(), "servers.web1.cpu", time.Unix(testNow-30, 0), time.Unix(testNow, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.Values[1])
	assert.Equal(t, 0.75, s.Values[3])
}

func TestImportFromJSON_SkipsInvalidSeries(t *testing.T) {
	target := memory.New(10*time.Second, 6)
	target.SetNow(func() time.Time { return time.Unix(testNow, 0) })

	body := `{"series": [
		{"name": "bad..name", "from": 1000000, "until": 1000000, "step": 10, "values": [1]},
		{"name": "short", "from": 1000000, "until": 1000020, "step": 10, "values": [1]},
		{"name": "old.points", "from": 100, "until": 110, "step": 10, "values": [1, 2]}
	]}`

	result, err := NewImporter(target).ImportFromJSON(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.SeriesImported)
	assert.Equal(t, 2, result.PointsRejected)
}

func TestParseTime(t *testing.T) {
	now := time.Unix(testNow, 0)
	def := time.Unix(42, 0)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", def},
		{"now", now},
		{"999000", time.Unix(999000, 0)},
		{"-1h", now.Add(-time.Hour)},
		{"-30min", now.Add(-30 * time.Minute)},
		{"-7d", now.Add(-7 * 24 * time.Hour)},
		{"2026-10-15T12:00:00Z", time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in, now, def)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
	}

	for _, bad := range []string{"yesterday", "-5parsecs", "-h"} {
		_, err := ParseTime(bad, now, def)
		assert.Error(t, err, bad)
	}
}

func newTestHandler(t *testing.T) *Handler {
	h := NewHandler(newTestStore(t))
	h.now = func() time.Time { return time.Unix(testNow, 0) }
	return h
}

func TestHandleFetch(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/fetch?target=servers.web1.cpu&from=-30s&format=csv", nil)
	rr := httptest.NewRecorder()
	h.HandleFetch(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "servers.web1.cpu,1000020,0.75")
}

func TestHandleFetch_Errors(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no target", "", http.StatusBadRequest},
		{"bad format", "target=servers.web1.cpu&format=xml", http.StatusBadRequest},
		{"bad from", "target=servers.web1.cpu&from=soon", http.StatusBadRequest},
		{"inverted range", "target=servers.web1.cpu&from=now&until=-1h", http.StatusBadRequest},
		{"bad maxDataPoints", "target=servers.web1.cpu&maxDataPoints=0", http.StatusBadRequest},
		{"unknown series", "target=nope.nothing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/fetch?"+tt.query, nil)
			rr := httptest.NewRecorder()
			h.HandleFetch(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestHandleImport(t *testing.T) {
	h := newTestHandler(t)

	body := `{"series": [{"name": "restored.metric", "from": 1000010, "until": 1000020, "step": 10, "values": [1, null]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.HandleImport(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var result ImportResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 1, result.PointsImported)
	assert.Equal(t, 1, result.SeriesCreated)

	req = httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(body))
	rr = httptest.NewRecorder()
	h.HandleImport(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
