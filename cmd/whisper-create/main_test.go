package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/whisper"
)

func TestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.wsp")
	stdout := &bytes.Buffer{}

	err := run([]string{"-xFilesFactor", "0.25", "-aggregationMethod", "max", path, "60:1440", "1h:7d"}, stdout, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Created: "+path)

	w, err := whisper.OpenReadOnly(path)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, whisper.Max, w.Header.Metadata.AggregationMethod)
	assert.Equal(t, float32(0.25), w.Header.Metadata.XFilesFactor)
	require.Len(t, w.Header.Archives, 2)
	assert.Equal(t, uint32(3600), w.Header.Archives[1].SecondsPerPoint)
	assert.Equal(t, uint32(168), w.Header.Archives[1].Points)
}

func TestRun_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.wsp")
	require.NoError(t, run([]string{path, "60:10"}, &bytes.Buffer{}, &bytes.Buffer{}))

	// Existing files are kept unless -overwrite is given
	assert.ErrorIs(t, run([]string{path, "60:20"}, &bytes.Buffer{}, &bytes.Buffer{}), os.ErrExist)
	require.NoError(t, run([]string{"-overwrite", path, "60:20"}, &bytes.Buffer{}, &bytes.Buffer{}))

	w, err := whisper.OpenReadOnly(path)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, uint32(20), w.Header.Archives[0].Points)
}

func TestRun_OverwriteKeepsFileOnBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.wsp")
	require.NoError(t, run([]string{path, "60:10"}, &bytes.Buffer{}, &bytes.Buffer{}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, args := range [][]string{
		{"-overwrite", path, "60:10", "90:100"},
		{"-overwrite", path, "60:10", "120:5"},
		{"-overwrite", "-xFilesFactor", "2", path, "60:20"},
	} {
		assert.Error(t, run(args, &bytes.Buffer{}, &bytes.Buffer{}), args)

		after, err := os.ReadFile(path)
		require.NoError(t, err, args)
		assert.Equal(t, before, after, args)
	}
}

func TestRun_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.wsp")

	tests := []struct {
		name string
		args []string
	}{
		{"no archives", []string{path}},
		{"unknown flag", []string{"-bogus", path, "60:10"}},
		{"bad archive", []string{path, "sixty"}},
		{"bad method", []string{"-aggregationMethod", "median", path, "60:10"}},
		{"bad xff", []string{"-xFilesFactor", "2", path, "60:10"}},
		{"uneven archives", []string{path, "60:10", "90:100"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(tt.args, &bytes.Buffer{}, &bytes.Buffer{}))
		})
	}
}
