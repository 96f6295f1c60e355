package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "max", cfg.Cache.Strategy)
	assert.Equal(t, DefaultLineReceiverAddr, cfg.LineReceiverAddr)
}

func TestValidate(t *testing.T) {
	badXFF := 1.5
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }},
		{"unknown strategy", func(c *Config) { c.Cache.Strategy = "random" }},
		{"negative create limit", func(c *Config) { c.Cache.MaxCreatesPerMinute = -1 }},
		{"zero flush interval", func(c *Config) { c.Aggregator.FlushInterval = 0 }},
		{"negative delay", func(c *Config) { c.Aggregator.BufferDelay = -1 }},
		{"schema without retentions", func(c *Config) {
			c.StorageSchemas = []StorageSchema{{Name: "x", Pattern: ".*"}}
		}},
		{"xff out of range", func(c *Config) {
			c.AggregationSchemas = []AggregationSchema{{Name: "x", Pattern: ".*", XFilesFactor: &badXFF}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
