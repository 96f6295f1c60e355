package whisperdb

import (
	"fmt"
	"regexp"

	"github.com/nicktill/tinycarbon/pkg/config"
	"github.com/nicktill/tinycarbon/pkg/whisper"
)

// Schema chooses the archives of a new series.
type Schema struct {
	Name       string
	Pattern    *regexp.Regexp
	Retentions string
	Archives   whisper.ArchiveInfos
}

// AggregationSchema chooses the header values of a new series.
type AggregationSchema struct {
	Name              string
	Pattern           *regexp.Regexp
	XFilesFactor      float32
	AggregationMethod whisper.AggregationMethod
}

// Schemas holds both ordered schema lists. The first matching entry of each
// list wins; both lists end with a catch-all default.
type Schemas struct {
	storage     []Schema
	aggregation []AggregationSchema
}

// CompileSchemas compiles the configured schemas and appends the defaults.
func CompileSchemas(storage []config.StorageSchema, aggregation []config.AggregationSchema) (*Schemas, error) {
	s := &Schemas{}

	for _, sc := range append(append([]config.StorageSchema(nil), storage...), config.StorageSchema{
		Name:       "default",
		Pattern:    ".*",
		Retentions: config.DefaultRetentions,
	}) {
		re, err := regexp.Compile(sc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: storage schema %q: %v", config.ErrInvalidConfig, sc.Name, err)
		}
		archives, err := whisper.ParseArchiveInfos(sc.Retentions)
		if err != nil {
			return nil, fmt.Errorf("%w: storage schema %q: %v", config.ErrInvalidConfig, sc.Name, err)
		}
		if err := archives.Validate(); err != nil {
			return nil, fmt.Errorf("%w: storage schema %q: %v", config.ErrInvalidConfig, sc.Name, err)
		}
		s.storage = append(s.storage, Schema{Name: sc.Name, Pattern: re, Retentions: sc.Retentions, Archives: archives})
	}

	defaultXFF := float64(config.DefaultXFilesFactor)
	for _, ac := range append(append([]config.AggregationSchema(nil), aggregation...), config.AggregationSchema{
		Name:              "default",
		Pattern:           ".*",
		XFilesFactor:      &defaultXFF,
		AggregationMethod: config.DefaultAggregationMethod,
	}) {
		re, err := regexp.Compile(ac.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: aggregation schema %q: %v", config.ErrInvalidConfig, ac.Name, err)
		}

		xff := float32(config.DefaultXFilesFactor)
		if ac.XFilesFactor != nil {
			xff = float32(*ac.XFilesFactor)
		}
		if xff < 0 || xff > 1 {
			return nil, fmt.Errorf("%w: aggregation schema %q: %v", config.ErrInvalidConfig, ac.Name, whisper.ErrInvalidXFilesFactor)
		}

		method := whisper.DefaultAggregationMethod
		if ac.AggregationMethod != "" {
			if method, err = whisper.ParseAggregationMethod(ac.AggregationMethod); err != nil {
				return nil, fmt.Errorf("%w: aggregation schema %q: %v", config.ErrInvalidConfig, ac.Name, err)
			}
		}
		s.aggregation = append(s.aggregation, AggregationSchema{Name: ac.Name, Pattern: re, XFilesFactor: xff, AggregationMethod: method})
	}

	return s, nil
}

// Match returns the storage and aggregation schemas for a metric.
func (s *Schemas) Match(name string) (Schema, AggregationSchema) {
	var sc Schema
	for _, candidate := range s.storage {
		if candidate.Pattern.MatchString(name) {
			sc = candidate
			break
		}
	}

	var ac AggregationSchema
	for _, candidate := range s.aggregation {
		if candidate.Pattern.MatchString(name) {
			ac = candidate
			break
		}
	}
	return sc, ac
}
