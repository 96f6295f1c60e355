package metric

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedLine is returned when a plaintext line does not have exactly
// three fields or its value/timestamp is not numeric.
var ErrMalformedLine = errors.New("malformed line")

// ParseLine parses one plaintext protocol line: "<metric> <value> <timestamp>".
// Fractional timestamps are truncated to whole seconds.
func ParseLine(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Sample{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedLine, len(fields))
	}

	name := fields[0]
	if err := ValidateName(name); err != nil {
		return Sample{}, err
	}

	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: value %q", ErrMalformedLine, fields[1])
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Sample{}, fmt.Errorf("%w: value %q is not finite", ErrMalformedLine, fields[1])
	}

	ts, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Sample{}, fmt.Errorf("%w: timestamp %q", ErrMalformedLine, fields[2])
	}

	return Sample{
		Metric:    name,
		Datapoint: Datapoint{Timestamp: int64(ts), Value: value},
	}, nil
}

// FormatLine renders a sample in the plaintext protocol, newline terminated.
func FormatLine(s Sample) string {
	return s.Metric + " " + strconv.FormatFloat(s.Value, 'f', -1, 64) + " " + strconv.FormatInt(s.Timestamp, 10) + "\n"
}
