package whisper

import (
	"fmt"
	"strings"
)

// AggregationMethod reduces finer points into one coarser point.
type AggregationMethod uint32

const (
	Average AggregationMethod = iota + 1
	Sum
	Last
	Max
	Min
)

var aggregationNames = []struct {
	name   string
	method AggregationMethod
}{
	{"average", Average},
	{"avg", Average},
	{"sum", Sum},
	{"last", Last},
	{"max", Max},
	{"min", Min},
}

// ParseAggregationMethod maps a name ("average", "sum", "last", "max",
// "min") to its method.
func ParseAggregationMethod(s string) (AggregationMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range aggregationNames {
		if a.name == s {
			return a.method, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAggregationMethod, s)
}

// Valid reports whether m is one of the known methods.
func (m AggregationMethod) Valid() bool {
	return m >= Average && m <= Min
}

func (m AggregationMethod) String() string {
	switch m {
	case Average:
		return "average"
	case Sum:
		return "sum"
	case Last:
		return "last"
	case Max:
		return "max"
	case Min:
		return "min"
	}
	return fmt.Sprintf("unknown(%d)", uint32(m))
}

// aggregate reduces values, which must not be empty.
func (m AggregationMethod) aggregate(values []float64) float64 {
	switch m {
	case Sum, Average:
		var sum float64
		for _, v := range values {
			sum += v
		}
		if m == Average {
			return sum / float64(len(values))
		}
		return sum
	case Last:
		return values[len(values)-1]
	case Max:
		hi := values[0]
		for _, v := range values[1:] {
			if v > hi {
				hi = v
			}
		}
		return hi
	case Min:
		lo := values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
		}
		return lo
	}
	panic("whisper: aggregate with invalid method")
}
