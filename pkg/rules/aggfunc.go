package rules

import "strings"

// AggFunc is the reduction applied to the values collected in one
// aggregation interval.
type AggFunc int

const (
	AggSum AggFunc = iota + 1
	AggAvg
	AggMin
	AggMax
	AggCount
	AggLast
)

var aggFuncNames = map[string]AggFunc{
	"sum":   AggSum,
	"avg":   AggAvg,
	"min":   AggMin,
	"max":   AggMax,
	"count": AggCount,
	"last":  AggLast,
}

// ParseAggFunc maps a rule-file function name to its AggFunc.
func ParseAggFunc(name string) (AggFunc, error) {
	fn, ok := aggFuncNames[strings.ToLower(name)]
	if !ok {
		return 0, configErr("unknown aggregation function %q", name)
	}
	return fn, nil
}

func (f AggFunc) String() string {
	for name, fn := range aggFuncNames {
		if fn == f {
			return name
		}
	}
	return "unknown"
}

// Reduce applies f to values. values must not be empty.
func (f AggFunc) Reduce(values []float64) float64 {
	switch f {
	case AggSum, AggAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		if f == AggAvg {
			return sum / float64(len(values))
		}
		return sum
	case AggMin:
		lo := values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
		}
		return lo
	case AggMax:
		hi := values[0]
		for _, v := range values[1:] {
			if v > hi {
				hi = v
			}
		}
		return hi
	case AggCount:
		return float64(len(values))
	case AggLast:
		return values[len(values)-1]
	}
	panic("rules: reduce with unknown aggregation function")
}
