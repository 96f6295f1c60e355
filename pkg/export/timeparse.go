package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var relativeUnits = map[string]time.Duration{
	"s":    time.Second,
	"sec":  time.Second,
	"min":  time.Minute,
	"h":    time.Hour,
	"hour": time.Hour,
	"d":    24 * time.Hour,
	"day":  24 * time.Hour,
	"w":    7 * 24 * time.Hour,
	"week": 7 * 24 * time.Hour,
	"mon":  30 * 24 * time.Hour,
	"y":    365 * 24 * time.Hour,
	"year": 365 * 24 * time.Hour,
}

// ParseTime reads a fetch time parameter: "" (def), "now", unix seconds,
// RFC3339, or an offset from now such as "-6h", "-30min" or "-7d".
func ParseTime(param string, now, def time.Time) (time.Time, error) {
	param = strings.TrimSpace(param)
	switch {
	case param == "":
		return def, nil
	case param == "now":
		return now, nil
	case strings.HasPrefix(param, "-") || strings.HasPrefix(param, "+"):
		d, err := parseOffset(param[1:])
		if err != nil {
			return time.Time{}, err
		}
		if param[0] == '-' {
			d = -d
		}
		return now.Add(d), nil
	}

	if secs, err := strconv.ParseInt(param, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", param)
}

func parseOffset(s string) (time.Duration, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad offset %q", s)
	}
	unit, ok := relativeUnits[strings.ToLower(s[i:])]
	if !ok {
		return 0, fmt.Errorf("bad offset unit %q", s[i:])
	}
	return time.Duration(n) * unit, nil
}
