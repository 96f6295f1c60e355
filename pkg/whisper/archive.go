package whisper

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNoArchives         = errors.New("archive list must contain at least one archive")
	ErrDuplicateArchive   = errors.New("no archive may be a duplicate of another")
	ErrUnevenPrecision    = errors.New("higher precision archives must evenly divide into lower precision")
	ErrLowRetention       = errors.New("lower precision archives must cover a larger time interval than higher precision")
	ErrInsufficientPoints = errors.New("archive has insufficient points to aggregate to a lower precision")
	ErrInvalidRetention   = errors.New("invalid retention definition")
)

// ArchiveInfo describes one retention tier.
type ArchiveInfo struct {
	Offset          uint32
	SecondsPerPoint uint32
	Points          uint32
}

// NewArchiveInfo builds an ArchiveInfo; the offset is assigned on create.
func NewArchiveInfo(secondsPerPoint, points uint32) ArchiveInfo {
	return ArchiveInfo{SecondsPerPoint: secondsPerPoint, Points: points}
}

// Retention is the time span covered by the archive, in seconds.
func (a ArchiveInfo) Retention() uint32 {
	return a.SecondsPerPoint * a.Points
}

func (a ArchiveInfo) size() uint32 {
	return a.Points * pointSize
}

func (a ArchiveInfo) end() uint32 {
	return a.Offset + a.size()
}

func (a ArchiveInfo) String() string {
	return fmt.Sprintf("%d:%d", a.SecondsPerPoint, a.Points)
}

// ArchiveInfos is a list of archives, finest first after Sort.
type ArchiveInfos []ArchiveInfo

func (a ArchiveInfos) Len() int           { return len(a) }
func (a ArchiveInfos) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ArchiveInfos) Less(i, j int) bool { return a[i].SecondsPerPoint < a[j].SecondsPerPoint }

// Validate sorts the archives finest first and checks that they form a
// usable cascade.
func (a ArchiveInfos) Validate() error {
	if len(a) == 0 {
		return ErrNoArchives
	}
	sort.Sort(a)

	for i, archive := range a {
		if archive.SecondsPerPoint == 0 || archive.Points == 0 {
			return fmt.Errorf("%w: archive %d has zero precision or size", ErrInvalidRetention, i)
		}
		if i == len(a)-1 {
			break
		}

		next := a[i+1]
		if archive.SecondsPerPoint == next.SecondsPerPoint {
			return fmt.Errorf("%w: archives %d and %d", ErrDuplicateArchive, i, i+1)
		}
		if next.SecondsPerPoint%archive.SecondsPerPoint != 0 {
			return fmt.Errorf("%w: archive %d (%ds) and %d (%ds)", ErrUnevenPrecision, i, archive.SecondsPerPoint, i+1, next.SecondsPerPoint)
		}
		if next.Retention() <= archive.Retention() {
			return fmt.Errorf("%w: archive %d (%ds) and %d (%ds)", ErrLowRetention, i, archive.Retention(), i+1, next.Retention())
		}
		if archive.Points < next.SecondsPerPoint/archive.SecondsPerPoint {
			return fmt.Errorf("%w: archive %d needs at least %d points", ErrInsufficientPoints, i, next.SecondsPerPoint/archive.SecondsPerPoint)
		}
	}
	return nil
}

// ParseArchiveInfo parses "secondsPerPoint:points" ("60:1440") or the unit
// form "precision:retention" ("1m:1d", "10s:6h").
func ParseArchiveInfo(def string) (ArchiveInfo, error) {
	precisionDef, retentionDef, ok := strings.Cut(strings.TrimSpace(def), ":")
	if !ok {
		return ArchiveInfo{}, fmt.Errorf("%w: %q", ErrInvalidRetention, def)
	}

	precision, err := parseSeconds(precisionDef)
	if err != nil || precision == 0 {
		return ArchiveInfo{}, fmt.Errorf("%w: bad precision in %q", ErrInvalidRetention, def)
	}

	var points uint64
	if n, err := strconv.ParseUint(retentionDef, 10, 32); err == nil {
		points = n
	} else {
		retention, err := parseSeconds(retentionDef)
		if err != nil {
			return ArchiveInfo{}, fmt.Errorf("%w: bad retention in %q", ErrInvalidRetention, def)
		}
		points = retention / precision
	}
	if points == 0 || points*precision > 1<<32-1 {
		return ArchiveInfo{}, fmt.Errorf("%w: retention out of range in %q", ErrInvalidRetention, def)
	}
	return NewArchiveInfo(uint32(precision), uint32(points)), nil
}

// ParseArchiveInfos parses a comma separated list of archive definitions.
func ParseArchiveInfos(defs string) (ArchiveInfos, error) {
	var archives ArchiveInfos
	for _, def := range strings.Split(defs, ",") {
		if strings.TrimSpace(def) == "" {
			continue
		}
		a, err := ParseArchiveInfo(def)
		if err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	if len(archives) == 0 {
		return nil, ErrNoArchives
	}
	return archives, nil
}

var unitSeconds = []struct {
	prefix  string
	seconds uint64
}{
	{"s", 1},
	{"m", 60},
	{"h", 3600},
	{"d", 86400},
	{"w", 7 * 86400},
	{"y", 365 * 86400},
}

// parseSeconds parses "60", "60s", "1m", "2h", "7d", "1w" or "1y".
func parseSeconds(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("no number in %q", s)
	}

	n, err := strconv.ParseUint(s[:i], 10, 32)
	if err != nil {
		return 0, err
	}
	unit := s[i:]
	if unit == "" {
		return n, nil
	}
	for _, u := range unitSeconds {
		if strings.HasPrefix(unit, u.prefix) {
			return n * u.seconds, nil
		}
	}
	return 0, fmt.Errorf("unknown unit %q", unit)
}
