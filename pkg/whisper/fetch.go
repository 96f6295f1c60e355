package whisper

import (
	"fmt"
	"math"
)

// Fetch returns one value per slot between from and until, inclusive, from
// the finest archive that covers from. Slots with no data are NaN. A range
// entirely outside the retention window yields an empty Interval and no
// values.
func (w *Whisper) Fetch(from, until uint32) (Interval, []float64, error) {
	if from > until {
		return Interval{}, nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, from, until)
	}

	now := w.unixNow()
	var oldest uint32
	if now > w.Header.Metadata.MaxRetention {
		oldest = now - w.Header.Metadata.MaxRetention
	}
	if until < oldest || from > now {
		return Interval{}, nil, nil
	}
	if from < oldest {
		from = oldest
	}
	if until > now {
		until = now
	}

	archive := w.Header.Archives[len(w.Header.Archives)-1]
	for _, a := range w.Header.Archives {
		if a.Retention() >= now-from {
			archive = a
			break
		}
	}

	step := archive.SecondsPerPoint
	first := quantize(from, step)
	last := quantize(until, step)
	n := (last-first)/step + 1
	if n > archive.Points {
		n = archive.Points
		first = last - (n-1)*step
	}

	if err := lockFile(w.file, false); err != nil {
		return Interval{}, nil, err
	}
	defer unlockFile(w.file)

	points, err := w.readRange(archive, first, int(n))
	if err != nil {
		return Interval{}, nil, err
	}

	values := make([]float64, n)
	for i, p := range points {
		if p.Timestamp == first+uint32(i)*step {
			values[i] = p.Value
		} else {
			values[i] = math.NaN()
		}
	}
	return Interval{From: first, Until: last, Step: step}, values, nil
}
