package whisper

import (
	"errors"
	"fmt"
	"sort"
)

// Update writes one point and propagates it to the coarser archives.
func (w *Whisper) Update(p Point) error {
	if w.readOnly {
		return ErrReadOnly
	}
	if err := lockFile(w.file, true); err != nil {
		return err
	}
	defer unlockFile(w.file)

	return w.update(p, w.unixNow())
}

// UpdateMany writes points in timestamp order under a single lock. Points
// outside the retention window are skipped and counted in rejected; any
// other error aborts the batch.
func (w *Whisper) UpdateMany(points []Point) (rejected int, err error) {
	if w.readOnly {
		return 0, ErrReadOnly
	}
	if len(points) == 0 {
		return 0, nil
	}

	sorted := append([]Point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	if err := lockFile(w.file, true); err != nil {
		return 0, err
	}
	defer unlockFile(w.file)

	now := w.unixNow()
	for _, p := range sorted {
		if err := w.update(p, now); err != nil {
			if errors.Is(err, ErrOutOfRange) {
				rejected++
				continue
			}
			return rejected, err
		}
	}
	return rejected, nil
}

func (w *Whisper) update(p Point, now uint32) error {
	archives := w.Header.Archives
	finest := archives[0]

	if uint64(p.Timestamp) > uint64(now)+uint64(finest.SecondsPerPoint) {
		return fmt.Errorf("%w: %d is in the future (now %d)", ErrOutOfRange, p.Timestamp, now)
	}
	var age uint32
	if now > p.Timestamp {
		age = now - p.Timestamp
	}
	if age >= w.Header.Metadata.MaxRetention {
		return fmt.Errorf("%w: %d is older than %ds", ErrOutOfRange, p.Timestamp, w.Header.Metadata.MaxRetention)
	}

	idx := 0
	for i, a := range archives {
		if a.Retention() > age {
			idx = i
			break
		}
	}

	target := archives[idx]
	aligned := Point{Timestamp: quantize(p.Timestamp, target.SecondsPerPoint), Value: p.Value}
	if err := w.writePoint(target, aligned); err != nil {
		return err
	}

	higher := target
	for _, lower := range archives[idx+1:] {
		ok, err := w.propagate(aligned.Timestamp, higher, lower)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		higher = lower
	}
	return nil
}

// propagate recomputes the lower archive's point covering ts from the
// higher archive. It reports false when too few higher points are known,
// in which case nothing is written.
func (w *Whisper) propagate(ts uint32, higher, lower ArchiveInfo) (bool, error) {
	start := quantize(ts, lower.SecondsPerPoint)
	n := int(lower.SecondsPerPoint / higher.SecondsPerPoint)

	points, err := w.readRange(higher, start, n)
	if err != nil {
		return false, err
	}

	known := make([]float64, 0, n)
	for i, p := range points {
		if p.Timestamp == start+uint32(i)*higher.SecondsPerPoint {
			known = append(known, p.Value)
		}
	}
	if len(known) == 0 {
		return false, nil
	}
	if float32(len(known))/float32(n) < w.Header.Metadata.XFilesFactor {
		return false, nil
	}

	value := w.Header.Metadata.AggregationMethod.aggregate(known)
	return true, w.writePoint(lower, Point{Timestamp: start, Value: value})
}
