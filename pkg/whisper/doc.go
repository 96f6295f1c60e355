/*
Package whisper implements the fixed-size, multi-resolution series file used
to persist one metric.

# File Layout

A file is a header followed by one circular array of points per archive:

	metadata:  aggregationMethod uint32 | maxRetention uint32 | xFilesFactor float32 | archiveCount uint32
	archives:  offset uint32 | secondsPerPoint uint32 | points uint32   (archiveCount times)
	data:      timestamp uint32 | value float64                        (points times, per archive)

All integers are big-endian. Archives are ordered finest to coarsest.

# Slots

A point at time t lives in slot (t / secondsPerPoint) mod points of its
archive. A slot is "known" for an aligned timestamp only if the timestamp
stored in it equals that aligned timestamp; anything else is a gap, either
never written or overwritten by a later lap around the ring.

# Propagation

Writing a point updates the finest archive that still covers its age, then
walks the coarser archives in order. For each one it collects the finer
archive's points inside the coarser interval; if the known fraction is below
the file's xFilesFactor the walk stops, otherwise the known values are reduced
with the file's aggregation method and written one level down.
*/
package whisper
