package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

var (
	ErrInvalidXFilesFactor      = errors.New("xFilesFactor must be between 0 and 1")
	ErrInvalidAggregationMethod = errors.New("invalid aggregation method")
	ErrOutOfRange               = errors.New("timestamp outside the retention window")
	ErrFormat                   = errors.New("malformed whisper file")
	ErrInvalidRange             = errors.New("invalid time range: from is after until")
	ErrReadOnly                 = errors.New("whisper file opened read-only")
)

const (
	DefaultXFilesFactor      = 0.5
	DefaultAggregationMethod = Average

	metadataSize    = 16
	archiveInfoSize = 12
	pointSize       = 12

	// maxArchives bounds the archive count read from a header so a corrupt
	// file cannot make us allocate an absurd table.
	maxArchives = 64

	fillChunkSize = 16384
)

// Metadata is the fixed part of the header.
type Metadata struct {
	AggregationMethod AggregationMethod
	MaxRetention      uint32
	XFilesFactor      float32
	ArchiveCount      uint32
}

// Header is the metadata plus the archive table, finest archive first.
type Header struct {
	Metadata Metadata
	Archives []ArchiveInfo
}

// Size is the number of bytes the header occupies.
func (h Header) Size() uint32 {
	return headerSize(len(h.Archives))
}

// Point is a stored timestamp/value pair.
type Point struct {
	Timestamp uint32
	Value     float64
}

// NewPoint builds a Point at t.
func NewPoint(t time.Time, v float64) Point {
	return Point{Timestamp: uint32(t.Unix()), Value: v}
}

func (p Point) Time() time.Time {
	return time.Unix(int64(p.Timestamp), 0)
}

// Interval describes the slots returned by Fetch. From and Until are the
// first and last aligned timestamps, both inclusive.
type Interval struct {
	From  uint32
	Until uint32
	Step  uint32
}

// Options control header values of a new file.
type Options struct {
	XFilesFactor      float32
	AggregationMethod AggregationMethod
	// Sparse leaves the data region as a hole instead of writing zeros.
	Sparse bool
}

func DefaultOptions() Options {
	return Options{
		XFilesFactor:      DefaultXFilesFactor,
		AggregationMethod: DefaultAggregationMethod,
	}
}

// Whisper is an open series file.
type Whisper struct {
	Header Header

	path     string
	file     *os.File
	readOnly bool
	now      func() time.Time
}

func headerSize(archives int) uint32 {
	return metadataSize + archiveInfoSize*uint32(archives)
}

// Create writes a new file at path. It fails if the file already exists.
func Create(path string, archives ArchiveInfos, opts Options) (*Whisper, error) {
	archives = append(ArchiveInfos(nil), archives...)
	if err := archives.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(float64(opts.XFilesFactor)) || opts.XFilesFactor < 0 || opts.XFilesFactor > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXFilesFactor, opts.XFilesFactor)
	}
	if !opts.AggregationMethod.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAggregationMethod, uint32(opts.AggregationMethod))
	}

	header := Header{
		Metadata: Metadata{
			AggregationMethod: opts.AggregationMethod,
			MaxRetention:      archives[len(archives)-1].Retention(),
			XFilesFactor:      opts.XFilesFactor,
			ArchiveCount:      uint32(len(archives)),
		},
		Archives: make([]ArchiveInfo, len(archives)),
	}
	offset := headerSize(len(archives))
	for i, a := range archives {
		a.Offset = offset
		header.Archives[i] = a
		offset = a.end()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}

	if err := initFile(file, header, opts.Sparse); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	return &Whisper{Header: header, path: path, file: file, now: time.Now}, nil
}

func initFile(file *os.File, header Header, sparse bool) error {
	if _, err := file.WriteAt(encodeHeader(header), 0); err != nil {
		return err
	}

	size := int64(header.Archives[len(header.Archives)-1].end())
	if sparse {
		return file.Truncate(size)
	}

	buf := make([]byte, fillChunkSize)
	for pos := int64(header.Size()); pos < size; {
		n := int64(len(buf))
		if size-pos < n {
			n = size - pos
		}
		if _, err := file.WriteAt(buf[:n], pos); err != nil {
			return err
		}
		pos += n
	}
	return file.Sync()
}

// Open opens an existing file for reading and writing.
func Open(path string) (*Whisper, error) {
	return open(path, os.O_RDWR)
}

// OpenReadOnly opens an existing file for reading.
func OpenReadOnly(path string) (*Whisper, error) {
	return open(path, os.O_RDONLY)
}

func open(path string, flag int) (*Whisper, error) {
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}

	header, err := readHeader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &Whisper{
		Header:   header,
		path:     path,
		file:     file,
		readOnly: flag == os.O_RDONLY,
		now:      time.Now,
	}, nil
}

// SetNow replaces the clock used for retention checks.
func (w *Whisper) SetNow(now func() time.Time) {
	w.now = now
}

func (w *Whisper) Path() string {
	return w.path
}

func (w *Whisper) Close() error {
	return w.file.Close()
}

// DumpArchive returns every slot of archive n as stored, including slots
// that were never written.
func (w *Whisper) DumpArchive(n int) ([]Point, error) {
	if n < 0 || n >= len(w.Header.Archives) {
		return nil, fmt.Errorf("archive %d out of range (have %d)", n, len(w.Header.Archives))
	}
	if err := lockFile(w.file, false); err != nil {
		return nil, err
	}
	defer unlockFile(w.file)

	a := w.Header.Archives[n]
	return w.readPoints(a.Offset, int(a.Points))
}

// SetAggregationMethod rewrites the method in the header and returns the
// previous one. Points already rolled up are not recomputed.
func (w *Whisper) SetAggregationMethod(m AggregationMethod) (AggregationMethod, error) {
	if !m.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAggregationMethod, uint32(m))
	}
	if w.readOnly {
		return 0, ErrReadOnly
	}
	if err := lockFile(w.file, true); err != nil {
		return 0, err
	}
	defer unlockFile(w.file)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(m))
	if _, err := w.file.WriteAt(buf[:], 0); err != nil {
		return 0, err
	}

	prev := w.Header.Metadata.AggregationMethod
	w.Header.Metadata.AggregationMethod = m
	return prev, nil
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, h.Size())
	binary.BigEndian.PutUint32(buf[0:], uint32(h.Metadata.AggregationMethod))
	binary.BigEndian.PutUint32(buf[4:], h.Metadata.MaxRetention)
	binary.BigEndian.PutUint32(buf[8:], math.Float32bits(h.Metadata.XFilesFactor))
	binary.BigEndian.PutUint32(buf[12:], h.Metadata.ArchiveCount)

	for i, a := range h.Archives {
		b := buf[metadataSize+i*archiveInfoSize:]
		binary.BigEndian.PutUint32(b[0:], a.Offset)
		binary.BigEndian.PutUint32(b[4:], a.SecondsPerPoint)
		binary.BigEndian.PutUint32(b[8:], a.Points)
	}
	return buf
}

func readHeader(file *os.File) (Header, error) {
	info, err := file.Stat()
	if err != nil {
		return Header{}, err
	}

	meta := make([]byte, metadataSize)
	if _, err := file.ReadAt(meta, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, fmt.Errorf("%w: truncated metadata", ErrFormat)
		}
		return Header{}, err
	}

	var h Header
	h.Metadata = Metadata{
		AggregationMethod: AggregationMethod(binary.BigEndian.Uint32(meta[0:])),
		MaxRetention:      binary.BigEndian.Uint32(meta[4:]),
		XFilesFactor:      math.Float32frombits(binary.BigEndian.Uint32(meta[8:])),
		ArchiveCount:      binary.BigEndian.Uint32(meta[12:]),
	}
	if h.Metadata.ArchiveCount == 0 || h.Metadata.ArchiveCount > maxArchives {
		return Header{}, fmt.Errorf("%w: archive count %d", ErrFormat, h.Metadata.ArchiveCount)
	}

	table := make([]byte, archiveInfoSize*h.Metadata.ArchiveCount)
	if _, err := file.ReadAt(table, metadataSize); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, fmt.Errorf("%w: truncated archive table", ErrFormat)
		}
		return Header{}, err
	}

	h.Archives = make([]ArchiveInfo, h.Metadata.ArchiveCount)
	for i := range h.Archives {
		b := table[i*archiveInfoSize:]
		h.Archives[i] = ArchiveInfo{
			Offset:          binary.BigEndian.Uint32(b[0:]),
			SecondsPerPoint: binary.BigEndian.Uint32(b[4:]),
			Points:          binary.BigEndian.Uint32(b[8:]),
		}
	}

	if err := validateHeader(h, info.Size()); err != nil {
		return Header{}, err
	}
	return h, nil
}

func validateHeader(h Header, fileSize int64) error {
	m := h.Metadata
	if !m.AggregationMethod.Valid() {
		return fmt.Errorf("%w: aggregation method %d", ErrFormat, uint32(m.AggregationMethod))
	}
	if math.IsNaN(float64(m.XFilesFactor)) || m.XFilesFactor < 0 || m.XFilesFactor > 1 {
		return fmt.Errorf("%w: xFilesFactor %v", ErrFormat, m.XFilesFactor)
	}

	offset := h.Size()
	for i, a := range h.Archives {
		if a.SecondsPerPoint == 0 || a.Points == 0 {
			return fmt.Errorf("%w: archive %d is empty", ErrFormat, i)
		}
		if a.Offset != offset {
			return fmt.Errorf("%w: archive %d at offset %d, expected %d", ErrFormat, i, a.Offset, offset)
		}
		if i > 0 {
			prev := h.Archives[i-1]
			if a.SecondsPerPoint <= prev.SecondsPerPoint {
				return fmt.Errorf("%w: archive %d is not coarser than archive %d", ErrFormat, i, i-1)
			}
			if a.SecondsPerPoint%prev.SecondsPerPoint != 0 {
				return fmt.Errorf("%w: archive %d (%ds) is not a multiple of archive %d (%ds)", ErrFormat, i, a.SecondsPerPoint, i-1, prev.SecondsPerPoint)
			}
			if prev.Points < a.SecondsPerPoint/prev.SecondsPerPoint {
				return fmt.Errorf("%w: archive %d has too few points to fill archive %d", ErrFormat, i-1, i)
			}
		}
		offset = a.end()
	}
	if int64(offset) > fileSize {
		return fmt.Errorf("%w: file is %d bytes, header describes %d", ErrFormat, fileSize, offset)
	}
	if m.MaxRetention != h.Archives[len(h.Archives)-1].Retention() {
		return fmt.Errorf("%w: max retention %d does not match coarsest archive", ErrFormat, m.MaxRetention)
	}
	return nil
}

func (w *Whisper) readPoints(offset uint32, n int) ([]Point, error) {
	buf := make([]byte, n*pointSize)
	if _, err := w.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}

	points := make([]Point, n)
	for i := range points {
		b := buf[i*pointSize:]
		points[i] = Point{
			Timestamp: binary.BigEndian.Uint32(b[0:]),
			Value:     math.Float64frombits(binary.BigEndian.Uint64(b[4:])),
		}
	}
	return points, nil
}

func (w *Whisper) writePoint(a ArchiveInfo, p Point) error {
	var buf [pointSize]byte
	binary.BigEndian.PutUint32(buf[0:], p.Timestamp)
	binary.BigEndian.PutUint64(buf[4:], math.Float64bits(p.Value))
	_, err := w.file.WriteAt(buf[:], int64(a.slotOffset(p.Timestamp)))
	return err
}

// readRange returns n consecutive slots of a starting at the slot for
// timestamp from, wrapping around the end of the ring.
func (w *Whisper) readRange(a ArchiveInfo, from uint32, n int) ([]Point, error) {
	start := int((from / a.SecondsPerPoint) % a.Points)
	if start+n <= int(a.Points) {
		return w.readPoints(a.slotOffset(from), n)
	}

	head, err := w.readPoints(a.slotOffset(from), int(a.Points)-start)
	if err != nil {
		return nil, err
	}
	tail, err := w.readPoints(a.Offset, n-len(head))
	if err != nil {
		return nil, err
	}
	return append(head, tail...), nil
}

func (a ArchiveInfo) slotOffset(ts uint32) uint32 {
	return a.Offset + ((ts/a.SecondsPerPoint)%a.Points)*pointSize
}

func quantize(ts, step uint32) uint32 {
	return ts - ts%step
}

func (w *Whisper) unixNow() uint32 {
	return uint32(w.now().Unix())
}
