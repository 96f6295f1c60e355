package metric

import (
	"errors"
	"fmt"
	"strings"
)

// Validation limits
const (
	MaxNameLength    = 1024 // Maximum metric name length
	MaxSegmentLength = 255  // Maximum single segment length (one path component on disk)
)

var (
	// ErrNameEmpty is returned when a metric name is empty
	ErrNameEmpty = errors.New("metric name cannot be empty")

	// ErrNameTooLong is returned when a metric name is too long
	ErrNameTooLong = fmt.Errorf("metric name too long (max %d chars)", MaxNameLength)

	// ErrEmptySegment is returned for names like "a..b", ".a" or "a."
	ErrEmptySegment = errors.New("metric name has an empty segment")

	// ErrSegmentTooLong is returned when one path segment is too long
	ErrSegmentTooLong = fmt.Errorf("metric segment too long (max %d chars)", MaxSegmentLength)

	// ErrInvalidChar is returned for whitespace, path separators and NUL bytes
	ErrInvalidChar = errors.New("metric name contains an invalid character")
)

// ValidateName checks that name is a dotted path with no empty segments.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrNameTooLong, name, len(name))
	}
	if strings.ContainsAny(name, " \t\r\n/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidChar, name)
	}

	for _, seg := range Segments(name) {
		if seg == "" {
			return fmt.Errorf("%w: %q", ErrEmptySegment, name)
		}
		if len(seg) > MaxSegmentLength {
			return fmt.Errorf("%w: %q", ErrSegmentTooLong, name)
		}
	}
	return nil
}
