package rules

import (
	"errors"
	"fmt"
)

// ErrConfig is the base error for every malformed rule definition.
var ErrConfig = errors.New("invalid rule")

// ParseError identifies the offending line of a rule file.
type ParseError struct {
	File string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	file := e.File
	if file == "" {
		file = "<input>"
	}
	return fmt.Sprintf("%s:%d: %v (%q)", file, e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func configErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
