package solarcube

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a file, line or key does not exist.
	ErrNotFound = errors.New("solarcube: not found")
	// ErrIO is returned for file system failures other than a missing file.
	ErrIO = errors.New("solarcube: i/o error")
	// ErrCorruptData is returned when a header or payload cannot be decoded.
	ErrCorruptData = errors.New("solarcube: corrupt data")
	// ErrClosed is returned when a closed cube or observation is used.
	ErrClosed = errors.New("solarcube: resource closed")
	// ErrEmptyCube is returned when no step of a cube holds usable data.
	ErrEmptyCube = errors.New("solarcube: empty cube")
	// ErrConfig is returned for invalid configuration values.
	ErrConfig = errors.New("solarcube: invalid configuration")
	// ErrOutOfDomain is returned for step indices or samples outside the valid range.
	ErrOutOfDomain = errors.New("solarcube: out of domain")
	// ErrCubeMismatch is returned when fitted parameters are applied to another cube.
	ErrCubeMismatch = errors.New("solarcube: parameters fitted on a different cube")
	// ErrAmbiguousLine is returned when a line description matches more than one window.
	ErrAmbiguousLine = errors.New("solarcube: ambiguous line description")
)

// ConfigError reports the configuration field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptData, fmt.Sprintf(format, args...))
}
