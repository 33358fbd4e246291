// Package errs defines the failure taxonomy of the analysis pipeline.
//
// Callers match with errors.As; wrapping with github.com/pkg/errors keeps the
// types reachable because those wrappers implement Unwrap.
package errs

import "fmt"

// InputNotFoundError reports a missing source raster for a job.
type InputNotFoundError struct {
	Path string
	Err  error
}

func (e *InputNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input not found: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("input not found: %s", e.Path)
}

func (e *InputNotFoundError) Unwrap() error { return e.Err }

// FormatError reports a raster that cannot be analysed: too few bands, an
// unsupported encoding, or a missing or degenerate georeference.
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := "invalid raster format"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// InsufficientDataError reports that too few roofs survived to partition them
// into two thermal classes.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d roof(s) available, need at least %d", e.Have, e.Need)
}

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

// Config is shorthand for building a ConfigurationError.
func Config(key, format string, args ...interface{}) error {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Format is shorthand for building a FormatError.
func Format(path, format string, args ...interface{}) error {
	return &FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
