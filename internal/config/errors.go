package config

import "fmt"

// ParseError wraps a YAML decode failure with the file path that caused it.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing configuration at %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError wraps a yaml.Unmarshal error with the path it came from.
func NewParseError(path string, err error) error {
	return &ParseError{Path: path, Err: err}
}
