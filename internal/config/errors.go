package config

import "fmt"

// ConfigurationError reports a document that could not be read, parsed, or
// serialized. Corrupted JSON is never repaired silently; reads surface it
// through this type.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PermissionError reports a directory that could not be created or written
// at construction time.
type PermissionError struct {
	Dir string
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission error: %s: %v", e.Dir, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }
