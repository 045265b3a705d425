package model

import "fmt"

// ConfigError reports missing or invalid session configuration. Fatal to
// StartOrJoin; never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid session config: field %q %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown thread/comment/action/suggestion id.
// The operation that raised it left no state change behind.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// UnsupportedVersionError rejects an import snapshot in an unknown format.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported snapshot version %d", e.Version)
}

// TransportError wraps signaling/connection failures. Non-fatal to an
// active session: edits keep applying locally while disconnected.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
