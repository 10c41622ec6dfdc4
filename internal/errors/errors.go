// Package errors defines the typed error values the engine returns across
// package boundaries. Every error kind named in spec §7 (Parse, Name,
// Semantic, I/O, Fatal) has a concrete type here so callers can use
// errors.As/errors.Is instead of matching on message text.
package errors

import "fmt"

// NetworkError wraps a socket-level failure: bind, join, send, receive,
// or close. Operation names the step that failed; Details adds context
// a caller can log without re-deriving it from Err.
type NetworkError struct {
	Err       error
	Operation string
	Details   string
}

func (e *NetworkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("beacon: network error during %s: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("beacon: network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports a caller-supplied value outside its allowed
// range or shape (service TTL bounds, empty instance name, and similar).
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("beacon: invalid %s (%v): %s", e.Field, e.Value, e.Message)
}

// ParseError reports malformed wire data: truncated labels, out-of-range
// lengths, or a compression pointer loop. Offset is the byte offset into
// the packet where decoding gave up, for diagnostics.
type ParseError struct {
	Err    error
	Reason string
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("beacon: parse error at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NameError reports an FQDN that cannot be decomposed into
// instance/type/domain, or a PTR whose rdata does not end with its type.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("beacon: invalid name %q: %s", e.Name, e.Reason)
}
