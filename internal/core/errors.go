package core

import "github.com/pkg/errors"

// ErrUnsupportedEnvironment means the playback source cannot be played
// at all (wrong codec/container for this deployment). It is terminal:
// retrying the same URL will not help.
var ErrUnsupportedEnvironment = errors.New("playback source not supported in this environment")

// TransportError wraps a network-level failure talking to an upstream
// (manifest endpoint, database, analytics provider). Transport errors
// are recoverable and safe to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError rejects caller input before any I/O happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// ParseError reports an upstream response that arrived but could not be
// decoded into the expected shape.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse: " + e.What
	}
	return "parse: " + e.What + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRecoverable reports whether an error is worth retrying against the
// same input. Validation and parse failures are not; transport is.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedEnvironment) {
		return false
	}
	var ve *ValidationError
	var pe *ParseError
	if errors.As(err, &ve) || errors.As(err, &pe) {
		return false
	}
	return true
}
