package gateway

import "fmt"

// ErrorClass partitions relay and protocol failures. Every class is
// recovered locally; none is fatal to the process.
type ErrorClass string

const (
	// ErrClassConfigMissing - no active profile resolvable, no network call attempted
	ErrClassConfigMissing ErrorClass = "configuration_missing"
	// ErrClassConnect - could not reach the completion endpoint
	ErrClassConnect ErrorClass = "upstream_connect_error"
	// ErrClassTimeout - connected but exceeded the connect or read deadline
	ErrClassTimeout ErrorClass = "upstream_timeout"
	// ErrClassProtocol - upstream response did not match the expected streaming shape
	ErrClassProtocol ErrorClass = "upstream_protocol_error"
)

// RelayError is a classified relay failure, surfaced to the originating
// session as a single human-readable error frame.
type RelayError struct {
	Class ErrorClass
	Err   error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Message returns the human-readable text sent to the client.
func (e *RelayError) Message() string {
	switch e.Class {
	case ErrClassConfigMissing:
		return "No valid API URL or API key configured"
	case ErrClassConnect:
		return fmt.Sprintf("Could not reach the completion endpoint: %v", e.Err)
	case ErrClassTimeout:
		return "The completion endpoint timed out"
	case ErrClassProtocol:
		return fmt.Sprintf("Unexpected response from the completion endpoint: %v", e.Err)
	default:
		return fmt.Sprintf("Streaming request failed: %v", e.Err)
	}
}

func relayErr(class ErrorClass, err error) *RelayError {
	return &RelayError{Class: class, Err: err}
}

// MalformedMessageError marks an inbound frame that failed validation.
// It is logged and skipped; the connection stays open.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return "malformed message: " + e.Reason
}

func malformed(format string, args ...interface{}) error {
	return &MalformedMessageError{Reason: fmt.Sprintf(format, args...)}
}
