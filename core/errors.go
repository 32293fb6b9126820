package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the pipeline can surface to callers.
// Kinds are stable, machine-readable identifiers; terminal job snapshots
// carry the kind alongside any partial results already produced.
type ErrorKind string

const (
	// KindRouting indicates a message recipient matched no registered
	// agent id or capability tag.
	KindRouting ErrorKind = "routing_error"
	// KindNoAgentAvailable indicates capability resolution returned no
	// idle agent after the configured retries.
	KindNoAgentAvailable ErrorKind = "no_agent_available"
	// KindDuplicateInFlight is the re-entrancy guard: a submission for a
	// request id that already has a stage in flight.
	KindDuplicateInFlight ErrorKind = "duplicate_in_flight"
	// KindInsufficientData is an analysis-stage failure: the subject scope
	// yielded fewer records than the configured minimum.
	KindInsufficientData ErrorKind = "insufficient_data"
	// KindAlgorithm is an analysis-stage numeric failure that was caught
	// and reported instead of crashing the agent.
	KindAlgorithm ErrorKind = "algorithm_error"
	// KindSchemaMismatch is an interface-stage failure: a required field
	// is missing from the external payload.
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	// KindExportTooLarge is an interface-stage failure: the export exceeds
	// the configured row ceiling. Nothing is written.
	KindExportTooLarge ErrorKind = "export_too_large"
	// KindNotFound indicates a lookup by request id matched no tracked job.
	// Distinct from KindRouting, which is about undeliverable bus messages.
	KindNotFound ErrorKind = "not_found"
	// KindTimedOut marks a stage or whole-job deadline expiry.
	KindTimedOut ErrorKind = "timed_out"
	// KindOverloaded is raised by admission control when the pending queue
	// ceiling is exceeded.
	KindOverloaded ErrorKind = "overloaded"
	// KindInternal marks unexpected programming defects; these are logged
	// with full context before the job is force-failed.
	KindInternal ErrorKind = "internal_error"
)

// Error is the typed error carried across component boundaries. Op names the
// failing operation, Kind classifies it and Err optionally wraps a cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Msg, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Kind)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error. The message is optional.
func NewError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError classifies an underlying error without losing the cause.
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors map
// to KindInternal; a nil error yields the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }
