package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ValidationError marks malformed caller input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation failed"
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// ExtractionError marks a provider failure that survived the transport
// retry budget, or an unparseable provider payload. The owning document
// run fails when no segment produced candidates.
type ExtractionError struct {
	Segment int
	Message string
	Cause   error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return "extraction failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed (segment=%d): %s: %v", e.Segment, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction failed (segment=%d): %s", e.Segment, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// GraphPersistenceError marks a graph store failure. Always triggers
// rollback of the document's transaction. NotFound instances unwrap to
// ErrNotFound so handlers can answer 404.
type GraphPersistenceError struct {
	Op       string
	Message  string
	NotFound bool
	Cause    error
}

func (e *GraphPersistenceError) Error() string {
	if e == nil {
		return "graph persistence failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("graph persistence failed (op=%s): %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("graph persistence failed (op=%s): %s", e.Op, e.Message)
}

func (e *GraphPersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.NotFound {
		return ErrNotFound
	}
	return e.Cause
}

// ReconciliationConflict records an invalid relationship pair or an
// unresolved symbolic reference. Accumulated and reported, never fatal to
// the document and never persisted.
type ReconciliationConflict struct {
	Kind    string
	Subject string
	Message string
}

func (e *ReconciliationConflict) Error() string {
	if e == nil {
		return "reconciliation conflict"
	}
	return fmt.Sprintf("reconciliation conflict (%s %s): %s", e.Kind, e.Subject, e.Message)
}
