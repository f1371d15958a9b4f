package rag

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure by the stage or dependency that
// produced it. Kinds are stable strings: they appear in API error bodies,
// log fields and metric labels.
type Kind string

const (
	// KindConfiguration marks invalid configuration. Always fatal at
	// startup, never retried.
	KindConfiguration Kind = "configuration"

	// KindExtraction marks a failure to extract text from a source
	// document (unsupported format, corrupt payload).
	KindExtraction Kind = "extraction"

	// KindEmbedding marks a failure of the embedding provider, including
	// dimension mismatches between provider output and index schema.
	KindEmbedding Kind = "embedding"

	// KindIndexWrite marks a failed write to the vector index.
	KindIndexWrite Kind = "index_write"

	// KindIndexRead marks a failed similarity search against the index.
	KindIndexRead Kind = "index_read"

	// KindGeneration marks a failure of the answer model.
	KindGeneration Kind = "generation"

	// KindTimeout marks a request that exceeded its deadline, whatever
	// stage it was in at the time.
	KindTimeout Kind = "timeout"
)

// Error is the error type carried across pipeline stages. It pairs a Kind
// with the underlying cause and records whether the failure is transient,
// which is what retry policies key on.
type Error struct {
	Kind      Kind
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a permanent *Error of the given kind. The format string
// supports %w wrapping like fmt.Errorf.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Transientf builds a transient *Error of the given kind, eligible for
// bounded retry.
func Transientf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Transient: true, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of err. Context deadline errors classify as
// KindTimeout even when no stage wrapped them. Errors from outside the
// pipeline report an empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind != KindTimeout && errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// IsTransient reports whether err carries a transient classification.
// Unclassified errors are treated as permanent: retrying a failure of
// unknown shape repeats side effects for no benefit.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient
}

// wrapKind adds message context to err under the given kind. If err is
// already classified the classification is left intact (a plain wrap
// suffices, errors.As reaches through it); a stage must not relabel a
// failure that a dependency already described.
func wrapKind(kind Kind, format string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return fmt.Errorf(format, err)
	}
	return &Error{Kind: kind, Err: fmt.Errorf(format, err)}
}
