package flume

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies pipeline errors so callers can react to the failure
// class without string matching. OutOfRange is the expected terminal
// signal of every iteration, not a fault.
type Kind string

// Error kinds produced by the library.
const (
	// KindStructureMismatch reports that the nesting shape of a composite
	// element or schema disagrees with what was declared.
	KindStructureMismatch Kind = "structure_mismatch"

	// KindTypeMismatch reports a leaf whose element type disagrees with
	// the declared schema.
	KindTypeMismatch Kind = "type_mismatch"

	// KindShapeMismatch reports a leaf whose shape disagrees with the
	// declared schema.
	KindShapeMismatch Kind = "shape_mismatch"

	// KindInvalidArgument reports an out-of-range static parameter, such
	// as a negative buffer size, a bad shard index or a zero range step.
	KindInvalidArgument Kind = "invalid_argument"

	// KindOutOfRange signals that an iterator or source has no more
	// elements. It is never retried automatically; callers rebind or stop.
	KindOutOfRange Kind = "out_of_range"

	// KindNotFound reports a multiplexer iteration id that was reused
	// after its producer completed.
	KindNotFound Kind = "not_found"
)

// Error provides rich context about pipeline failures. It records the
// failure kind, the path of named stages the error traveled through
// (innermost last), and whether the failure was due to timeout or
// cancellation.
//
// Stages prepend their name to Path as the error propagates outward, so
// Path reads like a route from the iterator down to the failing node:
//
//	["training-iterator", "parse-map", "record-source"]
type Error struct {
	Err       error
	Kind      Kind
	Path      []Name
	Timestamp time.Time
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, n := range e.Path {
			parts[i] = string(n)
		}
		b.WriteString(" at [")
		b.WriteString(strings.Join(parts, " -> "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error, supporting errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsOutOfRange reports whether the error signals normal exhaustion.
func (e *Error) IsOutOfRange() bool {
	return e.Kind == KindOutOfRange
}

// newError builds an Error of the given kind rooted at one stage name.
func newError(kind Kind, name Name, format string, args ...any) *Error {
	return &Error{
		Err:       fmt.Errorf(format, args...),
		Kind:      kind,
		Path:      []Name{name},
		Timestamp: time.Now(),
	}
}

// outOfRange builds the canonical exhaustion signal for one stage.
func outOfRange(name Name) *Error {
	return &Error{
		Err:       errors.New("no more elements"),
		Kind:      KindOutOfRange,
		Path:      []Name{name},
		Timestamp: time.Now(),
	}
}

// prependPath returns a pipeline error whose path starts with name. The
// matched Error is copied, never mutated: the same error instance may be
// held by several consumers (a poisoned dataset, a sticky source error),
// and each propagation must build its own path. Foreign errors
// (including context errors) are wrapped as InvalidArgument so
// user-function failures stay distinguishable from exhaustion.
func prependPath(err error, name Name) *Error {
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		clone := *pipeErr
		clone.Path = append([]Name{name}, pipeErr.Path...)
		return &clone
	}
	return asError(err, name)
}

// asError converts err into a pipeline *Error without extending its
// path. Foreign errors are wrapped as InvalidArgument rooted at name.
func asError(err error, name Name) *Error {
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return pipeErr
	}
	return &Error{
		Err:       err,
		Kind:      KindInvalidArgument,
		Path:      []Name{name},
		Timestamp: time.Now(),
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Canceled:  errors.Is(err, context.Canceled),
	}
}

// ErrorKind extracts the Kind from any error produced by this package.
// It returns an empty Kind for nil or foreign errors.
func ErrorKind(err error) Kind {
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}
	return ""
}

// IsOutOfRange reports whether err is the normal exhaustion signal.
func IsOutOfRange(err error) bool {
	return ErrorKind(err) == KindOutOfRange
}

// IsNotFound reports whether err is a stale multiplexer id error.
func IsNotFound(err error) bool {
	return ErrorKind(err) == KindNotFound
}

// recoverFromPanic converts a panic in a user-supplied function into an
// InvalidArgument error instead of unwinding through the pull loop.
func recoverFromPanic(err *error, name Name) {
	if r := recover(); r != nil {
		*err = newError(KindInvalidArgument, name, "panic: %v", r)
	}
}
