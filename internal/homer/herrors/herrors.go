// Package herrors defines the error kinds Homer's pipeline distinguishes
// when deciding whether to abort a run, skip an extractor, or just log.
package herrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the pipeline should respond to it.
type Kind int

const (
	// Transient errors are worth retrying: a network blip, a lock
	// contention, a rate limit. The operation that produced them did not
	// invalidate any state.
	Transient Kind = iota
	// Input errors mean the data given to an operation was malformed or
	// out of range; retrying with the same input won't help.
	Input
	// Invariant errors mean Homer's own data model was violated —
	// something the pipeline cannot recover from. A run encountering one
	// must abort rather than persist inconsistent state.
	Invariant
	// Capability errors mean an external capability (GitReader,
	// SourceParser, Summarizer, forge client) is unavailable or refused
	// the request. The extractor that depends on it should skip, not
	// abort the whole run.
	Capability
	// NotFoundKind marks a lookup miss; callers commonly treat it as
	// "absent" rather than a failure.
	NotFoundKind
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Input:
		return "input"
	case Invariant:
		return "invariant"
	case Capability:
		return "capability"
	case NotFoundKind:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, so callers along the
// pipeline can decide abort-vs-skip-vs-log without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-classified error from a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NotFound constructs a not-found error.
func NotFound(msg string) error {
	return &Error{Kind: NotFoundKind, Msg: msg}
}

// IsNotFound reports whether err (or something it wraps) is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == NotFoundKind
}

// IsCapability reports whether err (or something it wraps) is a capability error.
func IsCapability(err error) bool {
	return KindOf(err) == Capability
}

// KindOf extracts the Kind from err, walking its Unwrap chain. Returns
// Input for errors with no attached Kind, since that is the safest default
// (non-retryable, non-fatal).
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return Input
}
