// Package media defines the carrier types shared by every demuxer:
// StreamInfo, MediaChunk, the error taxonomy, and the process-wide
// buffer pool.
package media

import "fmt"

// ErrorKind classifies a demuxer error. The zero value is never a real
// error; callers test against the named constants.
type ErrorKind int

const (
	// KindIO indicates an underlying ByteSource failure.
	KindIO ErrorKind = iota + 1
	// KindFormat indicates a structural violation of the container spec.
	KindFormat
	// KindUnsupported indicates a valid container with an unimplemented
	// codec, profile, or sample-table combination.
	KindUnsupported
	// KindMemory indicates an allocation failure.
	KindMemory
	// KindValidation indicates a size mismatch, impossible offset, or
	// non-monotonic table.
	KindValidation
	// KindClosed indicates an operation on a closed source or demuxer.
	KindClosed
	// KindTimeout indicates an HTTP backend exhausted its retries.
	KindTimeout
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindUnsupported:
		return "unsupported"
	case KindMemory:
		return "memory"
	case KindValidation:
		return "validation"
	case KindClosed:
		return "closed"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// RecoveryHint tells the caller what the demuxer attempted, or should
// attempt, in response to an error.
type RecoveryHint int

const (
	// RecoveryNone means no recovery is possible; the error is terminal
	// for the current call.
	RecoveryNone RecoveryHint = iota
	// RecoverySkipSection means the demuxer can resynchronise past the
	// offending section and continue.
	RecoverySkipSection
	// RecoveryResetState means the demuxer must reset internal parsing
	// state before continuing.
	RecoveryResetState
	// RecoveryFallbackMode means the demuxer can degrade to a reduced
	// feature set (e.g. synthesised sample tables) and continue.
	RecoveryFallbackMode
)

// String implements fmt.Stringer.
func (h RecoveryHint) String() string {
	switch h {
	case RecoveryNone:
		return "none"
	case RecoverySkipSection:
		return "skip_section"
	case RecoveryResetState:
		return "reset_state"
	case RecoveryFallbackMode:
		return "fallback_mode"
	default:
		return "unknown"
	}
}

// Error is the typed error carried by every demuxer operation. It
// implements the standard error interface plus Unwrap so callers can use
// errors.Is/errors.As against the sentinel Err* values below.
type Error struct {
	Category   ErrorKind
	Message    string
	FileOffset int64
	Recovery   RecoveryHint
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.FileOffset >= 0 {
		return fmt.Sprintf("%s: %s (offset %d)", e.Category, e.Message, e.FileOffset)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error with no particular file offset (-1) and no
// recovery hint.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Category: kind, Message: msg, FileOffset: -1, Recovery: RecoveryNone}
}

// NewErrorAt builds an Error anchored to a specific source offset with a
// recovery hint attached.
func NewErrorAt(kind ErrorKind, msg string, offset int64, hint RecoveryHint) *Error {
	return &Error{Category: kind, Message: msg, FileOffset: offset, Recovery: hint}
}

// Wrap attaches a cause to an existing error kind, preserving category
// and offset information supplied by the caller.
func Wrap(kind ErrorKind, msg string, offset int64, hint RecoveryHint, cause error) *Error {
	return &Error{Category: kind, Message: msg, FileOffset: offset, Recovery: hint, Cause: cause}
}

// Sentinel errors usable with errors.Is against a bare category check.
var (
	ErrClosed      = NewError(KindClosed, "operation on closed source")
	ErrIO          = NewError(KindIO, "i/o failure")
	ErrFormat      = NewError(KindFormat, "malformed container")
	ErrUnsupported = NewError(KindUnsupported, "unsupported codec or profile")
	ErrMemory      = NewError(KindMemory, "allocation failure")
	ErrValidation  = NewError(KindValidation, "validation failure")
	ErrTimeout     = NewError(KindTimeout, "operation timed out")
)

// Is allows errors.Is(err, media.ErrIO) to match any *Error sharing the
// same Category, regardless of message/offset.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category
}
