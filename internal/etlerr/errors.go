// Package etlerr defines the classified errors produced by pipeline stages.
//
// Every stage returns either its result or an *Error tagged with a Kind.
// The file runner inspects the Kind (never the message) to decide whether
// an attempt may be retried.
package etlerr

import (
	"context"
	"errors"
	"fmt"
)

// Stage identifies the pipeline step that produced an error.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageOutput    Stage = "output"
	StageLoad      Stage = "load"
	StageRun       Stage = "run"
)

// Kind classifies an error.
type Kind string

const (
	// Extraction
	NotFound      Kind = "not_found"
	Empty         Kind = "empty"
	Unreadable    Kind = "unreadable"
	EncodingError Kind = "encoding_error"
	ParseError    Kind = "parse_error"

	// Transformation
	TypeMismatch    Kind = "type_mismatch"
	TransformFailed Kind = "transform_failed"

	// Load
	AlreadyExists   Kind = "already_exists"
	ConnectionError Kind = "connection_error"
	WriteError      Kind = "write_error"

	// Processed-output sink
	OutputError Kind = "output_error"

	Cancelled Kind = "cancelled"
	Internal  Kind = "internal"
)

// Stage returns the stage a kind belongs to.
func (k Kind) Stage() Stage {
	switch k {
	case NotFound, Empty, Unreadable, EncodingError, ParseError:
		return StageExtract
	case TypeMismatch, TransformFailed:
		return StageTransform
	case AlreadyExists, ConnectionError, WriteError:
		return StageLoad
	case OutputError:
		return StageOutput
	default:
		return StageRun
	}
}

// Error is a classified stage error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Stage returns the stage derived from the error kind.
func (e *Error) Stage() Stage {
	return e.Kind.Stage()
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. The message prefixes the wrapped error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the classification of err.
//
// Context cancellation and deadline errors map to Cancelled. Errors that
// carry no classification map to Internal so that callers treat them as
// fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether an attempt that failed with err may be retried.
//
// Extraction errors, non-structural transformation errors and transient
// load errors are retryable. TypeMismatch, AlreadyExists, output failures,
// cancellation and anything unclassified are fatal.
func Retryable(err error) bool {
	switch KindOf(err) {
	case NotFound, Empty, Unreadable, EncodingError, ParseError:
		return true
	case TransformFailed:
		return true
	case ConnectionError, WriteError:
		return true
	default:
		return false
	}
}

// StageOf returns the stage of a classified error, or StageRun.
func StageOf(err error) Stage {
	return KindOf(err).Stage()
}
