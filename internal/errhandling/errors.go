// Package errhandling provides error types and classification for mask exports.
// This file defines the error kinds an export can fail with, the ExportError
// carrier type, and helpers to classify arbitrary errors.
package errhandling

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of an export failure.
// Every kind except KindUsage is fatal: the export aborts and is not retried.
type ErrorKind string

// Error kinds for classification.
const (
	// KindUsage represents a wrong invocation (e.g. missing arguments).
	// Usage errors are reported to the user and never reach the export driver.
	KindUsage ErrorKind = "usage"

	// KindOpen represents a source product that cannot be opened or read.
	// Open errors abort before any output byte is written.
	KindOpen ErrorKind = "open"

	// KindExpression represents a syntactically or referentially invalid mask expression.
	KindExpression ErrorKind = "expression"

	// KindEval represents a runtime fault while evaluating a row.
	KindEval ErrorKind = "eval"

	// KindWrite represents a destination that cannot be created or written.
	KindWrite ErrorKind = "write"

	// KindUnknown represents unclassified errors.
	KindUnknown ErrorKind = "unknown"
)

// NoRow marks an error that is not tied to a particular scanline.
const NoRow = -1

// ExportError wraps an error with its kind and the scanline it occurred on.
type ExportError struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is a human-readable error message.
	Message string

	// Row is the scanline index the error occurred on, or NoRow.
	Row int

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Row >= 0 {
		return fmt.Sprintf("%s error at row %d: %s", e.Kind, e.Row, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// WithRow returns a copy of e bound to the given row.
func (e *ExportError) WithRow(row int) *ExportError {
	c := *e
	c.Row = row
	return &c
}

// NewUsageError creates an ExportError for a wrong invocation.
func NewUsageError(message string) *ExportError {
	return &ExportError{Kind: KindUsage, Message: message, Row: NoRow}
}

// NewOpenError creates an ExportError for a source that cannot be opened.
func NewOpenError(message string, err error) *ExportError {
	return &ExportError{Kind: KindOpen, Message: message, Row: NoRow, Err: err}
}

// NewExpressionError creates an ExportError for an invalid mask expression.
func NewExpressionError(message string, err error) *ExportError {
	return &ExportError{Kind: KindExpression, Message: message, Row: NoRow, Err: err}
}

// NewEvalError creates an ExportError for a failure evaluating row.
func NewEvalError(row int, message string, err error) *ExportError {
	return &ExportError{Kind: KindEval, Message: message, Row: row, Err: err}
}

// NewWriteError creates an ExportError for a failure creating or writing the destination.
func NewWriteError(row int, message string, err error) *ExportError {
	return &ExportError{Kind: KindWrite, Message: message, Row: row, Err: err}
}

// KindOf returns the kind of err.
// Returns KindUnknown for nil or unclassified errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// RowOf returns the scanline an error is bound to.
// The second result is false when err carries no row.
func RowOf(err error) (int, bool) {
	var exportErr *ExportError
	if errors.As(err, &exportErr) && exportErr.Row >= 0 {
		return exportErr.Row, true
	}
	return NoRow, false
}

// Classify returns err as an ExportError.
// Already classified errors are returned unchanged; anything else becomes
// an error of the fallback kind bound to row.
func Classify(err error, fallback ErrorKind, row int) *ExportError {
	if err == nil {
		return nil
	}
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		if exportErr.Row < 0 && row >= 0 {
			return exportErr.WithRow(row)
		}
		return exportErr
	}
	return &ExportError{Kind: fallback, Row: row, Err: err}
}
