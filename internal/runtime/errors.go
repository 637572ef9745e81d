// Package runtime provides the line-wise mask export engine.
// This file re-exports error handling utilities from the errhandling package.
package runtime

import (
	"github.com/maskwriter/runtime/internal/errhandling"
)

// ErrorKind represents the category of an export failure (re-exported from errhandling).
type ErrorKind = errhandling.ErrorKind

// ExportError represents a classified export error (re-exported from errhandling).
type ExportError = errhandling.ExportError

// Re-export error kind constants
const (
	KindUsage      = errhandling.KindUsage
	KindOpen       = errhandling.KindOpen
	KindExpression = errhandling.KindExpression
	KindEval       = errhandling.KindEval
	KindWrite      = errhandling.KindWrite
	KindUnknown    = errhandling.KindUnknown
)

// Re-export functions
var (
	KindOf = errhandling.KindOf
	IsKind = errhandling.IsKind
	RowOf  = errhandling.RowOf
)
