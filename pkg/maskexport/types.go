// Package maskexport provides public types for masked-raster exports.
// This package is intended to be importable by external projects that need
// to drive the maskwriter runtime or consume its reports.
package maskexport

import "time"

// Status values of a finished export.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Job describes one export: which product to read, where to write the mask
// and which flag expression to evaluate.
type Job struct {
	// ID optionally names the job; reports carry their own export ID
	ID string `json:"id,omitempty"`

	// Input locates the source product
	Input string `json:"input"`

	// Output locates the destination file, truncated if it exists
	Output string `json:"output"`

	// Expression is the boolean flag expression, e.g. "NOT l1_flags.INVALID"
	Expression string `json:"expression"`
}

// Report represents the outcome of an export.
// A report is returned on success and on failure.
type Report struct {
	// ExportID uniquely identifies this export run
	ExportID string `json:"exportId"`

	// JobID is copied from the job, if set
	JobID string `json:"jobId,omitempty"`

	Input      string `json:"input"`
	Output     string `json:"output"`
	Expression string `json:"expression"`

	// Status is StatusSuccess or StatusError
	Status string `json:"status"`

	// Width and Height are the product dimensions, zero if the product was never opened
	Width  int `json:"width"`
	Height int `json:"height"`

	// RowsWritten is the number of complete scanlines in the output
	RowsWritten int `json:"rowsWritten"`

	// BytesWritten is the number of bytes in the output
	BytesWritten int64 `json:"bytesWritten"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`

	// Error contains error details if the export failed
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes why an export failed.
type ErrorDetail struct {
	// Kind is the error classification ("open", "expression", "eval", "write")
	Kind string `json:"kind"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Row is the scanline the error occurred on, or -1
	Row int `json:"row"`

	// Stage is the export stage that failed ("validate", "open", "create", "stream", "close")
	Stage string `json:"stage,omitempty"`
}

// Duration returns the elapsed time of the export.
func (r *Report) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ExpectedBytes returns width*height, the size of a complete output.
func (r *Report) ExpectedBytes() int64 {
	return int64(r.Width) * int64(r.Height)
}

// Succeeded reports whether the export completed with the expected byte count.
func (r *Report) Succeeded() bool {
	return r.Status == StatusSuccess && r.Error == nil && r.BytesWritten == r.ExpectedBytes()
}
