package runtime

import (
	"errors"
	"fmt"
	"io"

	"github.com/maskwriter/runtime/internal/errhandling"
)

// Common errors
var (
	// ErrInvalidDimensions is returned when width or height is not positive
	ErrInvalidDimensions = errors.New("invalid raster dimensions")

	// ErrNilEvaluator is returned when no row evaluator is given
	ErrNilEvaluator = errors.New("row evaluator is nil")

	// ErrNilWriter is returned when no row writer is given
	ErrNilWriter = errors.New("row writer is nil")
)

// RowEvaluator fills dst with the mask samples of row y.
// dst always holds exactly width values.
type RowEvaluator func(y int, dst []int) error

// RowWriter receives converted rows in order.
type RowWriter interface {
	WriteRow(row []byte) (int, error)
}

// StreamStats counts what reached the writer.
type StreamStats struct {
	// Rows is the number of complete rows written
	Rows int
	// Bytes is the number of bytes written, including a partial last row
	Bytes int64
}

// Streamer drives the per-row evaluate, convert and write loop.
//
// Memory use is bounded by one scanline: a single sample buffer and a
// single byte buffer of width elements are allocated per Stream call and
// overwritten for every row.
type Streamer struct {
	// OnRow, if set, is called after row y has been written in full.
	OnRow func(y int, n int)
}

// NewStreamer creates a Streamer.
func NewStreamer() *Streamer {
	return &Streamer{}
}

// StreamRows streams height rows of width samples from eval to w.
func StreamRows(width, height int, eval RowEvaluator, w RowWriter) (StreamStats, error) {
	return NewStreamer().Stream(width, height, eval, w)
}

// Stream evaluates rows 0..height-1 in order, converts every sample s to
// the byte s&0xFF and writes each row to w.
//
// It stops at the first failing row: nothing after it is evaluated or
// written, and rows already written are left in place. Evaluation
// failures keep their kind or become eval errors; write failures and
// short writes become write errors. Both carry the failing row. The
// returned stats are valid in success and failure.
func (s *Streamer) Stream(width, height int, eval RowEvaluator, w RowWriter) (StreamStats, error) {
	var stats StreamStats

	if width <= 0 || height <= 0 {
		return stats, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if eval == nil {
		return stats, ErrNilEvaluator
	}
	if w == nil {
		return stats, ErrNilWriter
	}

	samples := make([]int, width)
	row := make([]byte, width)

	for y := 0; y < height; y++ {
		if err := eval(y, samples); err != nil {
			return stats, errhandling.Classify(err, errhandling.KindEval, y)
		}

		for x, v := range samples {
			row[x] = byte(v & 0xFF)
		}

		n, err := w.WriteRow(row)
		if n > 0 {
			stats.Bytes += int64(n)
		}
		if err == nil && n < width {
			err = io.ErrShortWrite
		}
		if err != nil {
			return stats, errhandling.Classify(err, errhandling.KindWrite, y)
		}

		stats.Rows++
		if s.OnRow != nil {
			s.OnRow(y, n)
		}
	}

	return stats, nil
}
