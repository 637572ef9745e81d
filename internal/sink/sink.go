// Package sink provides the destinations mask rows are written to.
package sink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/pathutil"
)

// Sink receives mask rows in order.
type Sink interface {
	// WriteRow appends one row. A short write is reported as io.ErrShortWrite.
	WriteRow(row []byte) (int, error)
	Close() error
}

// Factory creates sinks by locator.
type Factory interface {
	Create(locator string) (Sink, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(locator string) (Sink, error)

// Create calls f(locator).
func (f FactoryFunc) Create(locator string) (Sink, error) {
	return f(locator)
}

// FileFactory creates file sinks, truncating existing files.
type FileFactory struct {
	// Perm is the mode of newly created files; 0644 when zero
	Perm os.FileMode
}

// Create opens locator for writing in truncate-and-create mode.
// Failures are write errors.
func (f FileFactory) Create(locator string) (Sink, error) {
	if err := pathutil.ValidateOutputPath(locator); err != nil {
		return nil, errhandling.NewWriteError(errhandling.NoRow, "invalid output path", err)
	}
	perm := f.Perm
	if perm == 0 {
		perm = 0o644
	}
	file, err := os.OpenFile(locator, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return nil, errhandling.NewWriteError(errhandling.NoRow, fmt.Sprintf("cannot create %s", locator), err)
	}
	return &File{file: file}, nil
}

// File is an unbuffered file sink: every row is handed to the operating
// system before WriteRow returns.
type File struct {
	file    *os.File
	written int64

	closeOnce sync.Once
	closeErr  error
}

// WriteRow implements Sink.
func (f *File) WriteRow(row []byte) (int, error) {
	n, err := f.file.Write(row)
	f.written += int64(n)
	if err == nil && n < len(row) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Written returns the number of bytes written so far.
func (f *File) Written() int64 { return f.written }

// Name returns the file name.
func (f *File) Name() string { return f.file.Name() }

// Close syncs and closes the file. It is safe to call more than once.
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		syncErr := f.file.Sync()
		closeErr := f.file.Close()
		switch {
		case syncErr != nil:
			f.closeErr = fmt.Errorf("syncing %s: %w", f.file.Name(), syncErr)
		case closeErr != nil:
			f.closeErr = fmt.Errorf("closing %s: %w", f.file.Name(), closeErr)
		}
	})
	return f.closeErr
}

// Writer adapts an io.Writer to a Sink. Close closes the writer if it is
// an io.Closer.
type Writer struct {
	W io.Writer
}

// WriteRow implements Sink.
func (w Writer) WriteRow(row []byte) (int, error) {
	n, err := w.W.Write(row)
	if err == nil && n < len(row) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close implements Sink.
func (w Writer) Close() error {
	if c, ok := w.W.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
