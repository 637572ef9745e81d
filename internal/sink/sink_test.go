package sink

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/maskwriter/runtime/internal/errhandling"
)

func TestFileFactory_CreateAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.raw")

	s, err := FileFactory{}.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, row := range [][]byte{{0, 255, 0}, {255, 255, 0}} {
		if n, err := s.WriteRow(row); err != nil || n != len(row) {
			t.Fatalf("WriteRow() = %d, %v", n, err)
		}
	}

	// each row is in the file before Close
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0, 255, 0, 255, 255, 0}) {
		t.Errorf("file content before close = %v", got)
	}
	if s.(*File).Written() != 6 {
		t.Errorf("Written() = %d, want 6", s.(*File).Written())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestFileFactory_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.raw")
	if err := os.WriteFile(path, bytes.Repeat([]byte{7}, 100), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := FileFactory{}.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.WriteRow([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("expected truncated file, got %d bytes", len(got))
	}
}

func TestFileFactory_CreateErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"directory form", dir + string(os.PathSeparator)},
		{"missing parent", filepath.Join(dir, "missing", "mask.raw")},
		{"existing directory", dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FileFactory{}.Create(tt.path)
			if !errhandling.IsKind(err, errhandling.KindWrite) {
				t.Errorf("expected write error, got %v", err)
			}
		})
	}
}

type shortWriter struct{ limit int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		return w.limit, nil
	}
	return len(p), nil
}

func TestWriter_ShortWrite(t *testing.T) {
	s := Writer{W: &shortWriter{limit: 2}}

	n, err := s.WriteRow([]byte{1, 2, 3})
	if n != 2 || !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("WriteRow() = %d, %v, want 2, io.ErrShortWrite", n, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestWriter_ClosesCloser(t *testing.T) {
	rec := &closeRecorder{}
	s := Writer{W: rec}
	if _, err := s.WriteRow([]byte{255}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if !rec.closed || rec.Len() != 1 {
		t.Errorf("closed = %v, len = %d", rec.closed, rec.Len())
	}
}

func TestFactoryFunc(t *testing.T) {
	var buf bytes.Buffer
	f := FactoryFunc(func(locator string) (Sink, error) {
		return Writer{W: &buf}, nil
	})
	s, err := f.Create("mem")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.WriteRow([]byte{9})
	if buf.Len() != 1 {
		t.Errorf("expected 1 byte, got %d", buf.Len())
	}
}
