package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := NewRecorder("", registry)

	if r.Registry() != registry {
		t.Error("Recorder registry not set correctly")
	}

	r.RecordExport("success", 1, 1, time.Millisecond)
	r.RecordFailure("eval")
	r.RecordStage("open", time.Millisecond)

	// one metric per collector once every vector has a child
	if got := testutil.CollectAndCount(registry); got != 7 {
		t.Errorf("CollectAndCount() = %d, want 7", got)
	}
}

func TestRecorder_RecordRow(t *testing.T) {
	r := NewRecorder("test", nil)

	for i := 0; i < 3; i++ {
		r.RecordRow(7)
	}

	if got := testutil.ToFloat64(r.rowsTotal); got != 3 {
		t.Errorf("rows_written_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.bytesTotal); got != 21 {
		t.Errorf("bytes_written_total = %v, want 21", got)
	}
}

func TestRecorder_RecordExport(t *testing.T) {
	r := NewRecorder("test", nil)

	r.RecordExport("success", 7, 3, 20*time.Millisecond)
	r.RecordExport("error", 1121, 1105, time.Second)
	r.RecordFailure("write")

	if got := testutil.ToFloat64(r.exportsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("exports_total{status=success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.exportsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("exports_total{status=error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.failuresTotal.WithLabelValues("write")); got != 1 {
		t.Errorf("export_failures_total{kind=write} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.lastPixels); got != 1121*1105 {
		t.Errorf("last_export_pixels = %v, want %d", got, 1121*1105)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder

	r.RecordRow(10)
	r.RecordStage("stream", time.Second)
	r.RecordExport("success", 1, 1, time.Second)
	r.RecordFailure("open")
	if r.Registry() != nil {
		t.Error("nil recorder should have no registry")
	}
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile() on nil recorder error = %v", err)
	}
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder("", nil)
	r.RecordRow(4)
	r.RecordExport("success", 4, 1, time.Millisecond)

	path := filepath.Join(t.TempDir(), "maskwriter.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"maskwriter_rows_written_total 1",
		"maskwriter_bytes_written_total 4",
		`maskwriter_exports_total{status="success"} 1`,
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("textfile missing %q:\n%s", want, content)
		}
	}
}
