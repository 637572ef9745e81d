package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/logger"
	"github.com/maskwriter/runtime/internal/mask"
	"github.com/maskwriter/runtime/internal/metrics"
	"github.com/maskwriter/runtime/internal/product"
	"github.com/maskwriter/runtime/internal/sink"
	"github.com/maskwriter/runtime/pkg/maskexport"
)

// =============================================================================
// Mock Implementations for Testing
// =============================================================================

// mockProduct is a test product whose rows come from a function.
type mockProduct struct {
	width, height int
	eval          func(expression string, y int, dst []int) error
	closed        int
	closeErr      error
}

func (p *mockProduct) Name() string { return "mock" }
func (p *mockProduct) Width() int   { return p.width }
func (p *mockProduct) Height() int  { return p.height }
func (p *mockProduct) EvaluateRow(expression string, y int, dst []int) error {
	return p.eval(expression, y, dst)
}
func (p *mockProduct) Close() error {
	p.closed++
	return p.closeErr
}

// Verify mockProduct implements product.Product
var _ product.Product = (*mockProduct)(nil)

// mockSink records written bytes and close calls.
type mockSink struct {
	buf      bytes.Buffer
	closed   int
	closeErr error
}

func (s *mockSink) WriteRow(row []byte) (int, error) { return s.buf.Write(row) }
func (s *mockSink) Close() error {
	s.closed++
	return s.closeErr
}

// harness wires an Exporter to counting opener and sink factory.
type harness struct {
	product  product.Product
	openErr  error
	opened   int
	sink     *mockSink
	createEr error
	created  int
}

func (h *harness) exporter(opts ...Option) *Exporter {
	opener := product.OpenerFunc(func(string) (product.Product, error) {
		h.opened++
		if h.openErr != nil {
			return nil, h.openErr
		}
		return h.product, nil
	})
	sinks := sink.FactoryFunc(func(string) (sink.Sink, error) {
		h.created++
		if h.createEr != nil {
			return nil, h.createEr
		}
		return h.sink, nil
	})
	return NewExporter(opener, sinks, opts...)
}

func memoryProduct(t *testing.T) *product.Memory {
	t.Helper()
	m, err := product.NewMemory("mem", "TEST", 7, 3)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]uint32, 21)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0x80
		}
	}
	if err := m.AddFlagBand("l1_flags", []mask.Flag{{Name: "INVALID", Mask: 0x80}}, samples); err != nil {
		t.Fatal(err)
	}
	return m
}

func job(expression string) *maskexport.Job {
	return &maskexport.Job{Input: "product.yaml", Output: "mask.raw", Expression: expression}
}

func quietLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf, slog.LevelDebug)
	t.Cleanup(func() { logger.SetOutput(os.Stderr, slog.LevelInfo) })
	return &buf
}

// =============================================================================
// Tests
// =============================================================================

func TestExport_Success(t *testing.T) {
	quietLogs(t)
	h := &harness{product: memoryProduct(t), sink: &mockSink{}}
	e := h.exporter(WithIDGenerator(func() string { return "exp-1" }))

	report, err := e.Export(context.Background(), job("l1_flags.INVALID"))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if report.ExportID != "exp-1" || report.Status != maskexport.StatusSuccess {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Width != 7 || report.Height != 3 || report.RowsWritten != 3 || report.BytesWritten != 21 {
		t.Errorf("unexpected counts: %+v", report)
	}
	if !report.Succeeded() || report.CompletedAt.Before(report.StartedAt) {
		t.Errorf("report not marked complete: %+v", report)
	}
	if e.State() != StateClosedSuccess {
		t.Errorf("State() = %v, want closed-success", e.State())
	}

	out := h.sink.buf.Bytes()
	for i, b := range out {
		want := byte(0)
		if i%2 == 0 {
			want = 255
		}
		if b != want {
			t.Fatalf("byte %d = %d, want %d", i, b, want)
		}
	}
	if h.sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", h.sink.closed)
	}
}

func TestExport_RecordsMetrics(t *testing.T) {
	quietLogs(t)
	h := &harness{product: memoryProduct(t), sink: &mockSink{}}
	recorder := metrics.NewRecorder("", nil)

	if _, err := h.exporter(WithMetrics(recorder)).Export(context.Background(), job("l1_flags.INVALID")); err != nil {
		t.Fatal(err)
	}

	expected := `
# HELP maskwriter_rows_written_total Total number of mask scanlines written
# TYPE maskwriter_rows_written_total counter
maskwriter_rows_written_total 3
`
	if err := testutil.GatherAndCompare(recorder.Registry(), bytes.NewBufferString(expected), "maskwriter_rows_written_total"); err != nil {
		t.Error(err)
	}
}

func TestExport_ValidationBeforeIO(t *testing.T) {
	quietLogs(t)
	tests := []struct {
		name string
		job  *maskexport.Job
		kind errhandling.ErrorKind
	}{
		{"empty output", &maskexport.Job{Input: "p", Output: "", Expression: "a.B"}, errhandling.KindWrite},
		{"directory output", &maskexport.Job{Input: "p", Output: "out/", Expression: "a.B"}, errhandling.KindWrite},
		{"dot output", &maskexport.Job{Input: "p", Output: ".", Expression: "a.B"}, errhandling.KindWrite},
		{"empty expression", &maskexport.Job{Input: "p", Output: "o.raw", Expression: "  "}, errhandling.KindExpression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{product: memoryProduct(t), sink: &mockSink{}}
			e := h.exporter()

			report, err := e.Export(context.Background(), tt.job)

			if !errhandling.IsKind(err, tt.kind) {
				t.Fatalf("expected %s error, got %v", tt.kind, err)
			}
			if h.opened != 0 || h.created != 0 {
				t.Errorf("opened %d products and created %d sinks, want none", h.opened, h.created)
			}
			if report.Error == nil || report.Error.Stage != StageValidate || report.Error.Kind != string(tt.kind) {
				t.Errorf("unexpected error detail: %+v", report.Error)
			}
			if e.State() != StateClosedFailure {
				t.Errorf("State() = %v, want closed-failure", e.State())
			}
		})
	}
}

func TestExport_NilJob(t *testing.T) {
	quietLogs(t)
	h := &harness{}
	report, err := h.exporter().Export(context.Background(), nil)
	if !errors.Is(err, ErrNilJob) || report.Status != maskexport.StatusError {
		t.Errorf("Export(nil) = %+v, %v", report, err)
	}
}

func TestExport_CanceledContext(t *testing.T) {
	quietLogs(t)
	h := &harness{product: memoryProduct(t), sink: &mockSink{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.exporter().Export(ctx, job("l1_flags.INVALID"))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.opened != 0 || h.created != 0 {
		t.Error("no resources should be opened after cancellation")
	}
}

func TestExport_OpenError(t *testing.T) {
	quietLogs(t)
	h := &harness{openErr: errors.New("no such file"), sink: &mockSink{}}

	report, err := h.exporter().Export(context.Background(), job("l1_flags.INVALID"))

	if !errhandling.IsKind(err, errhandling.KindOpen) {
		t.Fatalf("expected open error, got %v", err)
	}
	if h.created != 0 {
		t.Error("sink must not be created when the product cannot be opened")
	}
	if report.BytesWritten != 0 || report.Error.Stage != StageOpen {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestExport_EagerValidationLeavesOutputUntouched(t *testing.T) {
	quietLogs(t)
	out := filepath.Join(t.TempDir(), "mask.raw")
	original := []byte("previous export")
	if err := os.WriteFile(out, original, 0o644); err != nil {
		t.Fatal(err)
	}
	m := memoryProduct(t)
	opener := product.OpenerFunc(func(string) (product.Product, error) { return m, nil })
	e := NewExporter(opener, sink.FileFactory{})

	report, err := e.Export(context.Background(), &maskexport.Job{
		Input:      "mem",
		Output:     out,
		Expression: "l1_flags.INVALID AND l1_flags.SNOW",
	})

	if !errhandling.IsKind(err, errhandling.KindExpression) {
		t.Fatalf("expected expression error, got %v", err)
	}
	if report.Width != 7 || report.Error.Row != errhandling.NoRow {
		t.Errorf("unexpected report: %+v", report)
	}
	content, _ := os.ReadFile(out)
	if !bytes.Equal(content, original) {
		t.Errorf("existing output was modified: %q", content)
	}
}

func TestExport_LazyValidationWithoutValidator(t *testing.T) {
	quietLogs(t)
	p := &mockProduct{width: 4, height: 3, eval: func(string, int, []int) error {
		return errhandling.NewExpressionError("unknown flag", nil)
	}}
	h := &harness{product: p, sink: &mockSink{}}

	report, err := h.exporter().Export(context.Background(), job("x.Y"))

	if !errhandling.IsKind(err, errhandling.KindExpression) {
		t.Fatalf("expected expression error, got %v", err)
	}
	if report.Error.Row != 0 || report.Error.Stage != StageStream {
		t.Errorf("unexpected error detail: %+v", report.Error)
	}
	if h.created != 1 || h.sink.closed != 1 || p.closed != 1 {
		t.Errorf("created = %d, sink closed = %d, product closed = %d", h.created, h.sink.closed, p.closed)
	}
}

func TestExport_EvalFailureKeepsPrefix(t *testing.T) {
	quietLogs(t)
	const width, failRow = 5, 2
	p := &mockProduct{width: width, height: 4, eval: func(_ string, y int, dst []int) error {
		if y == failRow {
			return errors.New("read error")
		}
		for i := range dst {
			dst[i] = 255
		}
		return nil
	}}
	h := &harness{product: p, sink: &mockSink{}}
	e := h.exporter()

	report, err := e.Export(context.Background(), job("x.Y"))

	if !errhandling.IsKind(err, errhandling.KindEval) {
		t.Fatalf("expected eval error, got %v", err)
	}
	if h.sink.buf.Len() != failRow*width {
		t.Errorf("sink holds %d bytes, want %d", h.sink.buf.Len(), failRow*width)
	}
	if report.RowsWritten != failRow || report.BytesWritten != failRow*width || report.Error.Row != failRow {
		t.Errorf("unexpected report: %+v / %+v", report, report.Error)
	}
	if report.Succeeded() {
		t.Error("failed export must not report success")
	}
	if h.sink.closed != 1 || p.closed != 1 {
		t.Errorf("sink closed = %d, product closed = %d, want 1 and 1", h.sink.closed, p.closed)
	}
	if e.State() != StateClosedFailure {
		t.Errorf("State() = %v", e.State())
	}
}

func TestExport_CreateError(t *testing.T) {
	quietLogs(t)
	p := &mockProduct{width: 2, height: 2, eval: func(string, int, []int) error { return nil }}
	h := &harness{product: p, createEr: errors.New("permission denied")}

	report, err := h.exporter().Export(context.Background(), job("x.Y"))

	if !errhandling.IsKind(err, errhandling.KindWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
	if p.closed != 1 {
		t.Errorf("product closed %d times, want 1", p.closed)
	}
	if report.Error.Stage != StageCreate {
		t.Errorf("stage = %q, want create", report.Error.Stage)
	}
}

func TestExport_SinkCloseErrorFailsExport(t *testing.T) {
	quietLogs(t)
	p := &mockProduct{width: 2, height: 2, eval: func(string, int, []int) error { return nil }}
	h := &harness{product: p, sink: &mockSink{closeErr: errors.New("sync failed")}}

	report, err := h.exporter().Export(context.Background(), job("x.Y"))

	if !errhandling.IsKind(err, errhandling.KindWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
	if report.Error.Stage != StageClose || report.Status != maskexport.StatusError {
		t.Errorf("unexpected report: %+v / %+v", report, report.Error)
	}
	if p.closed != 1 {
		t.Errorf("product closed %d times, want 1", p.closed)
	}
}

func TestExport_ProductCloseErrorIsLogged(t *testing.T) {
	logs := quietLogs(t)
	p := &mockProduct{width: 2, height: 2, eval: func(string, int, []int) error { return nil }, closeErr: errors.New("busy")}
	h := &harness{product: p, sink: &mockSink{}}

	if _, err := h.exporter().Export(context.Background(), job("x.Y")); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !bytes.Contains(logs.Bytes(), []byte("failed to close product")) {
		t.Errorf("expected close failure to be logged, got %s", logs.String())
	}
}

func TestExport_LogsLifecycle(t *testing.T) {
	logs := quietLogs(t)
	h := &harness{product: memoryProduct(t), sink: &mockSink{}}

	if _, err := h.exporter().Export(context.Background(), job("l1_flags.INVALID")); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"export started", "stage completed", "export metrics", "export completed"} {
		if !bytes.Contains(logs.Bytes(), []byte(msg)) {
			t.Errorf("missing %q in logs", msg)
		}
	}
}

func TestExport_LogsProgress(t *testing.T) {
	tests := []struct {
		every int
		want  []string
	}{
		{0, nil},
		{1, []string{`"rows_done":1`, `"rows_done":2`, `"rows_done":3`}},
		{2, []string{`"rows_done":2`, `"rows_done":3`}},
		{10, []string{`"rows_done":3`}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("every %d", tt.every), func(t *testing.T) {
			logs := quietLogs(t)
			h := &harness{product: memoryProduct(t), sink: &mockSink{}}

			if _, err := h.exporter(WithProgress(tt.every)).Export(context.Background(), job("l1_flags.INVALID")); err != nil {
				t.Fatal(err)
			}

			var got []string
			for _, line := range strings.Split(logs.String(), "\n") {
				if !strings.Contains(line, `"msg":"export progress"`) {
					continue
				}
				if !strings.Contains(line, `"height":3`) {
					t.Errorf("progress line without height: %s", line)
				}
				for _, want := range tt.want {
					if strings.Contains(line, want) {
						got = append(got, want)
					}
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("progress entries = %v, want %v\n%s", got, tt.want, logs.String())
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:          "idle",
		StateOpening:       "opening",
		StateStreaming:     "streaming",
		StateClosedSuccess: "closed-success",
		StateClosedFailure: "closed-failure",
		State(42):          "State(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
