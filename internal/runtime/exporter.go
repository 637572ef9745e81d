package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/logger"
	"github.com/maskwriter/runtime/internal/metrics"
	"github.com/maskwriter/runtime/internal/pathutil"
	"github.com/maskwriter/runtime/internal/product"
	"github.com/maskwriter/runtime/internal/sink"
	"github.com/maskwriter/runtime/pkg/maskexport"
)

// Export stages, as reported in logs and error details.
const (
	StageValidate = "validate"
	StageOpen     = "open"
	StageCreate   = "create"
	StageStream   = "stream"
	StageClose    = "close"
)

// ErrNilJob is returned when Export is called without a job.
var ErrNilJob = errors.New("export job is nil")

// State is the lifecycle state of an Exporter.
type State int

// Exporter states. An export moves strictly forward through them.
const (
	StateIdle State = iota
	StateOpening
	StateStreaming
	StateClosedSuccess
	StateClosedFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateClosedSuccess:
		return "closed-success"
	case StateClosedFailure:
		return "closed-failure"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Exporter runs mask exports: it opens a product and a sink, streams the
// mask row by row and releases both on every exit path.
//
// An Exporter runs one export at a time and is not safe for concurrent use.
type Exporter struct {
	opener  product.Opener
	sinks   sink.Factory
	metrics *metrics.Recorder
	newID   func() string
	now     func() time.Time
	// progressEvery is the row interval of progress log entries, 0 for none
	progressEvery int

	state State
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMetrics records export metrics into r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Exporter) { e.metrics = r }
}

// WithProgress logs export progress every n rows and after the last row.
// n <= 0 disables progress logging.
func WithProgress(n int) Option {
	return func(e *Exporter) { e.progressEvery = n }
}

// WithIDGenerator replaces the UUID export ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Exporter) { e.newID = fn }
}

// NewExporter creates an Exporter that opens products with opener and
// creates outputs with sinks.
func NewExporter(opener product.Opener, sinks sink.Factory, opts ...Option) *Exporter {
	e := &Exporter{
		opener: opener,
		sinks:  sinks,
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the state of the current or last export.
func (e *Exporter) State() State {
	return e.state
}

// exportRun tracks one Export call.
type exportRun struct {
	job     *maskexport.Job
	report  *maskexport.Report
	logCtx  logger.ExportContext
	stage   string
	timings stageTimings
}

// stageTimings holds timing measurements for each export stage
type stageTimings struct {
	open   time.Duration
	stream time.Duration
}

// Export writes the mask of job.Expression over job.Input to job.Output.
//
// Execution flow:
//  1. Validate the output path and expression (no I/O)
//  2. Open the product read-only
//  3. Validate the expression against the product, when it supports that
//  4. Create the output, truncating an existing file
//  5. Stream rows, then close the output and the product
//
// A report is returned in success and failure. On failure the error is an
// *errhandling.ExportError whose kind is also recorded in the report; the
// output may then hold a prefix of complete rows.
func (e *Exporter) Export(ctx context.Context, job *maskexport.Job) (*maskexport.Report, error) {
	startedAt := e.now()
	e.state = StateIdle

	if job == nil {
		report := &maskexport.Report{
			ExportID:    e.newID(),
			Status:      maskexport.StatusError,
			StartedAt:   startedAt,
			CompletedAt: e.now(),
			Error:       &maskexport.ErrorDetail{Kind: string(errhandling.KindUnknown), Message: ErrNilJob.Error(), Row: errhandling.NoRow, Stage: StageValidate},
		}
		e.state = StateClosedFailure
		return report, ErrNilJob
	}

	run := &exportRun{
		job: job,
		report: &maskexport.Report{
			ExportID:   e.newID(),
			JobID:      job.ID,
			Input:      job.Input,
			Output:     job.Output,
			Expression: job.Expression,
			Status:     maskexport.StatusError,
			StartedAt:  startedAt,
		},
		stage: StageValidate,
	}
	run.logCtx = logger.ExportContext{
		ExportID:   run.report.ExportID,
		Input:      job.Input,
		Output:     job.Output,
		Expression: job.Expression,
	}
	logger.LogExportStart(run.logCtx)

	err := e.run(ctx, run)
	e.finish(run, err)
	return run.report, err
}

// run performs the export. Resources are released by the deferred closers
// before it returns: the sink first, then the product.
func (e *Exporter) run(ctx context.Context, run *exportRun) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("export canceled before start: %w", err)
	}
	if err := validateJob(run.job); err != nil {
		return err
	}

	e.state = StateOpening
	run.stage = StageOpen
	p, err := e.openProduct(run)
	if err != nil {
		return err
	}
	defer e.closeProduct(run, p)

	run.report.Width = p.Width()
	run.report.Height = p.Height()
	if p.Width() <= 0 || p.Height() <= 0 {
		return errhandling.NewOpenError(
			fmt.Sprintf("product %s has invalid dimensions %dx%d", p.Name(), p.Width(), p.Height()), nil)
	}

	if v, ok := p.(product.ExpressionValidator); ok {
		run.stage = StageValidate
		if err := v.ValidateExpression(run.job.Expression); err != nil {
			return errhandling.Classify(err, errhandling.KindExpression, errhandling.NoRow)
		}
	}

	run.stage = StageCreate
	s, err := e.createSink(run)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			if err == nil {
				run.stage = StageClose
				err = errhandling.NewWriteError(errhandling.NoRow, "closing output", cerr)
				return
			}
			logger.Warn("failed to close output",
				slog.String("export_id", run.report.ExportID),
				slog.String("output", run.job.Output),
				slog.String("error", cerr.Error()),
			)
		}
	}()

	e.state = StateStreaming
	run.stage = StageStream
	return e.stream(run, p, s)
}

// validateJob checks the job without touching the filesystem.
func validateJob(job *maskexport.Job) error {
	if err := pathutil.ValidateOutputPath(job.Output); err != nil {
		return errhandling.NewWriteError(errhandling.NoRow, "invalid output path", err)
	}
	if strings.TrimSpace(job.Expression) == "" {
		return errhandling.NewExpressionError("mask expression is empty", nil)
	}
	return nil
}

func (e *Exporter) openProduct(run *exportRun) (product.Product, error) {
	stageCtx := run.logCtx
	stageCtx.Stage = StageOpen
	logger.LogStageStart(stageCtx)

	start := time.Now()
	p, err := e.opener.Open(run.job.Input)
	run.timings.open = time.Since(start)
	e.metrics.RecordStage(StageOpen, run.timings.open)

	if err == nil && p == nil {
		err = fmt.Errorf("opener returned no product for %s", run.job.Input)
	}
	if err != nil {
		classified := errhandling.Classify(err, errhandling.KindOpen, errhandling.NoRow)
		logger.LogStageEnd(stageCtx, run.timings.open, stageError(classified))
		return nil, classified
	}
	logger.LogStageEnd(stageCtx, run.timings.open, nil)
	return p, nil
}

func (e *Exporter) createSink(run *exportRun) (sink.Sink, error) {
	stageCtx := run.logCtx
	stageCtx.Stage = StageCreate
	logger.LogStageStart(stageCtx)

	start := time.Now()
	s, err := e.sinks.Create(run.job.Output)
	duration := time.Since(start)
	e.metrics.RecordStage(StageCreate, duration)

	if err == nil && s == nil {
		err = fmt.Errorf("sink factory returned no sink for %s", run.job.Output)
	}
	if err != nil {
		classified := errhandling.Classify(err, errhandling.KindWrite, errhandling.NoRow)
		logger.LogStageEnd(stageCtx, duration, stageError(classified))
		return nil, classified
	}
	logger.LogStageEnd(stageCtx, duration, nil)
	return s, nil
}

func (e *Exporter) stream(run *exportRun, p product.Product, s sink.Sink) error {
	stageCtx := run.logCtx
	stageCtx.Stage = StageStream
	logger.LogStageStart(stageCtx)

	streamer := NewStreamer()
	streamer.OnRow = e.onRow(stageCtx, p.Height())
	expression := run.job.Expression
	eval := func(y int, dst []int) error {
		return p.EvaluateRow(expression, y, dst)
	}

	start := time.Now()
	stats, err := streamer.Stream(p.Width(), p.Height(), eval, s)
	run.timings.stream = time.Since(start)
	e.metrics.RecordStage(StageStream, run.timings.stream)

	run.report.RowsWritten = stats.Rows
	run.report.BytesWritten = stats.Bytes

	if err != nil {
		logger.LogStageEnd(stageCtx, run.timings.stream, stageError(err))
		return err
	}
	logger.LogStageEnd(stageCtx, run.timings.stream, nil)
	return nil
}

// onRow returns the per-row callback feeding metrics and progress logging,
// or nil when neither is enabled.
func (e *Exporter) onRow(ctx logger.ExportContext, height int) func(y int, n int) {
	every := e.progressEvery
	if e.metrics == nil && every <= 0 {
		return nil
	}
	return func(y int, n int) {
		if e.metrics != nil {
			e.metrics.RecordRow(n)
		}
		if done := y + 1; every > 0 && (done%every == 0 || done == height) {
			logger.LogProgress(ctx, done, height)
		}
	}
}

func (e *Exporter) closeProduct(run *exportRun, p product.Product) {
	if err := p.Close(); err != nil {
		logger.Warn("failed to close product",
			slog.String("export_id", run.report.ExportID),
			slog.String("input", run.job.Input),
			slog.String("error", err.Error()),
		)
	}
}

// finish completes the report, logs the outcome and records metrics.
func (e *Exporter) finish(run *exportRun, err error) {
	report := run.report
	report.CompletedAt = e.now()
	duration := report.CompletedAt.Sub(report.StartedAt)

	if err != nil {
		kind := errhandling.KindOf(err)
		row, _ := errhandling.RowOf(err)
		report.Status = maskexport.StatusError
		report.Error = &maskexport.ErrorDetail{
			Kind:    string(kind),
			Message: err.Error(),
			Row:     row,
			Stage:   run.stage,
		}
		e.state = StateClosedFailure

		logger.LogError("export failed", logger.ErrorContext{
			ExportID:    report.ExportID,
			Stage:       run.stage,
			Input:       report.Input,
			Output:      report.Output,
			Kind:        string(kind),
			Err:         err,
			Row:         row,
			RowsWritten: report.RowsWritten,
			Duration:    duration,
		})
		e.metrics.RecordFailure(string(kind))
	} else {
		report.Status = maskexport.StatusSuccess
		e.state = StateClosedSuccess

		logger.LogMetrics(run.logCtx, exportMetrics(report, run.timings, duration))
	}

	e.metrics.RecordExport(report.Status, report.Width, report.Height, duration)
	logger.LogExportEnd(run.logCtx, report.Status, report.RowsWritten, report.BytesWritten, duration)
}

func exportMetrics(report *maskexport.Report, timings stageTimings, total time.Duration) logger.ExportMetrics {
	m := logger.ExportMetrics{
		TotalDuration:  total,
		OpenDuration:   timings.open,
		StreamDuration: timings.stream,
		Width:          report.Width,
		Height:         report.Height,
		RowsWritten:    report.RowsWritten,
		BytesWritten:   report.BytesWritten,
	}
	if report.RowsWritten > 0 && timings.stream > 0 {
		m.RowsPerSecond = float64(report.RowsWritten) / timings.stream.Seconds()
		m.AvgRowTime = timings.stream / time.Duration(report.RowsWritten)
	}
	return m
}

func stageError(err error) *logger.StageError {
	row, _ := errhandling.RowOf(err)
	return &logger.StageError{
		Kind:    string(errhandling.KindOf(err)),
		Message: err.Error(),
		Row:     row,
	}
}
