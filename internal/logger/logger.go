// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the exporter.
//
// Export helpers (start/end, stage start/end, errors, metrics) attach the same
// snake_case fields everywhere so a single export can be followed through the log.
//
// The package supports two output formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

// output is where console logs go. Defaults to stderr so that stdout stays
// free for command results.
var output io.Writer = os.Stderr

func init() {
	Logger = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// OutputFormat represents the log output format
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a human-readable console format with colors and prefixes
	FormatHuman
)

// ParseFormat converts a format name ("json", "human") to an OutputFormat.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "human", "text", "console":
		return FormatHuman, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q (expected json or human)", name)
	}
}

// SetOutput redirects console logging to w at the given level in JSON format.
// Mostly useful in tests.
func SetOutput(w io.Writer, level slog.Level) {
	output = w
	SetLevelAndFormat(level, FormatJSON)
}

// currentFormat is the console format last configured.
var currentFormat = FormatJSON

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	currentFormat = format
	Logger = slog.New(consoleHandler(level, format))
}

func consoleHandler(level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(output, &HumanHandlerOptions{
			Level:     level,
			UseColors: isTerminal(output),
		})
	}
	return slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// =============================================================================
// Export Context Types
// =============================================================================

// ExportContext contains context information for export logging.
type ExportContext struct {
	// ExportID is the unique identifier of the export run (required)
	ExportID string
	// Input is the source product locator
	Input string
	// Output is the destination locator
	Output string
	// Expression is the mask expression
	Expression string
	// Stage is the current stage (open, validate, create, stream, close)
	Stage string
}

// StageError contains structured error information for stage logging.
type StageError struct {
	// Kind is the error kind (open, expression, eval, write)
	Kind string
	// Message is the human-readable error message
	Message string
	// Row is the scanline the error occurred on, negative if none
	Row int
}

// ErrorContext contains structured context for error logging.
type ErrorContext struct {
	ExportID string
	Stage    string
	Input    string
	Output   string

	// Error details
	Kind string
	Err  error

	// Row is the failing scanline, negative if none
	Row int
	// RowsWritten is the number of complete rows already in the sink
	RowsWritten int
	Duration    time.Duration

	// Additional context as key-value pairs
	Extra map[string]any
}

// ExportMetrics contains performance metrics for a finished export.
type ExportMetrics struct {
	TotalDuration  time.Duration
	OpenDuration   time.Duration
	StreamDuration time.Duration
	Width          int
	Height         int
	RowsWritten    int
	BytesWritten   int64
	RowsPerSecond  float64
	AvgRowTime     time.Duration
}

// =============================================================================
// Export Context Helpers
// =============================================================================

// LogExportStart logs the start of an export.
func LogExportStart(ctx ExportContext) {
	attrs := buildContextAttrs(ctx)
	if ctx.Expression != "" {
		attrs = append(attrs, slog.String("expression", ctx.Expression))
	}
	Logger.Info("export started", attrs...)
}

// LogExportEnd logs the end of an export with its final status.
func LogExportEnd(ctx ExportContext, status string, rowsWritten int, bytesWritten int64, duration time.Duration) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.String("status", status),
		slog.Int("rows_written", rowsWritten),
		slog.Int64("bytes_written", bytesWritten),
		slog.Duration("duration", duration),
	)
	if status == "success" {
		Logger.Info("export completed", attrs...)
		return
	}
	Logger.Warn("export ended with errors", attrs...)
}

// LogStageStart logs the start of an export stage.
func LogStageStart(ctx ExportContext) {
	Logger.Debug("stage started", buildContextAttrs(ctx)...)
}

// LogStageEnd logs the completion of an export stage.
// If err is non-nil, logs as an error with error details.
func LogStageEnd(ctx ExportContext, duration time.Duration, err *StageError) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs, slog.Duration("duration", duration))

	if err != nil {
		attrs = append(attrs,
			slog.String("error_kind", err.Kind),
			slog.String("error", err.Message),
		)
		if err.Row >= 0 {
			attrs = append(attrs, slog.Int("row", err.Row))
		}
		Logger.Error("stage failed", attrs...)
		return
	}
	Logger.Debug("stage completed", attrs...)
}

// LogMetrics logs export performance metrics.
func LogMetrics(ctx ExportContext, metrics ExportMetrics) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Duration("total_duration", metrics.TotalDuration),
		slog.Duration("open_duration", metrics.OpenDuration),
		slog.Duration("stream_duration", metrics.StreamDuration),
		slog.Int("width", metrics.Width),
		slog.Int("height", metrics.Height),
		slog.Int("rows_written", metrics.RowsWritten),
		slog.Int64("bytes_written", metrics.BytesWritten),
		slog.Float64("rows_per_second", metrics.RowsPerSecond),
		slog.Duration("avg_row_time", metrics.AvgRowTime),
	)
	msg := "export metrics"
	if currentFormat == FormatHuman {
		msg = FormatMetricsHuman(metrics)
	}
	Logger.Info(msg, attrs...)
}

// LogProgress logs how many of the rows of an export have been written.
func LogProgress(ctx ExportContext, rowsDone, height int) {
	attrs := buildContextAttrs(ctx)
	percent := 0.0
	if height > 0 {
		percent = 100 * float64(rowsDone) / float64(height)
	}
	attrs = append(attrs,
		slog.Int("rows_done", rowsDone),
		slog.Int("height", height),
		slog.Float64("percent", percent),
	)
	Logger.Info("export progress", attrs...)
}

// LogError logs an error with full export context.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.ExportID != "" {
		attrs = append(attrs, slog.String("export_id", errCtx.ExportID))
	}
	if errCtx.Stage != "" {
		attrs = append(attrs, slog.String("stage", errCtx.Stage))
	}
	if errCtx.Input != "" {
		attrs = append(attrs, slog.String("input", errCtx.Input))
	}
	if errCtx.Output != "" {
		attrs = append(attrs, slog.String("output", errCtx.Output))
	}
	if errCtx.Kind != "" {
		attrs = append(attrs, slog.String("error_kind", errCtx.Kind))
	}
	if errCtx.Err != nil {
		attrs = append(attrs,
			slog.String("error", errCtx.Err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)),
		)
		if chain := errorChain(errCtx.Err); len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.Row >= 0 {
		attrs = append(attrs, slog.Int("row", errCtx.Row))
	}
	attrs = append(attrs, slog.Int("rows_written", errCtx.RowsWritten))
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

// errorChain lists the messages of err and everything it wraps.
func errorChain(err error) []string {
	var chain []string
	for current := err; current != nil; current = errors.Unwrap(current) {
		chain = append(chain, current.Error())
	}
	return chain
}

// buildContextAttrs builds a slice of slog attributes from an ExportContext.
// Only non-empty fields are included.
func buildContextAttrs(ctx ExportContext) []any {
	attrs := make([]any, 0, 10)
	attrs = append(attrs, slog.String("export_id", ctx.ExportID))
	if ctx.Stage != "" {
		attrs = append(attrs, slog.String("stage", ctx.Stage))
	}
	if ctx.Input != "" {
		attrs = append(attrs, slog.String("input", ctx.Input))
	}
	if ctx.Output != "" {
		attrs = append(attrs, slog.String("output", ctx.Output))
	}
	return attrs
}

// =============================================================================
// Human-Readable Log Format Support
// =============================================================================

// isTerminal returns true if the writer is a terminal (supports colors)
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// HumanHandlerOptions configures the human-readable log handler.
type HumanHandlerOptions struct {
	// Level is the minimum log level to output
	Level slog.Level
	// UseColors enables ANSI color codes
	UseColors bool
}

// HumanHandler is a slog handler that outputs one readable line per record.
type HumanHandler struct {
	opts   HumanHandlerOptions
	writer io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	prefix string
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(w io.Writer, opts *HumanHandlerOptions) *HumanHandler {
	if opts == nil {
		opts = &HumanHandlerOptions{Level: slog.LevelInfo}
	}
	return &HumanHandler{
		opts:   *opts,
		writer: w,
		mu:     &sync.Mutex{},
	}
}

// Enabled returns true if the handler is enabled for the given level.
func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

// maxInlineAttrs caps how many attributes are printed after the message.
const maxInlineAttrs = 6

// Handle outputs a log record in human-readable format.
func (h *HumanHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(h.levelPrefix(r.Level, r.Message))
	sb.WriteString(" ")
	sb.WriteString(r.Message)

	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = append(parts, formatAttr(a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, formatAttr(h.prefix+a.Key, a.Value))
		return true
	})

	if len(parts) > 0 {
		shown := parts
		if len(shown) > maxInlineAttrs {
			shown = shown[:maxInlineAttrs]
		}
		sb.WriteString(" ")
		sb.WriteString(strings.Join(shown, " "))
		if extra := len(parts) - len(shown); extra > 0 {
			sb.WriteString(fmt.Sprintf(" (+%d more)", extra))
		}
	}
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &next
}

// WithGroup returns a new handler whose attribute keys are prefixed with name.
func (h *HumanHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// levelPrefix returns a symbol for the level, using ✓ for completion messages.
func (h *HumanHandler) levelPrefix(level slog.Level, message string) string {
	const (
		colorReset  = "\033[0m"
		colorRed    = "\033[31m"
		colorYellow = "\033[33m"
		colorGreen  = "\033[32m"
		colorCyan   = "\033[36m"
	)

	var prefix, color string
	switch {
	case level >= slog.LevelError:
		prefix, color = "✗", colorRed
	case level >= slog.LevelWarn:
		prefix, color = "⚠", colorYellow
	case level >= slog.LevelInfo:
		if strings.Contains(strings.ToLower(message), "completed") {
			prefix, color = "✓", colorGreen
		} else {
			prefix, color = "ℹ", colorCyan
		}
	default:
		prefix, color = "·", colorReset
	}

	if h.opts.UseColors {
		return color + prefix + colorReset
	}
	return prefix
}

// formatAttr formats a single attribute for display.
func formatAttr(key string, v slog.Value) string {
	switch v.Kind() {
	case slog.KindDuration:
		return fmt.Sprintf("%s=%s", key, FormatDuration(v.Duration()))
	case slog.KindFloat64:
		return fmt.Sprintf("%s=%.2f", key, v.Float64())
	default:
		return fmt.Sprintf("%s=%v", key, v.Any())
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// FormatMetricsHuman formats export metrics in a human-readable way.
func FormatMetricsHuman(metrics ExportMetrics) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Wrote %d rows (%d bytes) in %s",
		metrics.RowsWritten, metrics.BytesWritten, FormatDuration(metrics.TotalDuration)))
	if metrics.RowsPerSecond > 0 {
		sb.WriteString(fmt.Sprintf(" (%.1f rows/sec)", metrics.RowsPerSecond))
	}
	return sb.String()
}

// =============================================================================
// Log File Output Support
// =============================================================================

// logFile holds the currently open log file (if any)
var logFile *os.File

// maxLogFileSize is the size at which an existing log file is rotated (10MB)
const maxLogFileSize = 10 * 1024 * 1024

// rotateLogFile renames path with a timestamp suffix if it exceeds maxLogFileSize.
func rotateLogFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking log file size: %w", err)
	}
	if info.Size() < maxLogFileSize {
		return nil
	}
	rotatedPath := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, rotatedPath); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}
	return nil
}

// SetLogFile configures logging to write to both the console and the given file.
// File logs are always JSON. Returns an error if the file cannot be opened.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat) error {
	CloseLogFile()

	if err := rotateLogFile(path); err != nil {
		Warn("log rotation failed", slog.String("error", err.Error()))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f

	currentFormat = consoleFormat
	Logger = slog.New(&dualHandler{
		console: consoleHandler(level, consoleFormat),
		file:    slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})

	Debug("log file opened", slog.String("path", path))
	return nil
}

// CloseLogFile closes the current log file if one is open.
func CloseLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Sync(); err != nil {
		Warn("failed to sync log file", slog.String("error", err.Error()))
	}
	if err := logFile.Close(); err != nil {
		Warn("failed to close log file", slog.String("error", err.Error()))
	}
	logFile = nil
}

// dualHandler is a slog.Handler that writes to both console and file handlers.
type dualHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (d *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.console.Enabled(ctx, level) || d.file.Enabled(ctx, level)
}

func (d *dualHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if d.console.Enabled(ctx, r.Level) {
		errs = append(errs, d.console.Handle(ctx, r.Clone()))
	}
	if d.file.Enabled(ctx, r.Level) {
		errs = append(errs, d.file.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (d *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{
		console: d.console.WithAttrs(attrs),
		file:    d.file.WithAttrs(attrs),
	}
}

func (d *dualHandler) WithGroup(name string) slog.Handler {
	return &dualHandler{
		console: d.console.WithGroup(name),
		file:    d.file.WithGroup(name),
	}
}
