// Package main provides the CLI entry point for the maskwriter runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maskwriter/runtime/internal/cli"
	"github.com/maskwriter/runtime/internal/config"
	"github.com/maskwriter/runtime/internal/errhandling"
	"github.com/maskwriter/runtime/internal/logger"
	"github.com/maskwriter/runtime/internal/metrics"
	"github.com/maskwriter/runtime/internal/product"
	"github.com/maskwriter/runtime/internal/runtime"
	"github.com/maskwriter/runtime/internal/sink"
	"github.com/maskwriter/runtime/pkg/maskexport"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(args)
}

// app holds the flags and collaborators of one CLI invocation.
type app struct {
	opener product.Opener
	sinks  sink.Factory
	stdout io.Writer
	stderr io.Writer

	// Global flags
	verbose     bool
	quiet       bool
	logFormat   string
	logFile     string
	metricsFile string
	jobFile     string
	progress    int

	exitCode int
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		opener: product.FileOpener{},
		sinks:  sink.FileFactory{Perm: 0o644},
		stdout: stdout,
		stderr: stderr,
	}
}

func (a *app) execute(args []string) int {
	cmd := a.newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.Execute()
	logger.CloseLogFile()
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ %v\n", err)
		if a.exitCode == ExitSuccess {
			a.exitCode = ExitValidationError
		}
	}
	return a.exitCode
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "maskwriter <input-file> <output-file> <mask-expr>",
		Short: "maskwriter - Line-wise flag mask export",
		Long: `maskwriter evaluates a boolean flag expression over every pixel of a
raster product and writes the result as a raw 8-bit mask (255 where the
expression holds, 0 elsewhere), one scanline at a time.

The input is a product descriptor (JSON/YAML) naming the product size and
its flag datasets. The output is width*height bytes in row-major order with
no header; an existing file is overwritten.

An input file named like a subcommand (inspect, validate, version) must be
given with a path prefix, for example ./version.

Exit codes:
  0 - Mask exported (or usage printed)
  1 - Invalid arguments or mask expression
  2 - Parse errors in a job file or product descriptor
  3 - Runtime errors (open, evaluation, write)

Examples:
  # Export the valid-pixel mask of a product
  maskwriter product.yaml mask.raw "NOT l1_flags.INVALID"

  # Run an export described in a job file
  maskwriter --job export.yaml

  # Log progress every 500 rows
  maskwriter --progress 500 product.yaml mask.raw "l1_flags.LAND"

  # List the flags a product provides
  maskwriter inspect product.yaml`,
		Args:              cobra.ArbitraryArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.configureLogging,
		RunE:              a.runExport,
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-error output")
	flags.StringVar(&a.logFormat, "log-format", "json", "Console log format (json or human)")
	flags.StringVar(&a.logFile, "log-file", "", "Also write JSON logs to this file")
	root.Flags().StringVar(&a.metricsFile, "metrics-file", "", "Write export metrics in Prometheus text format to this file")
	root.Flags().StringVar(&a.jobFile, "job", "", "Read input, output and expression from a JSON/YAML job file")
	root.Flags().IntVar(&a.progress, "progress", 0, "Log export progress every N rows (0 disables)")

	root.AddCommand(a.newInspectCmd(), a.newValidateCmd(), a.newVersionCmd())
	return root
}

func (a *app) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <product>",
		Short: "Show a product's size and flag datasets",
		Long: `Open a product descriptor and list its dimensions, flag datasets and
flag names. With --verbose the bit mask of every flag is shown.

Exit codes:
  0 - Product opened
  2 - Parse errors in the product descriptor
  3 - The product cannot be opened`,
		Args: cobra.ExactArgs(1),
		RunE: a.runInspect,
	}
}

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <product> <mask-expr>",
		Short: "Check a mask expression against a product",
		Long: `Check that a mask expression parses and only references flags the
product provides. Nothing is written.

Exit codes:
  0 - Expression is valid
  1 - Expression errors
  2 - Parse errors in the product descriptor
  3 - The product cannot be opened

Examples:
  maskwriter validate product.yaml "l1_flags.LAND AND NOT l1_flags.CLOUD"`,
		Args: cobra.ExactArgs(2),
		RunE: a.runValidate,
	}
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "Version: %s\n", version)
			fmt.Fprintf(a.stdout, "Commit: %s\n", commit)
			fmt.Fprintf(a.stdout, "Build Date: %s\n", buildDate)
		},
	}
}

// configureLogging sets the logger level, format and optional log file from flags.
func (a *app) configureLogging(_ *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	} else if a.quiet {
		level = slog.LevelError
	}

	format, err := logger.ParseFormat(a.logFormat)
	if err != nil {
		a.exitCode = ExitValidationError
		return err
	}

	logger.SetOutput(a.stderr, level)
	logger.SetLevelAndFormat(level, format)

	if a.logFile != "" {
		if err := logger.SetLogFile(a.logFile, level, format); err != nil {
			a.exitCode = ExitRuntimeError
			return err
		}
	}
	return nil
}

func (a *app) runExport(cmd *cobra.Command, args []string) error {
	job, ok := a.resolveJob(args)
	if !ok {
		return nil
	}

	var recorder *metrics.Recorder
	if a.metricsFile != "" {
		recorder = metrics.NewRecorder("", nil)
	}

	if !a.quiet {
		fmt.Fprintf(a.stdout, "Exporting mask of %s to %s\n", job.Input, job.Output)
	}

	exporter := runtime.NewExporter(a.opener, a.sinks,
		runtime.WithMetrics(recorder),
		runtime.WithProgress(a.progress),
	)
	report, err := exporter.Export(commandContext(cmd), job)
	cli.PrintReport(a.stdout, a.stderr, report, cli.OutputOptions{Verbose: a.verbose, Quiet: a.quiet})

	if recorder != nil {
		if werr := recorder.WriteTextfile(a.metricsFile); werr != nil {
			logger.Warn("failed to write metrics file",
				slog.String("path", a.metricsFile),
				slog.String("error", werr.Error()),
			)
		}
	}

	a.exitCode = exitCodeFor(err)
	return nil
}

// resolveJob builds the job from --job or the positional parameters.
// It returns false when there is nothing to export; a.exitCode is set then.
func (a *app) resolveJob(args []string) (*maskexport.Job, bool) {
	if a.jobFile != "" {
		if len(args) > 0 {
			fmt.Fprintln(a.stderr, "✗ --job cannot be combined with positional parameters")
			a.exitCode = ExitValidationError
			return nil, false
		}
		job, result, err := config.LoadJob(a.jobFile)
		if err != nil {
			if !cli.PrintDocumentErrors(a.stderr, result, a.verbose, a.quiet) {
				fmt.Fprintf(a.stderr, "✗ Failed to load job: %v\n", err)
			}
			a.exitCode = exitCodeFor(err)
			return nil, false
		}
		return job, true
	}

	if len(args) < 3 {
		cli.PrintUsage(a.stdout)
		a.exitCode = ExitSuccess
		return nil, false
	}
	if len(args) > 3 {
		logger.Warn("ignoring extra parameters", slog.Any("extra", args[3:]))
	}
	return &maskexport.Job{Input: args[0], Output: args[1], Expression: args[2]}, true
}

func (a *app) runInspect(_ *cobra.Command, args []string) error {
	p, err := a.opener.Open(args[0])
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to open product: %v\n", err)
		a.exitCode = exitCodeFor(err)
		return nil
	}
	defer closeProduct(p)

	info := product.Info{Name: p.Name(), Width: p.Width(), Height: p.Height()}
	if d, ok := p.(product.Describer); ok {
		info = d.Describe()
	}
	cli.PrintProductInfo(a.stdout, info, a.verbose)
	a.exitCode = ExitSuccess
	return nil
}

func (a *app) runValidate(_ *cobra.Command, args []string) error {
	p, err := a.opener.Open(args[0])
	if err != nil {
		fmt.Fprintf(a.stderr, "✗ Failed to open product: %v\n", err)
		a.exitCode = exitCodeFor(err)
		return nil
	}
	defer closeProduct(p)

	if err := validateExpression(p, args[1]); err != nil {
		fmt.Fprintf(a.stderr, "✗ Invalid mask expression: %v\n", err)
		a.exitCode = exitCodeFor(err)
		return nil
	}

	if !a.quiet {
		fmt.Fprintf(a.stdout, "✓ Mask expression is valid for %s\n", p.Name())
	}
	a.exitCode = ExitSuccess
	return nil
}

// validateExpression checks expression without writing anything. Products
// that cannot validate up front are checked by evaluating their first row.
func validateExpression(p product.Product, expression string) error {
	if v, ok := p.(product.ExpressionValidator); ok {
		if err := v.ValidateExpression(expression); err != nil {
			return errhandling.Classify(err, errhandling.KindExpression, errhandling.NoRow)
		}
		return nil
	}
	if p.Width() <= 0 || p.Height() <= 0 {
		return errhandling.NewOpenError(fmt.Sprintf("product %s has invalid dimensions", p.Name()), nil)
	}
	dst := make([]int, p.Width())
	if err := p.EvaluateRow(expression, 0, dst); err != nil {
		return errhandling.Classify(err, errhandling.KindExpression, 0)
	}
	return nil
}

func closeProduct(p product.Product) {
	if err := p.Close(); err != nil {
		logger.Warn("failed to close product", slog.String("product", p.Name()), slog.String("error", err.Error()))
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// exitCodeFor maps an export error to a process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, config.ErrInvalidDocument) {
		return ExitParseError
	}
	switch errhandling.KindOf(err) {
	case errhandling.KindUsage, errhandling.KindExpression:
		return ExitValidationError
	default:
		return ExitRuntimeError
	}
}
