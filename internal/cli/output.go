package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/maskwriter/runtime/internal/logger"
	"github.com/maskwriter/runtime/internal/product"
	"github.com/maskwriter/runtime/pkg/maskexport"
)

// UsageLine is printed when the exporter is called with too few parameters.
const UsageLine = "parameter usage: <input-file> <output-file> <mask-expr>"

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// PrintUsage prints the one-line parameter usage.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, UsageLine)
}

// PrintReport displays an export report. Successes go to out, failures to errOut.
func PrintReport(out, errOut io.Writer, report *maskexport.Report, opts OutputOptions) {
	if report == nil {
		fmt.Fprintln(errOut, "✗ No export report available")
		return
	}

	if !report.Succeeded() {
		fmt.Fprintln(errOut, "✗ Mask export failed")
		if report.Error != nil {
			fmt.Fprintf(errOut, "  Kind: %s\n", report.Error.Kind)
			if report.Error.Stage != "" {
				fmt.Fprintf(errOut, "  Stage: %s\n", report.Error.Stage)
			}
			if report.Error.Row >= 0 {
				fmt.Fprintf(errOut, "  Row: %d\n", report.Error.Row)
			}
			fmt.Fprintf(errOut, "  Error: %s\n", report.Error.Message)
		}
		if report.BytesWritten > 0 {
			fmt.Fprintf(errOut, "  Partial output: %d of %d bytes (%d rows) in %s\n",
				report.BytesWritten, report.ExpectedBytes(), report.RowsWritten, report.Output)
		}
		return
	}

	if opts.Quiet {
		return
	}
	fmt.Fprintln(out, "✓ Mask exported successfully")
	fmt.Fprintf(out, "  Output: %s\n", report.Output)
	fmt.Fprintf(out, "  Size: %dx%d (%d bytes)\n", report.Width, report.Height, report.BytesWritten)
	if opts.Verbose {
		fmt.Fprintf(out, "  Export ID: %s\n", report.ExportID)
		fmt.Fprintf(out, "  Expression: %s\n", report.Expression)
		fmt.Fprintf(out, "  Duration: %s\n", logger.FormatDuration(report.Duration()))
	}
}

// PrintProductInfo prints a product's dimensions and flag datasets.
func PrintProductInfo(w io.Writer, info product.Info, verbose bool) {
	fmt.Fprintf(w, "Product: %s\n", info.Name)
	if info.Type != "" {
		fmt.Fprintf(w, "  Type: %s\n", info.Type)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", info.Description)
	}
	fmt.Fprintf(w, "  Size: %dx%d\n", info.Width, info.Height)

	if len(info.Datasets) == 0 {
		fmt.Fprintln(w, "  Flag datasets: none")
		return
	}
	fmt.Fprintln(w, "  Flag datasets:")
	for _, ds := range info.Datasets {
		if !verbose {
			names := make([]string, 0, len(ds.Flags))
			for _, f := range ds.Flags {
				names = append(names, f.Name)
			}
			fmt.Fprintf(w, "    %s: %s\n", ds.Name, strings.Join(names, ", "))
			continue
		}
		fmt.Fprintf(w, "    %s:\n", ds.Name)
		for _, f := range ds.Flags {
			fmt.Fprintf(w, "      %-24s 0x%08X\n", f.Name, f.Mask)
		}
	}
}
