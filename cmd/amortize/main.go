// Command amortize prints or exports a loan amortization schedule without
// starting the server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"loan-engine/internal/amortization"
	"loan-engine/internal/api/handler/dto"
	"loan-engine/internal/export"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// Set via -ldflags.
var version = "dev"

const (
	formatTable = "table"
	formatJSON  = "json"
)

type options struct {
	amount float64
	rate   float64
	term   int
	format string
	out    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "amortize",
		Short: "Calculate a fixed-payment loan amortization schedule",
		Long: `amortize computes the monthly payment, totals and full schedule of a loan
with the same calculator the loan engine API uses.

Formats: table (default) and json print to stdout; xlsx and pdf are written
to --out or to a timestamped file in the current directory.`,
		Example:       "  amortize --amount 10000 --rate 12 --term 12\n  amortize --amount 250000 --rate 6.5 --term 360 --format pdf --out mortgage.pdf",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts)
		},
	}

	root.Flags().Float64Var(&opts.amount, "amount", 0, "loan principal")
	root.Flags().Float64Var(&opts.rate, "rate", 0, "annual interest rate in percent (12 means 12%)")
	root.Flags().IntVar(&opts.term, "term", 0, "term in months")
	root.Flags().StringVar(&opts.format, "format", formatTable, "output format: table, json, xlsx or pdf")
	root.Flags().StringVarP(&opts.out, "out", "o", "", "output file (default stdout for table/json)")
	_ = root.MarkFlagRequired("amount")
	_ = root.MarkFlagRequired("rate")
	_ = root.MarkFlagRequired("term")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amortize %s\n", version)
		},
	})

	return root
}

func run(stdout io.Writer, opts options) error {
	in := amortization.Input{
		Principal:         opts.amount,
		AnnualRatePercent: opts.rate,
		TermMonths:        opts.term,
	}
	result, err := amortization.Calculate(in)
	if err != nil {
		return err
	}

	format := strings.ToLower(strings.TrimSpace(opts.format))
	switch format {
	case formatTable, formatJSON:
		w, closeFn, err := openOutput(stdout, opts.out)
		if err != nil {
			return err
		}
		defer closeFn()
		if format == formatJSON {
			return writeJSON(w, result)
		}
		return writeTable(w, result)
	default:
		doc, err := export.Render(format, result, export.Meta{Input: in, GeneratedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		path := opts.out
		if path == "" {
			path = doc.FileName
		}
		if err := os.WriteFile(path, doc.Body, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", filepath.Clean(path), len(doc.Body))
		return nil
	}
}

func openOutput(stdout io.Writer, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func writeJSON(w io.Writer, result *amortization.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dto.NewCalculationResponse(result))
}

func writeTable(w io.Writer, result *amortization.Result) error {
	summary := result.Summary()
	fmt.Fprintf(w, "Monthly payment: %s\n", summary.MonthlyPayment.StringFixed(2))
	if !summary.FinalAdjustment.IsZero() {
		fmt.Fprintf(w, "Final payment:   %s\n", summary.FinalPayment.StringFixed(2))
	}
	fmt.Fprintf(w, "Total amount:    %s\n", summary.TotalAmount.StringFixed(2))
	fmt.Fprintf(w, "Total interest:  %s\n\n", summary.TotalInterest.StringFixed(2))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tPayment\tPrincipal\tInterest\tBalance\t")
	for _, row := range result.Schedule {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n",
			row.PaymentNumber,
			row.Payment.StringFixed(2),
			row.Principal.StringFixed(2),
			row.Interest.StringFixed(2),
			row.Balance.StringFixed(2),
		)
	}
	return tw.Flush()
}
