package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/rxwatch/internal/aggregate"
	"github.com/opensource-finance/rxwatch/internal/domain"
	"github.com/opensource-finance/rxwatch/internal/filter"
)

// reportOptions are the report command flags.
type reportOptions struct {
	Filter    string
	TopN      int
	TrendSize int
	JSON      bool
	Timeout   time.Duration
}

var reportFlags = reportOptions{
	TopN:      aggregate.DefaultTopN,
	TrendSize: aggregate.DefaultTrendSize,
	Timeout:   30 * time.Second,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch history once and print the summary",
	Long: `Fetch the prediction history once and print the fraud summary, the most
prescribed medications and the recent risk trend.

Examples:
  rxwatch report
  rxwatch report --filter 'fraud && risk_score >= 60' --top 10
  rxwatch report --json`,
	RunE: runReportCmd,
}

func init() {
	f := reportCmd.Flags()
	f.StringVarP(&reportFlags.Filter, "filter", "f", "", "CEL filter expression")
	f.IntVar(&reportFlags.TopN, "top", reportFlags.TopN, "number of medications to list")
	f.IntVar(&reportFlags.TrendSize, "trend", reportFlags.TrendSize, "number of trend points")
	f.BoolVar(&reportFlags.JSON, "json", false, "print the view model as JSON")
	f.DurationVar(&reportFlags.Timeout, "timeout", reportFlags.Timeout, "fetch timeout")
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	client, err := newPredictorClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), reportFlags.Timeout)
	defer cancel()
	return runReport(ctx, cmd.OutOrStdout(), client, reportFlags, time.Now())
}

// runReport fetches once and writes the report to out. Unlike the HTTP
// views, a fetch failure is an error here.
func runReport(ctx context.Context, out io.Writer, source domain.HistorySource, opts reportOptions, now time.Time) error {
	compiler, err := filter.NewCompiler()
	if err != nil {
		return err
	}
	f, err := compiler.Compile(opts.Filter)
	if err != nil {
		return err
	}

	records, err := source.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	vm := aggregate.Build(f.Apply(records), aggregate.Options{
		TopN:      opts.TopN,
		TrendSize: opts.TrendSize,
		Now:       now,
	})

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(vm)
	}
	return writeReport(out, vm, f.Expression())
}

func writeReport(out io.Writer, vm domain.ViewModel, expr string) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if expr != "" {
		fmt.Fprintf(tw, "Filter:\t%s\n", expr)
	}
	fmt.Fprintf(tw, "Predictions:\t%d\n", vm.Summary.TotalCount)
	fmt.Fprintf(tw, "Fraud cases:\t%d\n", vm.Summary.FraudCount)
	fmt.Fprintf(tw, "Fraud rate:\t%d%%\n", vm.Summary.FraudPercent)
	fmt.Fprintf(tw, "Fraud this month:\t%d\n", vm.MonthlyFraud)

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TOP MEDICATIONS")
	if len(vm.TopMedications) == 0 {
		fmt.Fprintln(tw, "  (none)")
	}
	shares := aggregate.MedicationShares(vm.TopMedications, vm.Summary.TotalCount)
	for i, m := range vm.TopMedications {
		fmt.Fprintf(tw, "  %d.\t%s\t%d\t%d%%\n", i+1, m.Name, m.Count, shares[i])
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "RISK TREND")
	if len(vm.RiskTrend) == 0 {
		fmt.Fprintln(tw, "  (none)")
	}
	for _, p := range vm.RiskTrend {
		fmt.Fprintf(tw, "  %s\t%s\t%.1f\n", p.Time.Format("2006-01-02"), p.Label, p.RiskScore)
	}

	flagged := 0
	for _, row := range vm.Rows {
		if row.Flagged {
			flagged++
		}
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(tw, "%d rows, %d flagged\n", len(vm.Rows), flagged)

	return tw.Flush()
}
