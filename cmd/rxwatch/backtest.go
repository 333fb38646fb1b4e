package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/rxwatch/internal/backtest"
)

var backtestFlags struct {
	CSV     string
	Limit   int
	Workers int
	Verbose bool
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay labelled prescriptions and measure fraud detection",
	Long: `Replay a labelled prescriptions CSV through the prediction service and
print the confusion matrix, precision, recall and latency.

The CSV uses the prediction service field names (DESCRIPTION_med, PATIENT_med,
AGE, ...) plus a "fraud" label column. Every replayed row is scored like a live
prescription and therefore lands in the service's history.`,
	RunE: runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&backtestFlags.CSV, "csv", "", "labelled prescriptions CSV (required)")
	f.IntVar(&backtestFlags.Limit, "limit", 1000, "maximum rows to replay (0 = all)")
	f.IntVar(&backtestFlags.Workers, "workers", 4, "concurrent scoring requests")
	f.BoolVarP(&backtestFlags.Verbose, "verbose", "v", false, "print every verdict")
	_ = backtestCmd.MarkFlagRequired("csv")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	client, err := newPredictorClient(cfg, logger)
	if err != nil {
		return err
	}

	file, err := os.Open(backtestFlags.CSV)
	if err != nil {
		return err
	}
	defer file.Close()

	cases, err := backtest.ReadCases(file, backtestFlags.Limit)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", backtestFlags.CSV, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replaying %d prescriptions against %s with %d workers\n",
		len(cases), cfg.Upstream.BaseURL, backtestFlags.Workers)

	var onResult func(backtest.Result)
	if backtestFlags.Verbose {
		var mu sync.Mutex
		onResult = func(r backtest.Result) {
			mu.Lock()
			defer mu.Unlock()
			printVerdict(out, r)
		}
	}

	start := time.Now()
	metrics, err := backtest.Run(cmd.Context(), client, cases, backtestFlags.Workers, onResult)
	printMetrics(out, metrics, time.Since(start))
	return err
}

func printVerdict(out io.Writer, r backtest.Result) {
	if r.Err != nil {
		fmt.Fprintf(out, "ERR  line %-5d %-16s %v\n", r.Case.Line, r.Case.Request.Patient, r.Err)
		return
	}
	mark := "ok "
	if r.Predicted != r.Case.Fraud {
		mark = "bad"
	}
	fmt.Fprintf(out, "%s  line %-5d %-16s label=%-5v predicted=%-5v risk=%5.1f  %s\n",
		mark, r.Case.Line, r.Case.Request.Patient, r.Case.Fraud, r.Predicted, r.RiskScore, r.Case.Request.Medication)
}

func printMetrics(out io.Writer, m *backtest.Metrics, elapsed time.Duration) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "CONFUSION MATRIX")
	fmt.Fprintln(out, "                 predicted fraud   predicted clear")
	fmt.Fprintf(out, "  actual fraud   %15d   %15d\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(out, "  actual clear   %15d   %15d\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Precision:  %.4f\n", m.Precision())
	fmt.Fprintf(out, "  Recall:     %.4f\n", m.Recall())
	fmt.Fprintf(out, "  F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(out, "  Accuracy:   %.4f\n", m.Accuracy())

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Processed:  %d (%d errors)\n", m.Processed, m.Errors)
	fmt.Fprintf(out, "  Duration:   %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  Avg latency: %v\n", m.AvgLatency().Round(time.Microsecond))
}
