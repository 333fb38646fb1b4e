// Package backtest replays labelled prescriptions through the prediction
// service and measures how well its fraud verdicts match the labels.
//
// Every replayed prescription is scored like a live one, so the service
// appends it to its history.
package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// LabelColumn holds the expected verdict in the input CSV.
const LabelColumn = "fraud"

// requiredColumns must appear in the header.
var requiredColumns = []string{"DESCRIPTION_med", "PATIENT_med", LabelColumn}

// Case is one labelled prescription.
type Case struct {
	Line    int
	Request domain.PrescriptionRequest
	Fraud   bool
}

// ReadCases parses a CSV with a header row using the prediction service
// field names (the layout of its own history file). Column names match
// case-insensitively. Rows with the wrong number of fields are skipped.
// limit <= 0 reads everything.
func ReadCases(r io.Reader, limit int) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var cases []Case
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		if len(record) != len(header) {
			continue
		}

		field := func(name string) string {
			if i, ok := cols[strings.ToLower(name)]; ok {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		number := func(name string) float64 {
			return domain.ParseNumber(field(name)).Float()
		}

		cases = append(cases, Case{
			Line: line,
			Request: domain.PrescriptionRequest{
				Medication:     field("DESCRIPTION_med"),
				EncounterClass: field("ENCOUNTERCLASS"),
				Provider:       field("PROVIDER"),
				Organization:   field("ORGANIZATION"),
				Gender:         field("GENDER"),
				Ethnicity:      field("ETHNICITY"),
				Marital:        field("MARITAL"),
				State:          field("STATE"),
				Age:            int(number("AGE")),
				Dispenses:      number("DISPENSES"),
				BaseCost:       number("BASE_COST"),
				TotalCost:      number("TOTALCOST"),
				Patient:        field("PATIENT_med"),
			},
			Fraud: domain.IsFraud(field(LabelColumn)),
		})

		if limit > 0 && len(cases) >= limit {
			break
		}
	}
	return cases, nil
}

// Result is the outcome of replaying one case.
type Result struct {
	Case      Case
	Predicted bool
	RiskScore float64
	Latency   time.Duration
	Err       error
}

// Metrics is the confusion matrix of a run.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	Processed int64
	Errors    int64
	Latency   time.Duration // summed over scored cases
}

// Precision is TP / (TP + FP), 0 without alerts.
func (m Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN), 0 without fraud cases.
func (m Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct verdicts.
func (m Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

// Scored is the number of cases that got a verdict.
func (m Metrics) Scored() int64 {
	return m.Processed - m.Errors
}

// AvgLatency is the mean scoring latency.
func (m Metrics) AvgLatency() time.Duration {
	if m.Scored() <= 0 {
		return 0
	}
	return m.Latency / time.Duration(m.Scored())
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

type counters struct {
	tp, fp, tn, fn  atomic.Int64
	processed, errs atomic.Int64
	latencyNanos    atomic.Int64
}

func (c *counters) snapshot() *Metrics {
	return &Metrics{
		TruePositives:  c.tp.Load(),
		FalsePositives: c.fp.Load(),
		TrueNegatives:  c.tn.Load(),
		FalseNegatives: c.fn.Load(),
		Processed:      c.processed.Load(),
		Errors:         c.errs.Load(),
		Latency:        time.Duration(c.latencyNanos.Load()),
	}
}

// Run scores cases with at most workers concurrent requests. Failed cases are
// counted, not fatal. onResult, when set, is called from the worker
// goroutines. Cancelling ctx stops the run and returns ctx.Err() along with
// the metrics gathered so far.
func Run(ctx context.Context, scorer domain.Scorer, cases []Case, workers int, onResult func(Result)) (*Metrics, error) {
	if workers <= 0 {
		workers = 1
	}

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, tc := range cases {
		if gctx.Err() != nil {
			break
		}
		tc := tc
		g.Go(func() error {
			start := time.Now()
			result, err := scorer.Predict(gctx, tc.Request)
			elapsed := time.Since(start)
			if err == nil && result == nil {
				err = errors.New("empty prediction result")
			}
			c.processed.Add(1)

			res := Result{Case: tc, Latency: elapsed, Err: err}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.errs.Add(1)
			} else {
				c.latencyNanos.Add(int64(elapsed))
				res.Predicted = result.Fraud
				res.RiskScore = result.RiskScore.Float()
				switch {
				case res.Predicted && tc.Fraud:
					c.tp.Add(1)
				case res.Predicted && !tc.Fraud:
					c.fp.Add(1)
				case !res.Predicted && !tc.Fraud:
					c.tn.Add(1)
				default:
					c.fn.Add(1)
				}
			}

			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return c.snapshot(), err
}
