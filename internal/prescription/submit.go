package prescription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// Gauge band names.
const (
	BandLow    = "Low"
	BandMedium = "Medium"
	BandHigh   = "High"
)

// Band edges on the 0-100 gauge.
const (
	lowUpper    = 100.0 / 3
	mediumUpper = 200.0 / 3
)

// Gauge places a risk score on a three-band dial.
type Gauge struct {
	Value float64 `json:"value"` // clamped to [0,100]
	Band  string  `json:"band"`
}

// NewGauge buckets score. Invalid scores read as zero.
func NewGauge(score domain.Number) Gauge {
	v := min(max(score.Float(), 0), 100)
	g := Gauge{Value: v, Band: BandHigh}
	switch {
	case v < lowUpper:
		g.Band = BandLow
	case v < mediumUpper:
		g.Band = BandMedium
	}
	return g
}

// Assessment is a scored prescription.
type Assessment struct {
	Request domain.PrescriptionRequest `json:"request"`
	Result  domain.PredictionResult    `json:"result"`
	Gauge   Gauge                      `json:"gauge"`
}

// Submit validates form and asks scorer for a prediction. A validation
// failure is returned as FieldErrors without calling scorer.
func Submit(ctx context.Context, scorer domain.Scorer, form Form) (*Assessment, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}

	req := form.Request()
	result, err := scorer.Predict(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to score prescription: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("failed to score prescription: empty result")
	}

	slog.Debug("prescription scored",
		"patient", req.Patient,
		"medication", req.Medication,
		"risk_score", result.RiskScore.Float(),
		"fraud", result.Fraud,
	)
	return &Assessment{
		Request: req,
		Result:  *result,
		Gauge:   NewGauge(result.RiskScore),
	}, nil
}
