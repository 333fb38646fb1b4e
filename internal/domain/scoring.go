package domain

import "context"

// PrescriptionRequest is the payload of POST /predict, using the field names
// the prediction service expects.
type PrescriptionRequest struct {
	Medication     string  `json:"DESCRIPTION_med"`
	EncounterClass string  `json:"ENCOUNTERCLASS"`
	Provider       string  `json:"PROVIDER"`
	Organization   string  `json:"ORGANIZATION"`
	Gender         string  `json:"GENDER"`
	Ethnicity      string  `json:"ETHNICITY"`
	Marital        string  `json:"MARITAL"`
	State          string  `json:"STATE"`
	Age            int     `json:"AGE"`
	Dispenses      float64 `json:"DISPENSES"`
	BaseCost       float64 `json:"BASE_COST"`
	TotalCost      float64 `json:"TOTALCOST"`
	Patient        string  `json:"PATIENT_med"`
}

// PredictionResult is the response of POST /predict.
type PredictionResult struct {
	RiskScore      Number         `json:"risk_score"`
	MedicationRisk string         `json:"medication_risk"`
	Fraud          bool           `json:"fraud"`
	UsedModel      string         `json:"used_model,omitempty"`
	ShapFeatures   map[string]any `json:"shap_features,omitempty"`
	ShapValues     []float64      `json:"shap_values,omitempty"`
}

// HistorySource fetches the raw prediction history.
type HistorySource interface {
	History(ctx context.Context) ([]PredictionRecord, error)
}

// Scorer submits a single prescription for scoring.
type Scorer interface {
	Predict(ctx context.Context, req PrescriptionRequest) (*PredictionResult, error)
}

// PredictionService is the full upstream collaborator.
type PredictionService interface {
	HistorySource
	Scorer

	// Ping checks that the service is reachable.
	Ping(ctx context.Context) error
}
