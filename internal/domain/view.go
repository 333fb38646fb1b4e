package domain

import "time"

// Summary holds the KPI counts of a history.
type Summary struct {
	TotalCount   int `json:"totalCount"`
	FraudCount   int `json:"fraudCount"`
	FraudPercent int `json:"fraudPercent"` // 0-100
}

// MedicationCount is one entry of a medication frequency ranking.
type MedicationCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TrendPoint is one point of the risk score trend.
type TrendPoint struct {
	Label     string    `json:"label"` // HH:MM
	RiskScore float64   `json:"riskScore"`
	Time      time.Time `json:"time"`
}

// DisplayRow is a normalized table row for one prediction record.
type DisplayRow struct {
	ID         string `json:"id"` // RX001, RX002, ...
	Patient    string `json:"patient"`
	Status     string `json:"status"`
	StarRating int    `json:"starRating"` // 0-5
	Doctor     string `json:"doctor"`
	Flagged    bool   `json:"flagged"`
}

// Row statuses.
const (
	StatusFlagged = "Flagged"
	StatusCleared = "Cleared"
)

// MaxStarRating is the upper bound of DisplayRow.StarRating.
const MaxStarRating = 5

// ViewModel is everything derived from one fetched history.
// It is recomputed from scratch on every fetch.
type ViewModel struct {
	Summary        Summary           `json:"summary"`
	MonthlyFraud   int               `json:"monthlyFraud"`
	TopMedications []MedicationCount `json:"topMedications"`
	RiskTrend      []TrendPoint      `json:"riskTrend"`
	Rows           []DisplayRow      `json:"rows"`
}
