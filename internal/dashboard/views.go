package dashboard

import (
	"fmt"
	"time"

	"github.com/opensource-finance/rxwatch/internal/aggregate"
	"github.com/opensource-finance/rxwatch/internal/domain"
)

// MedicationPalette colors medication slices in rank order.
var MedicationPalette = []string{"#fbbf24", "#60a5fa", "#34d399", "#f472b6", "#a78bfa"}

// Donut colors.
const (
	colorFraud = "#dc2626"
	colorRisk  = "#0ea5e9"
	colorTotal = "#2dd4bf"
	colorRest  = "#e5e7eb"
)

// KPI labels of the overview page.
const (
	KPITotalFraud    = "Total Fraud Cases"
	KPIMonthlyFraud  = "Monthly Fraud Increase"
	KPIDetectionRate = "Fraud Detection Rate"
)

// Donut is a two-slice percentage chart.
type Donut struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
	Colors []string `json:"colors"`
}

// MedicationSlice is one ranked medication with its display color.
type MedicationSlice struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Share int    `json:"share"` // percent of all records
	Color string `json:"color"`
}

// Status is embedded in every view to report whether history was available.
type Status struct {
	Filter      string    `json:"filter,omitempty"`
	Degraded    bool      `json:"degraded"`
	Error       string    `json:"error,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// DashboardView feeds the main dashboard page.
type DashboardView struct {
	Status
	Summary     domain.Summary      `json:"summary"`
	FraudDonut  Donut               `json:"fraudDonut"`
	RiskDonut   Donut               `json:"riskDonut"`
	TotalDonut  Donut               `json:"totalDonut"`
	Medications []MedicationSlice   `json:"medications"`
	RiskTrend   []domain.TrendPoint `json:"riskTrend"`
	Rows        []domain.DisplayRow `json:"rows"`
}

// KPI is one headline card of the overview page.
type KPI struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Percent int    `json:"percent"`
}

// OverviewView feeds the landing page.
type OverviewView struct {
	Status
	KPIs        []KPI               `json:"kpis"`
	Medications []MedicationSlice   `json:"medications"`
	Rows        []domain.DisplayRow `json:"rows"`
}

// RowsView is the flagged-patient table on its own.
type RowsView struct {
	Status
	Total int                 `json:"total"`
	Rows  []domain.DisplayRow `json:"rows"`
}

func newDashboardView(vm domain.ViewModel, status Status) *DashboardView {
	pct := vm.Summary.FraudPercent
	return &DashboardView{
		Status:      status,
		Summary:     vm.Summary,
		FraudDonut:  percentDonut("Fraud", pct, colorFraud),
		RiskDonut:   percentDonut("Risk", pct, colorRisk),
		TotalDonut:  Donut{Labels: []string{"Total"}, Values: []int{100, 0}, Colors: []string{colorTotal, colorRest}},
		Medications: medicationSlices(vm.TopMedications, vm.Summary.TotalCount),
		RiskTrend:   nonNilTrend(vm.RiskTrend),
		Rows:        nonNilRows(vm.Rows),
	}
}

func newOverviewView(vm domain.ViewModel, status Status) *OverviewView {
	s := vm.Summary
	return &OverviewView{
		Status: status,
		KPIs: []KPI{
			{Label: KPITotalFraud, Value: fmt.Sprint(s.FraudCount), Percent: s.FraudPercent},
			{Label: KPIMonthlyFraud, Value: fmt.Sprint(vm.MonthlyFraud), Percent: aggregate.FraudPercent(vm.MonthlyFraud, s.TotalCount)},
			{Label: KPIDetectionRate, Value: fmt.Sprintf("%d%%", s.FraudPercent), Percent: s.FraudPercent},
		},
		Medications: medicationSlices(vm.TopMedications, s.TotalCount),
		Rows:        nonNilRows(vm.Rows),
	}
}

func percentDonut(label string, pct int, color string) Donut {
	return Donut{
		Labels: []string{label, "Other"},
		Values: []int{pct, 100 - pct},
		Colors: []string{color, colorRest},
	}
}

func medicationSlices(top []domain.MedicationCount, total int) []MedicationSlice {
	shares := aggregate.MedicationShares(top, total)
	slices := make([]MedicationSlice, len(top))
	for i, m := range top {
		slices[i] = MedicationSlice{
			Name:  m.Name,
			Count: m.Count,
			Share: shares[i],
			Color: MedicationPalette[i%len(MedicationPalette)],
		}
	}
	return slices
}

func nonNilTrend(points []domain.TrendPoint) []domain.TrendPoint {
	if points == nil {
		return []domain.TrendPoint{}
	}
	return points
}

func nonNilRows(rows []domain.DisplayRow) []domain.DisplayRow {
	if rows == nil {
		return []domain.DisplayRow{}
	}
	return rows
}
