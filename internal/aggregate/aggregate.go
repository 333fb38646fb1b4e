// Package aggregate derives dashboard view models from prediction history.
//
// Every function is pure: it never mutates its input, never returns an
// error, and yields identical output for identical input. Records that lack
// a field a view needs are left out of that view only.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// Default view sizes used by the dashboard page.
const (
	DefaultTopN      = 5
	DefaultTrendSize = 20
)

// TrendLabelLayout formats trend labels as hour:minute.
const TrendLabelLayout = "15:04"

// Options sizes the derived views.
type Options struct {
	TopN      int
	TrendSize int

	// Now anchors the monthly fraud count. Zero disables it.
	Now time.Time
}

// DefaultOptions returns dashboard-sized options anchored at now.
func DefaultOptions(now time.Time) Options {
	return Options{
		TopN:      DefaultTopN,
		TrendSize: DefaultTrendSize,
		Now:       now,
	}
}

// Build computes the full view model for records.
func Build(records []domain.PredictionRecord, opts Options) domain.ViewModel {
	vm := domain.ViewModel{
		Summary:        ComputeSummary(records),
		TopMedications: TopMedicationCounts(records, opts.TopN),
		RiskTrend:      RecentRiskTrend(records, opts.TrendSize),
		Rows:           NormalizeRows(records),
	}
	if !opts.Now.IsZero() {
		vm.MonthlyFraud = MonthlyFraudCount(records, opts.Now)
	}
	return vm
}

// ComputeSummary counts records and fraud records.
func ComputeSummary(records []domain.PredictionRecord) domain.Summary {
	fraud := 0
	for _, r := range records {
		if r.Fraud {
			fraud++
		}
	}
	return domain.Summary{
		TotalCount:   len(records),
		FraudCount:   fraud,
		FraudPercent: FraudPercent(fraud, len(records)),
	}
}

// FraudPercent returns part/total as a whole percentage in [0,100].
// It is 0 when total is 0.
func FraudPercent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return clamp(int(roundHalfUp(float64(part)/float64(total)*100)), 0, 100)
}

// TopMedicationCounts ranks medications by how many records name them.
// Records without a medication are not counted. Ties keep the order in which
// names were first seen. At most n entries are returned.
func TopMedicationCounts(records []domain.PredictionRecord, n int) []domain.MedicationCount {
	if n <= 0 {
		return []domain.MedicationCount{}
	}

	index := make(map[string]int)
	counts := make([]domain.MedicationCount, 0)
	for _, r := range records {
		if r.Medication == "" {
			continue
		}
		if i, ok := index[r.Medication]; ok {
			counts[i].Count++
			continue
		}
		index[r.Medication] = len(counts)
		counts = append(counts, domain.MedicationCount{Name: r.Medication, Count: 1})
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})

	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

// MedicationShares returns each entry's count as a whole percentage of total.
func MedicationShares(top []domain.MedicationCount, total int) []int {
	shares := make([]int, len(top))
	for i, m := range top {
		shares[i] = FraudPercent(m.Count, total)
	}
	return shares
}

// RecentRiskTrend returns the k most recent records as trend points in
// ascending time order. Records with an unparsable timestamp or a
// non-numeric risk score are skipped. Equal timestamps keep input order.
func RecentRiskTrend(records []domain.PredictionRecord, k int) []domain.TrendPoint {
	if k <= 0 {
		return []domain.TrendPoint{}
	}

	points := make([]domain.TrendPoint, 0, len(records))
	for _, r := range records {
		t, ok := r.Time()
		if !ok || !r.RiskScore.Valid() {
			continue
		}
		points = append(points, domain.TrendPoint{
			Label:     t.Format(TrendLabelLayout),
			RiskScore: r.RiskScore.Float(),
			Time:      t,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time.Before(points[j].Time)
	})

	if len(points) > k {
		recent := make([]domain.TrendPoint, k)
		copy(recent, points[len(points)-k:])
		return recent
	}
	return points
}

// NormalizeRows maps each record to a display row, preserving order.
func NormalizeRows(records []domain.PredictionRecord) []domain.DisplayRow {
	rows := make([]domain.DisplayRow, len(records))
	for i, r := range records {
		status := domain.StatusCleared
		if r.Fraud {
			status = domain.StatusFlagged
		}
		rows[i] = domain.DisplayRow{
			ID:         RowID(i),
			Patient:    r.Patient,
			Status:     status,
			StarRating: StarRating(r.RiskScore),
			Doctor:     r.Provider,
			Flagged:    r.Fraud,
		}
	}
	return rows
}

// RowID returns the display id of the i-th row (zero based): RX001, RX002, ...
func RowID(i int) string {
	return fmt.Sprintf("RX%03d", i+1)
}

// StarRating buckets a risk score into 0-5 stars. Invalid scores rate 0 and
// out-of-range scores are clamped.
func StarRating(score domain.Number) int {
	stars := roundHalfUp(score.Float() / 20)
	if stars <= 0 {
		return 0
	}
	if stars >= domain.MaxStarRating {
		return domain.MaxStarRating
	}
	return int(stars)
}

// MonthlyFraudCount counts fraud records dated in the same UTC calendar
// month as now. Records without a usable timestamp are skipped.
func MonthlyFraudCount(records []domain.PredictionRecord, now time.Time) int {
	now = now.UTC()
	count := 0
	for _, r := range records {
		if !r.Fraud {
			continue
		}
		t, ok := r.Time()
		if !ok {
			continue
		}
		t = t.UTC()
		if t.Year() == now.Year() && t.Month() == now.Month() {
			count++
		}
	}
	return count
}

// roundHalfUp rounds .5 towards positive infinity.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
