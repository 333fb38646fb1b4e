package aggregate

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

func decodeHistory(t *testing.T, payload string) []domain.PredictionRecord {
	t.Helper()
	var records []domain.PredictionRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	return records
}

func record(med string, score float64, fraud bool, ts string) domain.PredictionRecord {
	return domain.PredictionRecord{
		Patient:    "patient-" + med,
		Provider:   "Dr." + med,
		Medication: med,
		RiskScore:  domain.NumberOf(score),
		Fraud:      fraud,
		Timestamp:  ts,
	}
}

// ignoreTime compares trend points by label and score only.
var ignoreTime = cmpopts.IgnoreFields(domain.TrendPoint{}, "Time")

func TestWorkedExample(t *testing.T) {
	records := decodeHistory(t, `[
		{"DESCRIPTION_med":"A","risk_score":"80","fraud":"True","timestamp":"2024-01-01T10:00:00Z"},
		{"DESCRIPTION_med":"A","risk_score":"20","fraud":false,"timestamp":"2024-01-01T09:00:00Z"}
	]`)

	t.Run("Summary", func(t *testing.T) {
		want := domain.Summary{TotalCount: 2, FraudCount: 1, FraudPercent: 50}
		if diff := cmp.Diff(want, ComputeSummary(records)); diff != "" {
			t.Errorf("summary mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("TopMedications", func(t *testing.T) {
		want := []domain.MedicationCount{{Name: "A", Count: 2}}
		if diff := cmp.Diff(want, TopMedicationCounts(records, 5)); diff != "" {
			t.Errorf("top medications mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("RiskTrend", func(t *testing.T) {
		want := []domain.TrendPoint{
			{Label: "09:00", RiskScore: 20},
			{Label: "10:00", RiskScore: 80},
		}
		if diff := cmp.Diff(want, RecentRiskTrend(records, 20), ignoreTime); diff != "" {
			t.Errorf("trend mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Rows", func(t *testing.T) {
		rows := NormalizeRows(records)
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(rows))
		}
		if rows[0].ID != "RX001" || rows[0].Status != domain.StatusFlagged || rows[0].StarRating != 4 {
			t.Errorf("unexpected first row: %+v", rows[0])
		}
		if rows[1].ID != "RX002" || rows[1].Status != domain.StatusCleared || rows[1].StarRating != 1 {
			t.Errorf("unexpected second row: %+v", rows[1])
		}
	})
}

func TestMalformedRecord(t *testing.T) {
	records := decodeHistory(t, `[{"risk_score":"bad","fraud":"True"}]`)

	want := domain.Summary{TotalCount: 1, FraudCount: 1, FraudPercent: 100}
	if diff := cmp.Diff(want, ComputeSummary(records)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if top := TopMedicationCounts(records, 5); len(top) != 0 {
		t.Errorf("expected no medications, got %v", top)
	}
	if trend := RecentRiskTrend(records, 20); len(trend) != 0 {
		t.Errorf("expected empty trend, got %v", trend)
	}

	rows := NormalizeRows(records)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].StarRating != 0 {
		t.Errorf("expected rating 0, got %d", rows[0].StarRating)
	}
	if rows[0].Status != domain.StatusFlagged {
		t.Errorf("expected Flagged, got %s", rows[0].Status)
	}
}

func TestEmptyInput(t *testing.T) {
	if diff := cmp.Diff(domain.Summary{}, ComputeSummary(nil)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	top := TopMedicationCounts(nil, 5)
	if top == nil || len(top) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", top)
	}
	trend := RecentRiskTrend(nil, 20)
	if trend == nil || len(trend) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", trend)
	}
	rows := NormalizeRows(nil)
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestFraudPercent(t *testing.T) {
	tests := []struct {
		part, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13}, // 12.5 rounds up
		{3, 3, 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.part, tt.total), func(t *testing.T) {
			if got := FraudPercent(tt.part, tt.total); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestTopMedicationCounts(t *testing.T) {
	records := []domain.PredictionRecord{
		record("Zopiclone", 10, false, ""),
		record("Fentanyl", 10, false, ""),
		record("", 10, false, ""),
		record("Fentanyl", 10, false, ""),
		record("Alprazolam", 10, false, ""),
		record("Zopiclone", 10, false, ""),
		record("Morphine", 10, false, ""),
		record("Codeine", 10, false, ""),
		record("Warfarin", 10, false, ""),
		record("Morphine", 10, false, ""),
		record("Morphine", 10, false, ""),
	}

	t.Run("TiesKeepFirstSeenOrder", func(t *testing.T) {
		want := []domain.MedicationCount{
			{Name: "Morphine", Count: 3},
			{Name: "Zopiclone", Count: 2},
			{Name: "Fentanyl", Count: 2},
			{Name: "Alprazolam", Count: 1},
			{Name: "Codeine", Count: 1},
		}
		if diff := cmp.Diff(want, TopMedicationCounts(records, 5)); diff != "" {
			t.Errorf("ranking mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("TopFour", func(t *testing.T) {
		got := TopMedicationCounts(records, 4)
		if len(got) != 4 {
			t.Fatalf("expected 4 entries, got %d", len(got))
		}
		if got[3].Name != "Alprazolam" {
			t.Errorf("expected Alprazolam last, got %s", got[3].Name)
		}
	})

	t.Run("NonIncreasing", func(t *testing.T) {
		got := TopMedicationCounts(records, 100)
		for i := 1; i < len(got); i++ {
			if got[i].Count > got[i-1].Count {
				t.Errorf("entry %d (%v) ranks above %v", i, got[i], got[i-1])
			}
		}
		if len(got) != 6 {
			t.Errorf("expected 6 distinct medications, got %d", len(got))
		}
	})

	t.Run("NonPositiveN", func(t *testing.T) {
		if got := TopMedicationCounts(records, 0); len(got) != 0 {
			t.Errorf("expected empty, got %v", got)
		}
		if got := TopMedicationCounts(records, -3); len(got) != 0 {
			t.Errorf("expected empty, got %v", got)
		}
	})
}

func TestMedicationShares(t *testing.T) {
	top := []domain.MedicationCount{{Name: "A", Count: 3}, {Name: "B", Count: 1}}
	if diff := cmp.Diff([]int{75, 25}, MedicationShares(top, 4)); diff != "" {
		t.Errorf("shares mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0}, MedicationShares(top, 0)); diff != "" {
		t.Errorf("shares mismatch (-want +got):\n%s", diff)
	}
}

func TestRecentRiskTrend(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var records []domain.PredictionRecord
	// 25 records in reverse chronological order.
	for i := 24; i >= 0; i-- {
		ts := base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		records = append(records, record("A", float64(i), false, ts))
	}
	records = append(records,
		record("A", 99, true, "not a timestamp"),
		record("A", 99, true, ""),
	)

	t.Run("LastKAscending", func(t *testing.T) {
		got := RecentRiskTrend(records, 20)
		if len(got) != 20 {
			t.Fatalf("expected 20 points, got %d", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Time.Before(got[i-1].Time) {
				t.Fatalf("trend not ascending at %d", i)
			}
		}
		if got[0].RiskScore != 5 || got[0].Label != "08:05" {
			t.Errorf("unexpected first point: %+v", got[0])
		}
		if got[19].RiskScore != 24 || got[19].Label != "08:24" {
			t.Errorf("unexpected last point: %+v", got[19])
		}
	})

	t.Run("FewerThanK", func(t *testing.T) {
		got := RecentRiskTrend(records[:3], 20)
		if len(got) != 3 {
			t.Fatalf("expected 3 points, got %d", len(got))
		}
		if got[0].RiskScore != 22 {
			t.Errorf("expected oldest first, got %+v", got[0])
		}
	})

	t.Run("SkipsInvalidScore", func(t *testing.T) {
		in := []domain.PredictionRecord{
			{Medication: "A", Timestamp: "2024-01-01T10:00:00Z"},
			record("A", 50, false, "2024-01-01T11:00:00Z"),
		}
		got := RecentRiskTrend(in, 20)
		want := []domain.TrendPoint{{Label: "11:00", RiskScore: 50}}
		if diff := cmp.Diff(want, got, ignoreTime); diff != "" {
			t.Errorf("trend mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("EqualTimestampsKeepInputOrder", func(t *testing.T) {
		in := []domain.PredictionRecord{
			record("A", 1, false, "2024-01-01T10:00:00Z"),
			record("A", 2, false, "2024-01-01T10:00:00Z"),
			record("A", 3, false, "2024-01-01T09:00:00Z"),
		}
		got := RecentRiskTrend(in, 20)
		want := []domain.TrendPoint{
			{Label: "09:00", RiskScore: 3},
			{Label: "10:00", RiskScore: 1},
			{Label: "10:00", RiskScore: 2},
		}
		if diff := cmp.Diff(want, got, ignoreTime); diff != "" {
			t.Errorf("trend mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("NaiveTimestampsAreUTC", func(t *testing.T) {
		in := []domain.PredictionRecord{
			record("A", 10, false, "2025-06-01T14:30:12.123456"),
		}
		got := RecentRiskTrend(in, 20)
		if len(got) != 1 || got[0].Label != "14:30" {
			t.Errorf("unexpected trend: %+v", got)
		}
	})

	t.Run("NonPositiveK", func(t *testing.T) {
		if got := RecentRiskTrend(records, 0); len(got) != 0 {
			t.Errorf("expected empty, got %d points", len(got))
		}
	})
}

func TestStarRating(t *testing.T) {
	tests := []struct {
		name  string
		score domain.Number
		want  int
	}{
		{"invalid", domain.Number{}, 0},
		{"zero", domain.NumberOf(0), 0},
		{"just below half star", domain.NumberOf(9.9), 0},
		{"half star rounds up", domain.NumberOf(10), 1},
		{"middle", domain.NumberOf(50), 3},
		{"high", domain.NumberOf(89), 4},
		{"max", domain.NumberOf(100), 5},
		{"above range", domain.NumberOf(450), 5},
		{"negative", domain.NumberOf(-80), 0},
		{"huge", domain.NumberOf(1e300), 5},
		{"parsed infinity", domain.ParseNumber("Infinity"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StarRating(tt.score); got != tt.want {
				t.Errorf("expected %d stars, got %d", tt.want, got)
			}
		})
	}
}

func TestNormalizeRows(t *testing.T) {
	var records []domain.PredictionRecord
	for i := 0; i < 1001; i++ {
		records = append(records, record("A", float64(i%130)-10, i%2 == 0, ""))
	}

	rows := NormalizeRows(records)
	if len(rows) != len(records) {
		t.Fatalf("expected %d rows, got %d", len(records), len(rows))
	}
	for i, row := range rows {
		if row.StarRating < 0 || row.StarRating > domain.MaxStarRating {
			t.Errorf("row %d rating %d out of range", i, row.StarRating)
		}
		if row.Flagged != records[i].Fraud {
			t.Errorf("row %d flagged mismatch", i)
		}
		if row.Patient != records[i].Patient || row.Doctor != records[i].Provider {
			t.Errorf("row %d did not pass through patient/provider", i)
		}
	}
	if rows[9].ID != "RX010" {
		t.Errorf("expected RX010, got %s", rows[9].ID)
	}
	if rows[1000].ID != "RX1001" {
		t.Errorf("expected RX1001, got %s", rows[1000].ID)
	}
}

func TestMonthlyFraudCount(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	records := []domain.PredictionRecord{
		record("A", 90, true, "2024-05-01T00:00:00Z"),
		record("A", 90, true, "2024-05-31T23:59:00"),
		record("A", 10, false, "2024-05-10T10:00:00Z"),
		record("A", 90, true, "2023-05-10T10:00:00Z"), // same month, other year
		record("A", 90, true, "2024-04-30T23:59:59Z"),
		record("A", 90, true, "2024-06-01T01:00:00+02:00"), // 2024-05-31 23:00 UTC
		record("A", 90, true, "garbage"),
	}
	if got := MonthlyFraudCount(records, now); got != 3 {
		t.Errorf("expected 3 monthly fraud cases, got %d", got)
	}
}

func TestBuild(t *testing.T) {
	records := []domain.PredictionRecord{
		record("A", 80, true, "2024-01-01T10:00:00Z"),
		record("B", 20, false, "2024-01-01T09:00:00Z"),
		record("B", 40, true, "2024-01-02T09:00:00Z"),
	}

	opts := Options{TopN: 1, TrendSize: 2, Now: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}
	vm := Build(records, opts)

	if vm.Summary.TotalCount != 3 || vm.Summary.FraudCount != 2 || vm.Summary.FraudPercent != 67 {
		t.Errorf("unexpected summary: %+v", vm.Summary)
	}
	if diff := cmp.Diff([]domain.MedicationCount{{Name: "B", Count: 2}}, vm.TopMedications); diff != "" {
		t.Errorf("top medications mismatch (-want +got):\n%s", diff)
	}
	if len(vm.RiskTrend) != 2 || vm.RiskTrend[1].RiskScore != 40 {
		t.Errorf("unexpected trend: %+v", vm.RiskTrend)
	}
	if len(vm.Rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(vm.Rows))
	}
	if vm.MonthlyFraud != 2 {
		t.Errorf("expected 2 monthly fraud, got %d", vm.MonthlyFraud)
	}

	if zero := Build(records, Options{TopN: 1, TrendSize: 2}); zero.MonthlyFraud != 0 {
		t.Errorf("zero Now should disable monthly count, got %d", zero.MonthlyFraud)
	}
}

func TestPureAndIdempotent(t *testing.T) {
	records := decodeHistory(t, `[
		{"PATIENT_med":"p1","PROVIDER":"d1","DESCRIPTION_med":"B","risk_score":55,"fraud":true,"timestamp":"2024-01-01T12:00:00Z"},
		{"PATIENT_med":"p2","PROVIDER":"d2","DESCRIPTION_med":"A","risk_score":"12","fraud":"False","timestamp":"2024-01-01T08:00:00Z"},
		{"PATIENT_med":"p3","PROVIDER":"d3","DESCRIPTION_med":"A","risk_score":"x","fraud":"true","timestamp":"2024-01-01T08:00:00Z"},
		{"PATIENT_med":"p4","DESCRIPTION_med":"B","risk_score":"101","fraud":"True","timestamp":"2024-01-01T09:30:00Z"}
	]`)
	snapshot := make([]domain.PredictionRecord, len(records))
	copy(snapshot, records)

	opts := DefaultOptions(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	first := Build(records, opts)
	second := Build(records, opts)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Build differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(snapshot, records, cmp.AllowUnexported(domain.Number{})); diff != "" {
		t.Errorf("input was mutated (-before +after):\n%s", diff)
	}

	// "true" (lowercase) is not fraud upstream.
	if first.Summary.FraudCount != 2 {
		t.Errorf("expected 2 fraud records, got %d", first.Summary.FraudCount)
	}
	if first.Summary.FraudCount > first.Summary.TotalCount || first.Summary.FraudPercent > 100 {
		t.Errorf("summary out of bounds: %+v", first.Summary)
	}
}
