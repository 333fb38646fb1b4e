// Package prescription holds the new-prescription form and submits it to
// the prediction service for scoring.
package prescription

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// Ethnicity is fixed; the form never asks for it.
const Ethnicity = "unknown"

// Age bounds accepted by the form.
const (
	MinAge = 0
	MaxAge = 100
)

// Accepted select values.
var (
	EncounterClasses = []string{"inpatient", "outpatient", "emergency"}
	Genders          = []string{"M", "F", "Other"}
	MaritalStatuses  = []string{"M", "S"}
)

// Form is the editable state of a new prescription.
type Form struct {
	Patient        string  `json:"patient"`
	Medication     string  `json:"medication"`
	EncounterClass string  `json:"encounterClass"`
	Dispenses      int     `json:"dispenses"`
	BaseCost       float64 `json:"baseCost"`
	Age            int     `json:"age"`
	Gender         string  `json:"gender"`
	Marital        string  `json:"marital"`
	State          string  `json:"state"`
	Provider       string  `json:"provider"`
	Organization   string  `json:"organization"`
}

// DefaultForm returns the form as first shown to the user.
func DefaultForm() Form {
	return Form{
		Patient:        "demo_patient_01",
		Medication:     "Oxycodone Hydrochloride 10 MG",
		EncounterClass: "inpatient",
		Dispenses:      1,
		BaseCost:       0,
		Age:            45,
		Gender:         "M",
		Marital:        "M",
		State:          "Massachusetts",
		Provider:       "Dr.ABC",
		Organization:   "City Health",
	}
}

// StepDispenses adds delta to the dispense count, never going below zero.
func (f *Form) StepDispenses(delta int) {
	f.Dispenses = max(f.Dispenses+delta, 0)
}

// TotalCost is dispenses times base cost, rounded to cents.
func (f Form) TotalCost() float64 {
	return math.Round(float64(f.Dispenses)*f.BaseCost*100) / 100
}

// FieldErrors maps form field names to validation messages.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + fe[field]
	}
	return "invalid prescription: " + strings.Join(parts, "; ")
}

// Validate checks every field and returns FieldErrors, or nil.
func (f Form) Validate() error {
	errs := FieldErrors{}

	required := map[string]string{
		"patient":      f.Patient,
		"medication":   f.Medication,
		"state":        f.State,
		"provider":     f.Provider,
		"organization": f.Organization,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			errs[field] = "is required"
		}
	}

	if !slices.Contains(EncounterClasses, f.EncounterClass) {
		errs["encounterClass"] = fmt.Sprintf("must be one of %s", strings.Join(EncounterClasses, ", "))
	}
	if !slices.Contains(Genders, f.Gender) {
		errs["gender"] = fmt.Sprintf("must be one of %s", strings.Join(Genders, ", "))
	}
	if !slices.Contains(MaritalStatuses, f.Marital) {
		errs["marital"] = fmt.Sprintf("must be one of %s", strings.Join(MaritalStatuses, ", "))
	}
	if f.Dispenses < 0 {
		errs["dispenses"] = "must not be negative"
	}
	if math.IsNaN(f.BaseCost) || math.IsInf(f.BaseCost, 0) || f.BaseCost < 0 {
		errs["baseCost"] = "must be a non-negative number"
	}
	if f.Age < MinAge || f.Age > MaxAge {
		errs["age"] = fmt.Sprintf("must be between %d and %d", MinAge, MaxAge)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Request builds the prediction service payload.
func (f Form) Request() domain.PrescriptionRequest {
	return domain.PrescriptionRequest{
		Medication:     strings.TrimSpace(f.Medication),
		EncounterClass: f.EncounterClass,
		Provider:       strings.TrimSpace(f.Provider),
		Organization:   strings.TrimSpace(f.Organization),
		Gender:         f.Gender,
		Ethnicity:      Ethnicity,
		Marital:        f.Marital,
		State:          strings.TrimSpace(f.State),
		Age:            f.Age,
		Dispenses:      float64(f.Dispenses),
		BaseCost:       f.BaseCost,
		TotalCost:      f.TotalCost(),
		Patient:        strings.TrimSpace(f.Patient),
	}
}
