// Package domain defines the core types shared across rxwatch.
package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// PredictionRecord is one historical scoring result as returned by
// GET /predict/history.
//
// The prediction service persists its history as CSV, so most values arrive
// as strings and some arrive as native JSON types depending on how the row
// was produced. Decoding is lenient: a field of the wrong shape is left at
// its zero value instead of failing the whole history.
type PredictionRecord struct {
	Patient    string `json:"PATIENT_med"`
	Provider   string `json:"PROVIDER"`
	Medication string `json:"DESCRIPTION_med"`
	RiskScore  Number `json:"risk_score"`
	Fraud      bool   `json:"fraud"`
	Timestamp  string `json:"timestamp"`

	// Pass-through fields, not used by aggregation.
	EncounterClass string `json:"ENCOUNTERCLASS,omitempty"`
	Organization   string `json:"ORGANIZATION,omitempty"`
	Gender         string `json:"GENDER,omitempty"`
	Ethnicity      string `json:"ETHNICITY,omitempty"`
	Marital        string `json:"MARITAL,omitempty"`
	State          string `json:"STATE,omitempty"`
	Age            Number `json:"AGE"`
	Dispenses      Number `json:"DISPENSES"`
	BaseCost       Number `json:"BASE_COST"`
	TotalCost      Number `json:"TOTALCOST"`
	MedicationRisk string `json:"medication_risk,omitempty"`
	UsedModel      string `json:"used_model,omitempty"`
}

// UnmarshalJSON decodes a record field by field so that one malformed value
// never rejects the record, and one malformed record never rejects the batch.
func (r *PredictionRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// Not an object (null, number, ...): keep an empty record.
		*r = PredictionRecord{}
		return nil
	}

	rec := PredictionRecord{
		Patient:        looseString(fields["PATIENT_med"]),
		Provider:       looseString(fields["PROVIDER"]),
		Medication:     looseString(fields["DESCRIPTION_med"]),
		RiskScore:      looseNumber(fields["risk_score"]),
		Fraud:          IsFraud(looseValue(fields["fraud"])),
		Timestamp:      looseString(fields["timestamp"]),
		EncounterClass: looseString(fields["ENCOUNTERCLASS"]),
		Organization:   looseString(fields["ORGANIZATION"]),
		Gender:         looseString(fields["GENDER"]),
		Ethnicity:      looseString(fields["ETHNICITY"]),
		Marital:        looseString(fields["MARITAL"]),
		State:          looseString(fields["STATE"]),
		Age:            looseNumber(fields["AGE"]),
		Dispenses:      looseNumber(fields["DISPENSES"]),
		BaseCost:       looseNumber(fields["BASE_COST"]),
		TotalCost:      looseNumber(fields["TOTALCOST"]),
		MedicationRisk: looseString(fields["medication_risk"]),
		UsedModel:      looseString(fields["used_model"]),
	}
	*r = rec
	return nil
}

// Time parses the record timestamp. ok is false when it is missing or
// unparsable.
func (r PredictionRecord) Time() (t time.Time, ok bool) {
	return ParseTimestamp(r.Timestamp)
}

// IsFraud normalizes the upstream fraud flag. Only boolean true and the exact
// string "True" count as fraud; every other value, including "true", does not.
func IsFraud(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "True"
	default:
		return false
	}
}

// Timestamp layouts accepted from upstream, tried in order. The prediction
// service writes naive ISO-8601 in UTC (datetime.utcnow().isoformat()).
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an upstream timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Number is a numeric field that upstream may send as a JSON number or as a
// numeric string. The zero value is an invalid (missing) number.
type Number struct {
	value float64
	valid bool
}

// NumberOf returns a valid Number. NaN and infinities are invalid.
func NumberOf(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}
	}
	return Number{value: v, valid: true}
}

// ParseNumber parses s as a float. Unparsable input yields an invalid Number.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}
	}
	return NumberOf(v)
}

// Float returns the value, or 0 when the number is invalid.
func (n Number) Float() float64 {
	if !n.valid {
		return 0
	}
	return n.value
}

// Valid reports whether the number was present and numeric.
func (n Number) Valid() bool {
	return n.valid
}

// MarshalJSON encodes invalid numbers as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.value)
}

// UnmarshalJSON never fails; anything that is not a number or numeric string
// leaves the Number invalid.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = looseNumber(data)
	return nil
}

func looseNumber(raw json.RawMessage) Number {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Number{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Number{}
		}
		return ParseNumber(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return ParseNumber(string(raw))
	default:
		return Number{}
	}
}

func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw)
	default:
		return ""
	}
}

func looseValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
