// Package filter narrows prediction history with CEL expressions before it
// is aggregated, e.g. `fraud && risk_score >= 60`.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// MaxExpressionLength bounds user supplied expressions.
const MaxExpressionLength = 1024

// ErrInvalidFilter is returned for expressions that do not compile to a
// boolean program.
var ErrInvalidFilter = errors.New("invalid filter expression")

// Compiler compiles filter expressions against the record variables.
// A Compiler is safe for concurrent use.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates the CEL environment. Available variables:
//
//	patient, provider, medication, timestamp  string
//	risk_score                                double (0 when not numeric)
//	risk_valid, fraud                         bool
//
// Numeric comparisons accept int literals, so `risk_score >= 60` works.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("patient", cel.StringType),
		cel.Variable("provider", cel.StringType),
		cel.Variable("medication", cel.StringType),
		cel.Variable("timestamp", cel.StringType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("risk_valid", cel.BoolType),
		cel.Variable("fraud", cel.BoolType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile turns expr into a Filter. An empty expression matches everything.
func (c *Compiler) Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}
	if len(expr) > MaxExpressionLength {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidFilter, MaxExpressionLength)
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidFilter, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return &Filter{expr: expr, program: program}, nil
}

// Filter is a compiled record predicate.
type Filter struct {
	expr    string
	program cel.Program
}

// Expression returns the source expression, empty for the match-all filter.
func (f *Filter) Expression() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether r satisfies the filter. Evaluation errors count as a
// non-match.
func (f *Filter) Match(r domain.PredictionRecord) bool {
	if f == nil || f.program == nil {
		return true
	}
	out, _, err := f.program.Eval(activation(r))
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// Apply returns the matching records in input order. records is not modified.
func (f *Filter) Apply(records []domain.PredictionRecord) []domain.PredictionRecord {
	if f == nil || f.program == nil {
		return records
	}
	out := make([]domain.PredictionRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func activation(r domain.PredictionRecord) map[string]any {
	return map[string]any{
		"patient":    r.Patient,
		"provider":   r.Provider,
		"medication": r.Medication,
		"timestamp":  r.Timestamp,
		"risk_score": r.RiskScore.Float(),
		"risk_valid": r.RiskScore.Valid(),
		"fraud":      r.Fraud,
	}
}
