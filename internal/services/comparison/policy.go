package comparison

import (
	"fmt"
	"strings"

	"payroll-closing-backend/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultTolerance is the absolute difference under which two amounts are equal.
var DefaultTolerance = decimal.NewFromFloat(0.01)

// Policy decides which one-sided findings are business-meaningful for a
// source pair. A is always the first source of the pair.
type Policy struct {
	IgnoreEmployeeOnlyInA bool            `mapstructure:"ignore_employee_only_in_a" json:"ignore_employee_only_in_a"`
	IgnoreEmployeeOnlyInB bool            `mapstructure:"ignore_employee_only_in_b" json:"ignore_employee_only_in_b"`
	IgnoreConceptOnlyInA  bool            `mapstructure:"ignore_concept_only_in_a" json:"ignore_concept_only_in_a"`
	IgnoreConceptOnlyInB  bool            `mapstructure:"ignore_concept_only_in_b" json:"ignore_concept_only_in_b"`
	CompareNames          bool            `mapstructure:"compare_names" json:"compare_names"`
	Tolerance             decimal.Decimal `mapstructure:"-" json:"-"`
}

func (p Policy) tolerance() decimal.Decimal {
	if p.Tolerance.IsZero() {
		return DefaultTolerance
	}
	return p.Tolerance.Abs()
}

// Strict reports every finding in both directions.
func Strict() Policy {
	return Policy{CompareNames: true}
}

// PairKey identifies a policy by its ordered source pair.
func PairKey(a, b models.SourceTag) string {
	return fmt.Sprintf("%s|%s", a, b)
}

// Policies resolves the policy for an ordered source pair.
type Policies map[string]Policy

// For returns the policy registered for (a, b). A policy registered for the
// reversed pair is mirrored; unknown pairs get Strict.
func (ps Policies) For(a, b models.SourceTag) Policy {
	if p, ok := ps[PairKey(a, b)]; ok {
		return p
	}
	if p, ok := ps[PairKey(b, a)]; ok {
		return p.Mirror()
	}
	return Strict()
}

// Mirror swaps the A and B sides of p.
func (p Policy) Mirror() Policy {
	p.IgnoreEmployeeOnlyInA, p.IgnoreEmployeeOnlyInB = p.IgnoreEmployeeOnlyInB, p.IgnoreEmployeeOnlyInA
	p.IgnoreConceptOnlyInA, p.IgnoreConceptOnlyInB = p.IgnoreConceptOnlyInB, p.IgnoreConceptOnlyInA
	return p
}

// DefaultPolicies encode the subset rules between the ledger and the other
// sources: every other source must be a subset of the ledger's universe, the
// ledger may carry employees and concepts the others never mention.
func DefaultPolicies() Policies {
	subsetOfLedger := Policy{
		IgnoreEmployeeOnlyInA: true,
		IgnoreConceptOnlyInA:  true,
		CompareNames:          true,
	}
	presenceOnly := Policy{
		IgnoreEmployeeOnlyInA: true,
		IgnoreConceptOnlyInA:  true,
		IgnoreConceptOnlyInB:  true,
		CompareNames:          true,
	}
	return Policies{
		PairKey(models.SourceLedger, models.SourceNovelties):    subsetOfLedger,
		PairKey(models.SourceLedger, models.SourceMovements):    presenceOnly,
		PairKey(models.SourceLedger, models.SourceHires):        presenceOnly,
		PairKey(models.SourceLedger, models.SourceTerminations): presenceOnly,
		PairKey(models.SourceLedger, models.SourceAbsences):     presenceOnly,
		PairKey(models.SourceMovements, models.SourceHires):     {CompareNames: true, IgnoreConceptOnlyInA: true, IgnoreConceptOnlyInB: true, IgnoreEmployeeOnlyInA: true},
	}
}

// Merge overlays other on ps; keys may be written "a|b" in any case.
func (ps Policies) Merge(other map[string]Policy) Policies {
	out := Policies{}
	for k, v := range ps {
		out[k] = v
	}
	for k, v := range other {
		out[strings.ToLower(k)] = v
	}
	return out
}
