package comparison

import (
	"fmt"
	"sort"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"

	"github.com/shopspring/decimal"
)

// Side is one named set of records for the same period.
type Side struct {
	Source  models.SourceTag
	Records []models.SourceEmployeeRecord
}

// Result is the full discrepancy set of a run plus non-fatal warnings.
type Result struct {
	Discrepancies []models.Discrepancy
	Warnings      []string
}

type employee struct {
	id     string
	raw    string
	name   string
	fields map[string]field // by normalized concept
}

type field struct {
	concept string
	value   models.Value
}

// Compare classifies every employee of a and b and diffs the concepts of the
// employees present on both sides. The returned discrepancies are not yet
// bound to a period.
func Compare(a, b Side, policy Policy) Result {
	var res Result

	left := index(a, &res)
	right := index(b, &res)

	ids := make([]string, 0, len(left)+len(right))
	for id := range left {
		ids = append(ids, id)
	}
	for id := range right {
		if _, ok := left[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		l, inLeft := left[id]
		r, inRight := right[id]

		switch {
		case inLeft && !inRight:
			if !policy.IgnoreEmployeeOnlyInA {
				res.Discrepancies = append(res.Discrepancies, newDiscrepancy(a, b, models.DiscrepancyEmployeeOnlyInA, l,
					fmt.Sprintf("Empleado %s (%s) presente en %s y ausente en %s", l.raw, l.name, a.Source, b.Source),
					l.name, ""))
			}
		case !inLeft && inRight:
			if !policy.IgnoreEmployeeOnlyInB {
				res.Discrepancies = append(res.Discrepancies, newDiscrepancy(a, b, models.DiscrepancyEmployeeOnlyInB, r,
					fmt.Sprintf("Empleado %s (%s) presente en %s y ausente en %s", r.raw, r.name, b.Source, a.Source),
					"", r.name))
			}
		default:
			res.Discrepancies = append(res.Discrepancies, compareEmployee(a, b, l, r, policy)...)
		}
	}

	return res
}

func compareEmployee(a, b Side, l, r *employee, policy Policy) []models.Discrepancy {
	var out []models.Discrepancy

	if policy.CompareNames && l.name != "" && r.name != "" && !normalize.TextsEqual(l.name, r.name) {
		out = append(out, newDiscrepancy(a, b, models.DiscrepancyPersonalDataMismatch, l,
			fmt.Sprintf("Nombre distinto para %s: %q en %s, %q en %s", l.raw, l.name, a.Source, r.name, b.Source),
			l.name, r.name))
	}

	concepts := make([]string, 0, len(l.fields)+len(r.fields))
	for k := range l.fields {
		concepts = append(concepts, k)
	}
	for k := range r.fields {
		if _, ok := l.fields[k]; !ok {
			concepts = append(concepts, k)
		}
	}
	sort.Strings(concepts)

	tol := policy.tolerance()
	for _, key := range concepts {
		lf, inLeft := l.fields[key]
		rf, inRight := r.fields[key]

		switch {
		case inLeft && !inRight:
			if policy.IgnoreConceptOnlyInA {
				continue
			}
			d := newDiscrepancy(a, b, models.DiscrepancyConceptOnlyInA, l,
				fmt.Sprintf("Concepto %q de %s presente en %s y ausente en %s", lf.concept, l.raw, a.Source, b.Source),
				lf.value.String(), "")
			d.ConceptName = conceptPtr(lf.concept)
			out = append(out, d)
		case !inLeft && inRight:
			if policy.IgnoreConceptOnlyInB {
				continue
			}
			d := newDiscrepancy(a, b, models.DiscrepancyConceptOnlyInB, l,
				fmt.Sprintf("Concepto %q de %s presente en %s y ausente en %s", rf.concept, l.raw, b.Source, a.Source),
				"", rf.value.String())
			d.ConceptName = conceptPtr(rf.concept)
			out = append(out, d)
		default:
			if valuesEqual(lf.value, rf.value, tol) {
				continue
			}
			d := newDiscrepancy(a, b, models.DiscrepancyConceptValueMismatch, l,
				fmt.Sprintf("Concepto %q de %s difiere: %s en %s, %s en %s", lf.concept, l.raw, lf.value, a.Source, rf.value, b.Source),
				lf.value.String(), rf.value.String())
			d.ConceptName = conceptPtr(lf.concept)
			out = append(out, d)
		}
	}
	return out
}

// valuesEqual compares numerically within tol when both sides read as numbers
// and as normalized text otherwise.
func valuesEqual(l, r models.Value, tol decimal.Decimal) bool {
	if l.IsEmpty() && r.IsEmpty() {
		return true
	}
	ld, lok := l.Decimal()
	rd, rok := r.Decimal()
	if lok && rok {
		return ld.Sub(rd).Abs().LessThanOrEqual(tol)
	}
	return normalize.TextsEqual(l.String(), r.String())
}

// index keys a side by normalized identifier. Invalid identifiers are
// dropped; repeated identifiers are merged, summing numeric concepts.
func index(side Side, res *Result) map[string]*employee {
	out := make(map[string]*employee, len(side.Records))
	for _, rec := range side.Records {
		if !normalize.ValidIdentifier(rec.RawIdentifier) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: fila con identificador no válido %q descartada", side.Source, rec.RawIdentifier))
			continue
		}
		id := normalize.ID(rec.RawIdentifier)
		emp, seen := out[id]
		if !seen {
			emp = &employee{id: id, raw: rec.RawIdentifier, name: rec.DisplayName, fields: map[string]field{}}
			out[id] = emp
		} else {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: identificador %s repetido, conceptos consolidados", side.Source, rec.RawIdentifier))
			if emp.name == "" {
				emp.name = rec.DisplayName
			}
		}
		for _, concept := range rec.Fields.Keys() {
			v := rec.Fields[concept]
			if v.IsEmpty() {
				continue
			}
			key := normalize.Text(concept)
			if key == "" {
				continue
			}
			prev, dup := emp.fields[key]
			if dup {
				pd, pok := prev.value.Decimal()
				vd, vok := v.Decimal()
				if pok && vok {
					v = models.Number(pd.Add(vd))
				}
			}
			emp.fields[key] = field{concept: concept, value: v}
		}
	}
	return out
}

func newDiscrepancy(a, b Side, kind models.DiscrepancyKind, emp *employee, description, left, right string) models.Discrepancy {
	return models.Discrepancy{
		Kind:               kind,
		SourceA:            a.Source,
		SourceB:            b.Source,
		EmployeeIdentifier: emp.id,
		DisplayName:        emp.name,
		Description:        description,
		LeftValue:          left,
		RightValue:         right,
	}
}

func conceptPtr(s string) *string {
	return &s
}
