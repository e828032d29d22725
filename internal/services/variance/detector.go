// Package variance compares a period's concept totals against the previous
// finalized period and decides which differences are material.
package variance

import (
	"fmt"
	"sort"
	"strings"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"

	"github.com/shopspring/decimal"
)

// DefaultThreshold is the materiality threshold in percent.
var DefaultThreshold = decimal.NewFromInt(30)

var hundred = decimal.NewFromInt(100)

// Key identifies a concept total: lower-cased category and concept name.
type Key struct {
	Category string
	Concept  string
	Employee string
}

func (k Key) String() string {
	if k.Employee != "" {
		return k.Employee + "/" + k.Category + "/" + k.Concept
	}
	return k.Category + "/" + k.Concept
}

// Total is the consolidated amount of one key with its display labels.
type Total struct {
	ConceptName string
	Category    string
	Employee    string
	Amount      decimal.Decimal
}

type Totals map[Key]Total

// Catalog maps a normalized concept name to its category.
type Catalog map[string]string

// NewCatalog builds a Catalog from stored classifications.
func NewCatalog(cs []models.ConceptClassification) Catalog {
	out := make(Catalog, len(cs))
	for _, c := range cs {
		out[normalize.Text(c.ConceptName)] = c.Category
	}
	return out
}

func (c Catalog) CategoryOf(concept string) string {
	if cat, ok := c[normalize.Text(concept)]; ok && cat != "" {
		return cat
	}
	return models.CategoryUnclassified
}

// CategorySet is a case-insensitive set of category names.
type CategorySet map[string]struct{}

func NewCategorySet(names ...string) CategorySet {
	out := make(CategorySet, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func (s CategorySet) Has(category string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(category))]
	return ok
}

// Aggregate sums every numeric concept of records per (category, concept),
// skipping excluded categories. Rows with invalid identifiers and values that
// do not read as numbers are reported as warnings and left out.
func Aggregate(records []models.SourceEmployeeRecord, catalog Catalog, excluded CategorySet) (Totals, []string) {
	return aggregate(records, catalog, func(category string) bool { return !excluded.Has(category) }, false)
}

// AggregateByEmployee is Aggregate keyed additionally by employee and
// restricted to the allowed categories.
func AggregateByEmployee(records []models.SourceEmployeeRecord, catalog Catalog, allowed CategorySet) (Totals, []string) {
	return aggregate(records, catalog, allowed.Has, true)
}

func aggregate(records []models.SourceEmployeeRecord, catalog Catalog, include func(string) bool, perEmployee bool) (Totals, []string) {
	totals := Totals{}
	var warnings []string

	for _, rec := range records {
		if !normalize.ValidIdentifier(rec.RawIdentifier) {
			warnings = append(warnings, fmt.Sprintf("fila con identificador no válido %q excluida de los totales", rec.RawIdentifier))
			continue
		}
		employee := ""
		if perEmployee {
			employee = normalize.ID(rec.RawIdentifier)
		}
		for _, concept := range rec.Fields.Keys() {
			v := rec.Fields[concept]
			if v.IsEmpty() {
				continue
			}
			category := catalog.CategoryOf(concept)
			if !include(category) {
				continue
			}
			amount, ok := v.Decimal()
			if !ok {
				warnings = append(warnings, fmt.Sprintf("valor no numérico %q en concepto %q de %s", v.String(), concept, rec.RawIdentifier))
				continue
			}
			key := Key{
				Category: strings.ToLower(strings.TrimSpace(category)),
				Concept:  strings.ToLower(strings.TrimSpace(concept)),
				Employee: employee,
			}
			t, seen := totals[key]
			if !seen {
				t = Total{ConceptName: strings.TrimSpace(concept), Category: category, Employee: employee}
			}
			t.Amount = t.Amount.Add(amount)
			totals[key] = t
		}
	}
	return totals, warnings
}

// Measurement is the comparison of one key across both periods.
type Measurement struct {
	Key         Key
	ConceptName string
	Category    string
	Employee    string
	Current     decimal.Decimal
	Previous    decimal.Decimal
	Delta       decimal.Decimal
	VariancePct decimal.Decimal
	Exceeds     bool
}

// Report holds every measurement of a run; Findings are the ones over the
// threshold ("vigentes").
type Report struct {
	Threshold    decimal.Decimal
	Measurements map[Key]Measurement
	Findings     []Measurement
}

// Vigente reports whether key is over the threshold in this run.
func (r Report) Vigente(k Key) bool {
	m, ok := r.Measurements[k]
	return ok && m.Exceeds
}

// VariancePct returns (current-previous)/|previous|*100; a zero baseline
// yields 100 when current moved and 0 otherwise.
func VariancePct(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return current.Sub(previous).Div(previous.Abs()).Mul(hundred)
}

// Compare measures every key in the union of current and previous. Variances
// are rounded to two decimals; a key is material only when |variance| is
// strictly above threshold, so 30.00 against 30 is not a finding.
func Compare(current, previous Totals, threshold decimal.Decimal) Report {
	rep := Report{Threshold: threshold, Measurements: map[Key]Measurement{}}

	keys := make([]Key, 0, len(current)+len(previous))
	for k := range current {
		keys = append(keys, k)
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, k := range keys {
		cur, inCur := current[k]
		prev, inPrev := previous[k]

		label := cur
		if !inCur {
			label = prev
		}
		m := Measurement{
			Key:         k,
			ConceptName: label.ConceptName,
			Category:    label.Category,
			Employee:    label.Employee,
			Current:     cur.Amount,
			Previous:    prev.Amount,
		}
		if !inPrev {
			m.Previous = decimal.Zero
		}
		m.Delta = m.Current.Sub(m.Previous)
		m.VariancePct = VariancePct(m.Current, m.Previous).Round(2)
		m.Exceeds = m.VariancePct.Abs().GreaterThan(threshold)

		rep.Measurements[k] = m
		if m.Exceeds {
			rep.Findings = append(rep.Findings, m)
		}
	}
	return rep
}
