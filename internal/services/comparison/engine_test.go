package comparison

import (
	"testing"

	"payroll-closing-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, name string, fields models.FieldMap) models.SourceEmployeeRecord {
	return models.SourceEmployeeRecord{RawIdentifier: id, DisplayName: name, Fields: fields}
}

func num(v float64) models.Value {
	return models.Number(decimal.NewFromFloat(v))
}

func kinds(ds []models.Discrepancy) []models.DiscrepancyKind {
	out := make([]models.DiscrepancyKind, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Kind)
	}
	return out
}

func TestCompare_AsymmetricSubsetRule(t *testing.T) {
	ledger := Side{Source: models.SourceLedger, Records: []models.SourceEmployeeRecord{
		rec("12.345.678-9", "Ana Pérez", models.FieldMap{"A": num(100), "B": num(50)}),
	}}
	novelties := Side{Source: models.SourceNovelties, Records: []models.SourceEmployeeRecord{
		rec("12345678-9", "ANA PEREZ", models.FieldMap{"B": num(50), "C": num(10)}),
	}}

	res := Compare(ledger, novelties, DefaultPolicies().For(models.SourceLedger, models.SourceNovelties))
	require.Len(t, res.Discrepancies, 1)
	d := res.Discrepancies[0]
	assert.Equal(t, models.DiscrepancyConceptOnlyInB, d.Kind)
	require.NotNil(t, d.ConceptName)
	assert.Equal(t, "C", *d.ConceptName)
	assert.Equal(t, "12345678-9", d.EmployeeIdentifier)
	assert.Equal(t, "10", d.RightValue)

	strict := Compare(ledger, novelties, Strict())
	assert.ElementsMatch(t, []models.DiscrepancyKind{
		models.DiscrepancyConceptOnlyInA,
		models.DiscrepancyConceptOnlyInB,
	}, kinds(strict.Discrepancies))
}

func TestCompare_EmployeePresence(t *testing.T) {
	a := Side{Source: models.SourceLedger, Records: []models.SourceEmployeeRecord{
		rec("1-9", "Uno", nil),
		rec("2-7", "Dos", nil),
	}}
	b := Side{Source: models.SourceMovements, Records: []models.SourceEmployeeRecord{
		rec("2-7", "Dos", nil),
		rec("3-5", "Tres", nil),
	}}

	res := Compare(a, b, Strict())
	require.Len(t, res.Discrepancies, 2)
	assert.Equal(t, models.DiscrepancyEmployeeOnlyInA, res.Discrepancies[0].Kind)
	assert.Equal(t, "1-9", res.Discrepancies[0].EmployeeIdentifier)
	assert.Equal(t, models.DiscrepancyEmployeeOnlyInB, res.Discrepancies[1].Kind)
	assert.Equal(t, "3-5", res.Discrepancies[1].EmployeeIdentifier)

	lenient := Compare(a, b, DefaultPolicies().For(models.SourceLedger, models.SourceMovements))
	assert.Equal(t, []models.DiscrepancyKind{models.DiscrepancyEmployeeOnlyInB}, kinds(lenient.Discrepancies))
}

func TestCompare_ValueToleranceAndText(t *testing.T) {
	a := Side{Source: models.SourceLedger, Records: []models.SourceEmployeeRecord{
		rec("1-9", "Uno", models.FieldMap{
			"Sueldo":   num(1000.00),
			"Bono":     num(200),
			"Cargo":    models.Text("Analista Sénior"),
			"Colación": models.Text("1.500"),
		}),
	}}
	b := Side{Source: models.SourceNovelties, Records: []models.SourceEmployeeRecord{
		rec("1-9", "Uno", models.FieldMap{
			"sueldo":   num(1000.01),
			"BONO":     num(200.02),
			"cargo":    models.Text("analista senior"),
			"colacion": num(1500),
		}),
	}}

	res := Compare(a, b, Strict())
	require.Len(t, res.Discrepancies, 1)
	d := res.Discrepancies[0]
	assert.Equal(t, models.DiscrepancyConceptValueMismatch, d.Kind)
	assert.Equal(t, "Bono", *d.ConceptName)
	assert.Equal(t, "200", d.LeftValue)
	assert.Equal(t, "200.02", d.RightValue)
}

func TestCompare_PersonalDataMismatch(t *testing.T) {
	a := Side{Source: models.SourceLedger, Records: []models.SourceEmployeeRecord{rec("1-9", "José Muñoz", nil)}}
	b := Side{Source: models.SourceHires, Records: []models.SourceEmployeeRecord{rec("1-9", "Jose Munoz Soto", nil)}}

	res := Compare(a, b, Strict())
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, models.DiscrepancyPersonalDataMismatch, res.Discrepancies[0].Kind)

	noNames := Compare(a, b, Policy{})
	assert.Empty(t, noNames.Discrepancies)
}

func TestCompare_DropsAggregateRowsAndMergesDuplicates(t *testing.T) {
	a := Side{Source: models.SourceLedger, Records: []models.SourceEmployeeRecord{
		rec("1-9", "Uno", models.FieldMap{"Bono": num(100)}),
		rec("TOTAL", "", models.FieldMap{"Bono": num(100)}),
	}}
	b := Side{Source: models.SourceNovelties, Records: []models.SourceEmployeeRecord{
		rec("1-9", "Uno", models.FieldMap{"Bono": num(60)}),
		rec("01 - 9", "Uno", models.FieldMap{"Bono": num(40)}),
		rec("nan", "", nil),
	}}

	res := Compare(a, b, Strict())
	assert.Empty(t, res.Discrepancies)
	assert.Len(t, res.Warnings, 3)
}

func TestPolicies_MirrorReversedPair(t *testing.T) {
	ps := DefaultPolicies()
	forward := ps.For(models.SourceLedger, models.SourceNovelties)
	reverse := ps.For(models.SourceNovelties, models.SourceLedger)

	assert.True(t, forward.IgnoreConceptOnlyInA)
	assert.False(t, forward.IgnoreConceptOnlyInB)
	assert.True(t, reverse.IgnoreConceptOnlyInB)
	assert.False(t, reverse.IgnoreConceptOnlyInA)

	assert.Equal(t, Strict(), ps.For(models.SourceAbsences, models.SourceHires))
}
