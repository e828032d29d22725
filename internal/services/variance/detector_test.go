package variance

import (
	"testing"

	"payroll-closing-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func total(concept, category, amount string) (Key, Total) {
	k := Key{Category: category, Concept: concept}
	return k, Total{ConceptName: concept, Category: category, Amount: d(amount)}
}

func totalsOf(entries ...struct{ concept, amount string }) Totals {
	out := Totals{}
	for _, e := range entries {
		k, t := total(e.concept, "haberes", e.amount)
		out[k] = t
	}
	return out
}

func TestVariancePct(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		previous string
		want     string
	}{
		{"increase", "180", "100", "80"},
		{"decrease", "50", "100", "-50"},
		{"negative baseline", "-50", "-100", "50"},
		{"zero baseline with movement", "10", "0", "100"},
		{"zero on both sides", "0", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VariancePct(d(tt.current), d(tt.previous))
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestCompare_ThresholdBoundary(t *testing.T) {
	previous := totalsOf(struct{ concept, amount string }{"bono", "100"})

	atThreshold := Compare(totalsOf(struct{ concept, amount string }{"bono", "130"}), previous, DefaultThreshold)
	assert.Empty(t, atThreshold.Findings)

	overThreshold := Compare(totalsOf(struct{ concept, amount string }{"bono", "130.01"}), previous, DefaultThreshold)
	require.Len(t, overThreshold.Findings, 1)
	assert.Equal(t, "30.01", overThreshold.Findings[0].VariancePct.StringFixed(2))
	assert.True(t, overThreshold.Vigente(Key{Category: "haberes", Concept: "bono"}))
}

func TestCompare_UnionOfKeys(t *testing.T) {
	current := totalsOf(
		struct{ concept, amount string }{"horas extra", "180"},
		struct{ concept, amount string }{"bono nuevo", "20"},
	)
	previous := totalsOf(
		struct{ concept, amount string }{"horas extra", "100"},
		struct{ concept, amount string }{"aguinaldo", "500"},
	)

	rep := Compare(current, previous, DefaultThreshold)
	require.Len(t, rep.Measurements, 3)
	require.Len(t, rep.Findings, 3)

	dropped := rep.Measurements[Key{Category: "haberes", Concept: "aguinaldo"}]
	assert.Equal(t, "aguinaldo", dropped.ConceptName)
	assert.True(t, dropped.Current.IsZero())
	assert.Equal(t, "-100.00", dropped.VariancePct.StringFixed(2))

	added := rep.Measurements[Key{Category: "haberes", Concept: "bono nuevo"}]
	assert.Equal(t, "100.00", added.VariancePct.StringFixed(2))

	overtime := rep.Measurements[Key{Category: "haberes", Concept: "horas extra"}]
	assert.Equal(t, "80.0", overtime.VariancePct.StringFixed(1))
	assert.Equal(t, "80", overtime.Delta.String())
}

func TestAggregate(t *testing.T) {
	catalog := NewCatalog([]models.ConceptClassification{
		{ConceptName: "Horas Extra", Category: "Haberes"},
		{ConceptName: "Días trabajados", Category: "informativo"},
	})
	records := []models.SourceEmployeeRecord{
		{RawIdentifier: "1-9", Fields: models.FieldMap{
			"Horas extra":     models.NumberFromInt(60),
			"Dias trabajados": models.NumberFromInt(30),
			"Cargo":           models.Text("Operario"),
			"Bono":            models.Text("1.500"),
		}},
		{RawIdentifier: "2-7", Fields: models.FieldMap{
			"HORAS EXTRA": models.NumberFromInt(40),
			"Anticipo":    models.Empty(),
		}},
		{RawIdentifier: "Total general", Fields: models.FieldMap{"Horas extra": models.NumberFromInt(100)}},
	}

	totals, warnings := Aggregate(records, catalog, NewCategorySet("Informativo"))

	overtime, ok := totals[Key{Category: "haberes", Concept: "horas extra"}]
	require.True(t, ok)
	assert.Equal(t, "100", overtime.Amount.String())
	assert.Equal(t, "Haberes", overtime.Category)

	bono, ok := totals[Key{Category: models.CategoryUnclassified, Concept: "bono"}]
	require.True(t, ok)
	assert.Equal(t, "1500", bono.Amount.String())

	_, informative := totals[Key{Category: "informativo", Concept: "dias trabajados"}]
	assert.False(t, informative)

	assert.Len(t, totals, 2)
	// "Cargo" is not numeric and the "Total general" row is an aggregate.
	assert.Len(t, warnings, 2)
}

func TestAggregateByEmployee_AllowList(t *testing.T) {
	catalog := NewCatalog([]models.ConceptClassification{
		{ConceptName: "Horas extra", Category: "haberes"},
		{ConceptName: "Préstamo", Category: "descuentos"},
	})
	records := []models.SourceEmployeeRecord{
		{RawIdentifier: "1-9", Fields: models.FieldMap{
			"Horas extra": models.NumberFromInt(10),
			"Préstamo":    models.NumberFromInt(5),
		}},
		{RawIdentifier: "01-9", Fields: models.FieldMap{"Horas extra": models.NumberFromInt(5)}},
		{RawIdentifier: "2-7", Fields: models.FieldMap{"Horas extra": models.NumberFromInt(7)}},
	}

	totals, warnings := AggregateByEmployee(records, catalog, NewCategorySet("haberes"))
	assert.Empty(t, warnings)
	require.Len(t, totals, 2)

	first := totals[Key{Category: "haberes", Concept: "horas extra", Employee: "1-9"}]
	assert.Equal(t, "15", first.Amount.String())
	assert.Equal(t, "1-9", first.Employee)

	second := totals[Key{Category: "haberes", Concept: "horas extra", Employee: "2-7"}]
	assert.Equal(t, "7", second.Amount.String())
}
