package incidence

import (
	"context"
	"testing"
	"time"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/repository/memory"
	"payroll-closing-backend/internal/services/variance"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var system = models.Actor{ID: "system", Name: "Sistema"}

func report(current, previous string) variance.Report {
	k := variance.Key{Category: "haberes", Concept: "overtime"}
	cur := variance.Totals{k: {ConceptName: "Overtime", Category: "Haberes", Amount: decimal.RequireFromString(current)}}
	prev := variance.Totals{k: {ConceptName: "Overtime", Category: "Haberes", Amount: decimal.RequireFromString(previous)}}
	return variance.Compare(cur, prev, variance.DefaultThreshold)
}

func setup(t *testing.T) (*memory.Store, *models.ClosingPeriod) {
	t.Helper()
	store := memory.New()
	p := &models.ClosingPeriod{ClientID: "acme", PeriodKey: "2024-05", Status: models.StatusDataConsolidated, DataVersion: 1}
	require.NoError(t, store.CreatePeriod(context.Background(), p))
	return store, p
}

func apply(t *testing.T, store repository.Store, e *Engine, p *models.ClosingPeriod, kind models.IncidenceKind, rep variance.Report) Result {
	t.Helper()
	var res Result
	err := store.Transaction(context.Background(), func(tx repository.Store) error {
		var err error
		res, err = e.Apply(context.Background(), tx, p, kind, rep)
		return err
	})
	require.NoError(t, err)
	return res
}

func all(t *testing.T, store repository.Store, periodID uuid.UUID) []models.Incidence {
	t.Helper()
	out, err := store.ListIncidences(context.Background(), periodID, repository.IncidenceFilter{})
	require.NoError(t, err)
	return out
}

func TestStableHash(t *testing.T) {
	assert.Equal(t, StableHash("Haberes", "Overtime"), StableHash("haberes ", "OVERTIME"))
	assert.NotEqual(t, StableHash("haberes", "overtime"), StableHash("descuentos", "overtime"))
	assert.NotEqual(t, StableHash("haberes", "overtime"), IndividualHash("", "haberes", "overtime"))
	assert.NotEqual(t, IndividualHash("19", "haberes", "overtime"), IndividualHash("27", "haberes", "overtime"))
	assert.Len(t, StableHash("haberes", "overtime"), 64)
}

func TestApply_IsIdempotent(t *testing.T) {
	store, p := setup(t)
	e := NewEngine(system)
	rep := report("180", "100")

	first := apply(t, store, e, p, models.IncidenceSumaTotal, rep)
	assert.Equal(t, Counts{Created: 1}, first.Counts)

	second := apply(t, store, e, p, models.IncidenceSumaTotal, rep)
	assert.Equal(t, Counts{}, second.Counts)

	incs := all(t, store, p.ID)
	require.Len(t, incs, 1)
	inc := incs[0]
	assert.Equal(t, models.IncidenceOpen, inc.Status)
	assert.Equal(t, "80.0", inc.VariancePct.StringFixed(1))
	assert.Equal(t, "Haberes", inc.ConceptCategory)
	assert.Equal(t, models.PriorityMedium, inc.Priority)
	assert.Equal(t, 1, inc.FirstDetectedVersion)
	assert.Equal(t, StableHash("haberes", "overtime"), inc.StableHash)
}

func TestApply_StableIdentityUnderValueDrift(t *testing.T) {
	store, p := setup(t)
	e := NewEngine(system)

	apply(t, store, e, p, models.IncidenceSumaTotal, report("180", "100"))
	before := all(t, store, p.ID)[0]

	p.DataVersion = 2
	res := apply(t, store, e, p, models.IncidenceSumaTotal, report("250", "100"))
	assert.Equal(t, Counts{Updated: 1}, res.Counts)

	incs := all(t, store, p.ID)
	require.Len(t, incs, 1)
	after := incs[0]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.StableHash, after.StableHash)
	assert.Equal(t, 1, after.FirstDetectedVersion)
	assert.Equal(t, 2, after.LastDetectedVersion)
	assert.Equal(t, "150.0", after.VariancePct.StringFixed(1))
	assert.Equal(t, models.PriorityHigh, after.Priority)
	assert.Contains(t, string(after.Payload), `"current":"250"`)
}

func TestApply_RetiresWithSystemResolution(t *testing.T) {
	store, p := setup(t)
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	e := &Engine{SystemActor: system, Now: func() time.Time { return now }}

	apply(t, store, e, p, models.IncidenceSumaTotal, report("180", "100"))
	detected := all(t, store, p.ID)[0]

	p.DataVersion = 2
	res := apply(t, store, e, p, models.IncidenceSumaTotal, report("120", "100"))
	assert.Equal(t, Counts{Resolved: 1}, res.Counts)

	inc, err := store.GetIncidence(context.Background(), detected.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidenceResolved, inc.Status)
	assert.Equal(t, 2, inc.LastDetectedVersion)
	// Detected values stay as they were found.
	assert.Equal(t, "80.0", inc.VariancePct.StringFixed(1))

	rs, err := store.ListResolutions(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "system", rs[0].AuthorID)
	assert.Equal(t, now, rs[0].CreatedAt)
	assert.Equal(t, "Monto Mes Anterior: 100, Monto Mes Actual: 120, Nueva variación: 20.0%", rs[0].Comment)

	// Material again: the same row is re-opened.
	p.DataVersion = 3
	res = apply(t, store, e, p, models.IncidenceSumaTotal, report("200", "100"))
	assert.Equal(t, Counts{Updated: 1}, res.Counts)
	inc, err = store.GetIncidence(context.Background(), detected.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidenceOpen, inc.Status)
}

func TestApply_KeepsReviewerDecisions(t *testing.T) {
	store, p := setup(t)
	e := NewEngine(system)
	apply(t, store, e, p, models.IncidenceSumaTotal, report("180", "100"))

	inc := all(t, store, p.ID)[0]
	inc.Status = models.IncidenceApproved
	require.NoError(t, store.SaveIncidence(context.Background(), &inc))

	res := apply(t, store, e, p, models.IncidenceSumaTotal, report("120", "100"))
	assert.Equal(t, Counts{}, res.Counts)

	got, err := store.GetIncidence(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidenceApproved, got.Status)
}

func TestApply_LegacyFallbackBackfillsHash(t *testing.T) {
	store, p := setup(t)
	legacy := &models.Incidence{
		ID:              uuid.New(),
		ClosingPeriodID: p.ID,
		Kind:            models.IncidenceSumaTotal,
		ConceptName:     "OVERTIME",
		ConceptCategory: "Haberes",
		Status:          models.IncidenceOpen,
	}
	require.NoError(t, store.CreateIncidence(context.Background(), legacy))

	res := apply(t, store, NewEngine(system), p, models.IncidenceSumaTotal, report("180", "100"))
	assert.Equal(t, Counts{Updated: 1}, res.Counts)
	assert.Len(t, res.Warnings, 1)

	incs := all(t, store, p.ID)
	require.Len(t, incs, 1)
	assert.Equal(t, legacy.ID, incs[0].ID)
	assert.Equal(t, StableHash("haberes", "overtime"), incs[0].StableHash)
	assert.Equal(t, "Overtime", incs[0].ConceptName)
}

func reportIn(category, current, previous string) variance.Report {
	k := variance.Key{Category: category, Concept: "overtime"}
	cur := variance.Totals{k: {ConceptName: "Overtime", Category: category, Amount: decimal.RequireFromString(current)}}
	prev := variance.Totals{k: {ConceptName: "Overtime", Category: category, Amount: decimal.RequireFromString(previous)}}
	return variance.Compare(cur, prev, variance.DefaultThreshold)
}

func TestApply_ReclassifiedConceptKeepsItsIncidence(t *testing.T) {
	store, p := setup(t)
	e := NewEngine(system)
	apply(t, store, e, p, models.IncidenceSumaTotal, reportIn("horas_extra", "180", "100"))
	first := all(t, store, p.ID)[0]

	p.DataVersion = 2
	res := apply(t, store, e, p, models.IncidenceSumaTotal, reportIn("bonos", "180", "100"))
	assert.Equal(t, Counts{Updated: 1}, res.Counts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "bonos")

	incs := all(t, store, p.ID)
	require.Len(t, incs, 1)
	assert.Equal(t, first.ID, incs[0].ID)
	assert.Equal(t, "bonos", incs[0].ConceptCategory)
	assert.Equal(t, StableHash("bonos", "overtime"), incs[0].StableHash)
	assert.Equal(t, models.IncidenceOpen, incs[0].Status)

	rs, err := store.ListResolutions(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Empty(t, rs)

	// dropping below the threshold under the new category retires it with real amounts
	p.DataVersion = 3
	res = apply(t, store, e, p, models.IncidenceSumaTotal, reportIn("bonos", "120", "100"))
	assert.Equal(t, Counts{Resolved: 1}, res.Counts)
	rs, err = store.ListResolutions(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "Monto Mes Anterior: 100, Monto Mes Actual: 120, Nueva variación: 20.0%", rs[0].Comment)
}

func TestApply_RetiresUnmeasuredConceptWithoutAmounts(t *testing.T) {
	store, p := setup(t)
	e := NewEngine(system)
	apply(t, store, e, p, models.IncidenceSumaTotal, report("180", "100"))
	inc := all(t, store, p.ID)[0]

	res := apply(t, store, e, p, models.IncidenceSumaTotal, variance.Compare(variance.Totals{}, variance.Totals{}, variance.DefaultThreshold))
	assert.Equal(t, Counts{Resolved: 1}, res.Counts)

	rs, err := store.ListResolutions(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, NotMeasuredNote("Overtime"), rs[0].Comment)
	assert.NotContains(t, rs[0].Comment, "Monto Mes Anterior")
}

func TestApply_KindsAreIndependent(t *testing.T) {
	store, p := setup(t)
	e := NewEngine(system)
	apply(t, store, e, p, models.IncidenceSumaTotal, report("180", "100"))

	k := variance.Key{Category: "haberes", Concept: "overtime", Employee: "19"}
	individual := variance.Compare(
		variance.Totals{k: {ConceptName: "Overtime", Category: "Haberes", Employee: "19", Amount: decimal.NewFromInt(90)}},
		variance.Totals{k: {ConceptName: "Overtime", Category: "Haberes", Employee: "19", Amount: decimal.NewFromInt(10)}},
		variance.DefaultThreshold,
	)
	res := apply(t, store, e, p, models.IncidenceIndividual, individual)
	assert.Equal(t, Counts{Created: 1}, res.Counts)

	incs := all(t, store, p.ID)
	require.Len(t, incs, 2)
	for _, inc := range incs {
		assert.Equal(t, models.IncidenceOpen, inc.Status)
	}
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, models.PriorityHigh, PriorityFor(decimal.NewFromInt(-100)))
	assert.Equal(t, models.PriorityMedium, PriorityFor(decimal.NewFromInt(50)))
	assert.Equal(t, models.PriorityLow, PriorityFor(decimal.RequireFromString("49.99")))
}
