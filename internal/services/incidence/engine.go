// Package incidence turns variance findings into persisted Incidences with a
// content-derived identity, and retires the ones that are no longer material.
package incidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/variance"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var (
	highPriority   = decimal.NewFromInt(100)
	mediumPriority = decimal.NewFromInt(50)
)

// Counts summarizes one Apply pass.
type Counts struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Resolved int `json:"resolved"`
}

type Result struct {
	Counts
	Warnings []string
}

// Payload is the detected measurement stored with an Incidence.
type Payload struct {
	Employee    string          `json:"employee,omitempty"`
	Category    string          `json:"category"`
	Previous    decimal.Decimal `json:"previous"`
	Current     decimal.Decimal `json:"current"`
	Delta       decimal.Decimal `json:"delta"`
	VariancePct decimal.Decimal `json:"variance_pct"`
}

func (p Payload) equal(o Payload) bool {
	return p.Employee == o.Employee &&
		p.Category == o.Category &&
		p.Previous.Equal(o.Previous) &&
		p.Current.Equal(o.Current) &&
		p.Delta.Equal(o.Delta) &&
		p.VariancePct.Equal(o.VariancePct)
}

// Engine applies a variance report to the Incidence set of a period. It
// must run inside the caller's period transaction.
type Engine struct {
	SystemActor models.Actor
	Now         func() time.Time
}

func NewEngine(system models.Actor) *Engine {
	return &Engine{SystemActor: system, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// PriorityFor grades a variance by its magnitude.
func PriorityFor(variancePct decimal.Decimal) models.Priority {
	abs := variancePct.Abs()
	switch {
	case abs.GreaterThanOrEqual(highPriority):
		return models.PriorityHigh
	case abs.GreaterThanOrEqual(mediumPriority):
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// RetirementNote is the comment of the system resolution written when an
// incidence drops below the threshold.
func RetirementNote(previous, current, variancePct decimal.Decimal) string {
	return fmt.Sprintf("Monto Mes Anterior: %s, Monto Mes Actual: %s, Nueva variación: %s%%",
		previous.String(), current.String(), variancePct.StringFixed(1))
}

// NotMeasuredNote is the comment written when an incidence's concept no longer
// has a measurement in either period.
func NotMeasuredNote(concept string) string {
	return fmt.Sprintf("Concepto %q sin medición en el período actual ni en el anterior", concept)
}

// Apply upserts every finding of report as an Incidence of kind and resolves
// the open incidences of that kind the report no longer considers material.
// The period's DataVersion is the detection version stamped on every write.
func (e *Engine) Apply(
	ctx context.Context,
	tx repository.Store,
	period *models.ClosingPeriod,
	kind models.IncidenceKind,
	report variance.Report,
) (Result, error) {

	var res Result
	version := period.DataVersion
	vigente := make(map[string]struct{}, len(report.Findings))
	for _, m := range report.Findings {
		vigente[HashOf(kind, m.Key)] = struct{}{}
	}
	claimed := map[uuid.UUID]struct{}{}

	for _, m := range report.Findings {
		hash := HashOf(kind, m.Key)

		existing, err := e.lookup(ctx, tx, period.ID, kind, hash, m, vigente, claimed)
		if err != nil {
			return res, err
		}

		if existing == nil {
			inc := e.build(period, kind, hash, m, version)
			if err := tx.CreateIncidence(ctx, &inc); err != nil {
				return res, fmt.Errorf("create incidence %s: %w", m.Key, err)
			}
			claimed[inc.ID] = struct{}{}
			res.Created++
			continue
		}
		claimed[existing.ID] = struct{}{}

		switch {
		case existing.StableHash == "":
			res.Warnings = append(res.Warnings, fmt.Sprintf("incidencia %s sin identidad estable vinculada por nombre de concepto %q", existing.ID, m.ConceptName))
		case existing.StableHash != hash:
			res.Warnings = append(res.Warnings, fmt.Sprintf("incidencia %s reclasificada de %q a %q", existing.ID, existing.ConceptCategory, m.Category))
		}

		if !refresh(existing, kind, hash, m, version) {
			continue
		}
		if err := tx.SaveIncidence(ctx, existing); err != nil {
			return res, fmt.Errorf("update incidence %s: %w", existing.ID, err)
		}
		res.Updated++
	}

	open, err := tx.ListIncidences(ctx, period.ID, repository.IncidenceFilter{
		Kind:   kind,
		Status: models.IncidenceOpen,
	})
	if err != nil {
		return res, fmt.Errorf("list open incidences: %w", err)
	}

	for i := range open {
		inc := &open[i]
		hash := inc.StableHash
		if hash == "" {
			hash = HashOf(kind, keyOf(*inc))
		}
		if _, ok := vigente[hash]; ok {
			continue
		}
		note := NotMeasuredNote(inc.ConceptName)
		if m, ok := measurementOf(report, *inc); ok {
			note = RetirementNote(m.Previous, m.Current, m.VariancePct)
		}
		if err := e.retire(ctx, tx, inc, note, version); err != nil {
			return res, err
		}
		res.Resolved++
	}

	return res, nil
}

// measurementOf finds the measurement an incidence refers to: by its own key,
// then by concept name and employee when the concept changed category.
func measurementOf(report variance.Report, inc models.Incidence) (variance.Measurement, bool) {
	if m, ok := report.Measurements[keyOf(inc)]; ok {
		return m, true
	}
	concept := normalize.Text(inc.ConceptName)
	for _, m := range report.Measurements {
		if m.Employee == employeeOf(inc) && normalize.Text(m.ConceptName) == concept {
			return m, true
		}
	}
	return variance.Measurement{}, false
}

func employeeOf(inc models.Incidence) string {
	if inc.Kind == models.IncidenceIndividual {
		return inc.EmployeeIdentifier
	}
	return ""
}

// lookup finds the incidence of a finding by hash first. On a miss it falls
// back to rows of the same concept and employee whose hash no finding of this
// run claims: rows stored before hashes existed and rows detected under a
// previous category of the concept.
func (e *Engine) lookup(
	ctx context.Context,
	tx repository.Store,
	periodID uuid.UUID,
	kind models.IncidenceKind,
	hash string,
	m variance.Measurement,
	vigente map[string]struct{},
	claimed map[uuid.UUID]struct{},
) (*models.Incidence, error) {

	inc, err := tx.FindIncidenceByHash(ctx, periodID, hash)
	if err == nil {
		return inc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find incidence by hash: %w", err)
	}

	candidates, err := tx.FindIncidencesByConcept(ctx, periodID, kind, m.ConceptName, m.Employee)
	if err != nil {
		return nil, fmt.Errorf("find incidences by concept: %w", err)
	}
	for i := range candidates {
		c := &candidates[i]
		if _, ok := claimed[c.ID]; ok {
			continue
		}
		if _, ok := vigente[c.StableHash]; ok {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func (e *Engine) build(period *models.ClosingPeriod, kind models.IncidenceKind, hash string, m variance.Measurement, version int) models.Incidence {
	return models.Incidence{
		ID:                   uuid.New(),
		ClosingPeriodID:      period.ID,
		Kind:                 kind,
		EmployeeIdentifier:   m.Employee,
		ConceptName:          m.ConceptName,
		ConceptCategory:      m.Category,
		Description:          describe(kind, m),
		VariancePct:          m.VariancePct,
		Delta:                m.Delta,
		Payload:              encodePayload(payloadOf(m)),
		Priority:             PriorityFor(m.VariancePct),
		Status:               models.IncidenceOpen,
		FirstDetectedVersion: version,
		LastDetectedVersion:  version,
		StableHash:           hash,
	}
}

// refresh copies the measurement onto inc and reports whether anything
// changed. A resolved incidence that is material again is re-opened;
// approved and rejected ones keep their decision.
func refresh(inc *models.Incidence, kind models.IncidenceKind, hash string, m variance.Measurement, version int) bool {
	changed := false

	if inc.StableHash != hash {
		inc.StableHash = hash
		changed = true
	}
	if d := describe(kind, m); inc.Description != d {
		inc.Description = d
		changed = true
	}
	if inc.ConceptName != m.ConceptName {
		inc.ConceptName = m.ConceptName
		changed = true
	}
	if inc.ConceptCategory != m.Category {
		inc.ConceptCategory = m.Category
		changed = true
	}
	if !inc.VariancePct.Equal(m.VariancePct) {
		inc.VariancePct = m.VariancePct
		changed = true
	}
	if !inc.Delta.Equal(m.Delta) {
		inc.Delta = m.Delta
		changed = true
	}
	if p := payloadOf(m); !decodePayload(inc.Payload).equal(p) {
		inc.Payload = encodePayload(p)
		changed = true
	}
	if pr := PriorityFor(m.VariancePct); inc.Priority != pr {
		inc.Priority = pr
		changed = true
	}
	if inc.Status == models.IncidenceResolved {
		inc.Status = models.IncidenceOpen
		changed = true
	}

	if changed {
		inc.LastDetectedVersion = version
	}
	return changed
}

func (e *Engine) retire(ctx context.Context, tx repository.Store, inc *models.Incidence, note string, version int) error {
	inc.Status = models.IncidenceResolved
	inc.LastDetectedVersion = version
	if err := tx.SaveIncidence(ctx, inc); err != nil {
		return fmt.Errorf("resolve incidence %s: %w", inc.ID, err)
	}

	r := models.Resolution{
		ID:              uuid.New(),
		IncidenceID:     inc.ID,
		ClosingPeriodID: inc.ClosingPeriodID,
		AuthorID:        e.SystemActor.ID,
		AuthorName:      e.SystemActor.Name,
		Kind:            models.ResolutionCorrection,
		Comment:         note,
		CreatedAt:       e.now(),
	}
	if err := tx.CreateResolution(ctx, &r); err != nil {
		return fmt.Errorf("record resolution for %s: %w", inc.ID, err)
	}
	return nil
}

func describe(kind models.IncidenceKind, m variance.Measurement) string {
	subject := fmt.Sprintf("%q (%s)", m.ConceptName, m.Category)
	if kind == models.IncidenceIndividual {
		subject = fmt.Sprintf("%s del empleado %s", subject, m.Employee)
	}
	return fmt.Sprintf("Variación de %s%% en %s: mes anterior %s, mes actual %s",
		m.VariancePct.StringFixed(1), subject, m.Previous.String(), m.Current.String())
}

func payloadOf(m variance.Measurement) Payload {
	return Payload{
		Employee:    m.Employee,
		Category:    m.Category,
		Previous:    m.Previous,
		Current:     m.Current,
		Delta:       m.Delta,
		VariancePct: m.VariancePct,
	}
}

func encodePayload(p Payload) datatypes.JSON {
	b, err := json.Marshal(p)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

func decodePayload(raw datatypes.JSON) Payload {
	var p Payload
	if len(raw) == 0 {
		return p
	}
	_ = json.Unmarshal(raw, &p)
	return p
}
