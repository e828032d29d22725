package reconciliation

import (
	"context"
	"fmt"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type IncidenceQuery struct {
	Kind   models.IncidenceKind
	Status models.IncidenceStatus
	Cursor string
	Limit  int
}

type IncidencePage struct {
	Items      []models.Incidence `json:"items"`
	NextCursor string             `json:"next_cursor"`
	HasMore    bool               `json:"has_more"`
}

// ListIncidences pages through the period's incidences ordered by id.
func (s *ReconciliationService) ListIncidences(ctx context.Context, periodID uuid.UUID, q IncidenceQuery) (*IncidencePage, error) {
	if q.Cursor != "" {
		if _, err := uuid.Parse(q.Cursor); err != nil {
			return nil, apperr.Validation("cursor", "cursor %q is not an incidence id", q.Cursor)
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if _, err := s.getPeriod(ctx, periodID); err != nil {
		return nil, err
	}

	items, err := s.store.ListIncidences(ctx, periodID, repository.IncidenceFilter{
		Kind:   q.Kind,
		Status: q.Status,
		Cursor: q.Cursor,
		Limit:  limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list incidences: %w", err)
	}

	page := &IncidencePage{Items: items}
	if len(items) > limit {
		page.HasMore = true
		page.Items = items[:limit]
	}
	if len(page.Items) > 0 {
		page.NextCursor = page.Items[len(page.Items)-1].ID.String()
	}
	return page, nil
}

// Summary counts the findings of a period along each dimension reviewers
// filter by.
type Summary struct {
	PeriodID            uuid.UUID                               `json:"period_id"`
	Status              models.ClosingStatus                    `json:"status"`
	DataVersion         int                                     `json:"data_version"`
	DiscrepanciesByKind map[models.DiscrepancyKind]int          `json:"discrepancies_by_kind"`
	IncidencesByKind    map[models.IncidenceKind]int            `json:"incidences_by_kind"`
	IncidencesByStatus  map[models.IncidenceStatus]int          `json:"incidences_by_status"`
	IncidencesByPrio    map[models.Priority]int                 `json:"incidences_by_priority"`
	IncidencesByCat     map[string]int                          `json:"incidences_by_category"`
	OpenByCategory      map[string]map[models.IncidenceKind]int `json:"open_by_category"`
	TotalDiscrepancies  int                                     `json:"total_discrepancies"`
	TotalIncidences     int                                     `json:"total_incidences"`
}

func (s *ReconciliationService) GetSummary(ctx context.Context, periodID uuid.UUID) (*Summary, error) {
	p, err := s.getPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	ds, err := s.store.ListDiscrepancies(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("list discrepancies: %w", err)
	}
	incs, err := s.store.ListIncidences(ctx, periodID, repository.IncidenceFilter{})
	if err != nil {
		return nil, fmt.Errorf("list incidences: %w", err)
	}

	sum := &Summary{
		PeriodID:            p.ID,
		Status:              p.Status,
		DataVersion:         p.DataVersion,
		DiscrepanciesByKind: map[models.DiscrepancyKind]int{},
		IncidencesByKind:    map[models.IncidenceKind]int{},
		IncidencesByStatus:  map[models.IncidenceStatus]int{},
		IncidencesByPrio:    map[models.Priority]int{},
		IncidencesByCat:     map[string]int{},
		OpenByCategory:      map[string]map[models.IncidenceKind]int{},
		TotalDiscrepancies:  len(ds),
		TotalIncidences:     len(incs),
	}
	for _, d := range ds {
		sum.DiscrepanciesByKind[d.Kind]++
	}
	for _, inc := range incs {
		sum.IncidencesByKind[inc.Kind]++
		sum.IncidencesByStatus[inc.Status]++
		sum.IncidencesByPrio[inc.Priority]++
		sum.IncidencesByCat[inc.ConceptCategory]++
		if inc.Status.Blocking() {
			byKind, ok := sum.OpenByCategory[inc.ConceptCategory]
			if !ok {
				byKind = map[models.IncidenceKind]int{}
				sum.OpenByCategory[inc.ConceptCategory] = byKind
			}
			byKind[inc.Kind]++
		}
	}
	return sum, nil
}
