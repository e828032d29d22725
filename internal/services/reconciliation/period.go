package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/closing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ClosingStatus is the read model of a period's lifecycle.
type ClosingStatus struct {
	PeriodID              uuid.UUID            `json:"period_id"`
	ClientID              string               `json:"client_id"`
	PeriodKey             string               `json:"period_key"`
	Status                models.ClosingStatus `json:"status"`
	IncidenceSubstatus    models.Substatus     `json:"incidence_substatus"`
	VerificationSubstatus models.Substatus     `json:"verification_substatus"`
	OpenIncidenceCount    int                  `json:"open_incidence_count"`
	OpenDiscrepancyCount  int                  `json:"open_discrepancy_count"`
	DataVersion           int                  `json:"data_version"`
}

func statusOf(p *models.ClosingPeriod) *ClosingStatus {
	return &ClosingStatus{
		PeriodID:              p.ID,
		ClientID:              p.ClientID,
		PeriodKey:             p.PeriodKey,
		Status:                p.Status,
		IncidenceSubstatus:    p.IncidenceSubstatus,
		VerificationSubstatus: p.VerificationSubstatus,
		OpenIncidenceCount:    p.OpenIncidenceCount,
		OpenDiscrepancyCount:  p.OpenDiscrepancyCount,
		DataVersion:           p.DataVersion,
	}
}

// CreatePeriod opens a new pending period. periodKey is YYYY-MM.
func (s *ReconciliationService) CreatePeriod(ctx context.Context, clientID, periodKey string) (*models.ClosingPeriod, error) {
	clientID = strings.TrimSpace(clientID)
	periodKey = strings.TrimSpace(periodKey)
	if clientID == "" {
		return nil, apperr.Validation("client_id", "client id is required")
	}
	if _, err := time.Parse("2006-01", periodKey); err != nil {
		return nil, apperr.Validation("period_key", "period key %q is not YYYY-MM", periodKey)
	}

	p := &models.ClosingPeriod{
		ID:        uuid.New(),
		ClientID:  clientID,
		PeriodKey: periodKey,
		Status:    models.StatusPending,
	}
	if err := s.store.CreatePeriod(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Validation("period_key", "period %s already exists for client %s", periodKey, clientID)
		}
		s.logError("CreatePeriod", "create period", map[string]string{"client_id": clientID, "period_key": periodKey}, err)
		return nil, fmt.Errorf("create period: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"period_id":  p.ID,
		"client_id":  clientID,
		"period_key": periodKey,
	}).Info("closing period created")
	return p, nil
}

func (s *ReconciliationService) GetPeriod(ctx context.Context, periodID uuid.UUID) (*models.ClosingPeriod, error) {
	return s.getPeriod(ctx, periodID)
}

func (s *ReconciliationService) GetClosingStatus(ctx context.Context, periodID uuid.UUID) (*ClosingStatus, error) {
	p, err := s.getPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return statusOf(p), nil
}

// AdvancePeriod moves a period to status to when the lifecycle allows it.
func (s *ReconciliationService) AdvancePeriod(ctx context.Context, periodID uuid.UUID, to models.ClosingStatus) (*ClosingStatus, error) {
	var out *ClosingStatus
	err := s.withPeriod(ctx, periodID, func(tx repository.Store, p *models.ClosingPeriod) error {
		if err := closing.CheckAdvance(p, to); err != nil {
			return err
		}
		from := p.Status
		p.Status = to
		if err := tx.SavePeriod(ctx, p); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"period_id": p.ID,
			"from":      from,
			"to":        to,
		}).Info("closing period advanced")
		out = statusOf(p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertClassification records the category of a concept for a client.
func (s *ReconciliationService) UpsertClassification(ctx context.Context, clientID, conceptName, category string) (*models.ConceptClassification, error) {
	clientID = strings.TrimSpace(clientID)
	conceptName = strings.TrimSpace(conceptName)
	category = strings.ToLower(strings.TrimSpace(category))

	if clientID == "" {
		return nil, apperr.Validation("client_id", "client id is required")
	}
	normalized := normalize.Text(conceptName)
	if normalized == "" {
		return nil, apperr.Validation("concept_name", "concept name is required")
	}
	if category == "" {
		return nil, apperr.Validation("category", "category is required")
	}

	c := &models.ConceptClassification{
		ID:                uuid.New(),
		ClientID:          clientID,
		ConceptName:       conceptName,
		NormalizedConcept: normalized,
		Category:          category,
	}
	if err := s.store.UpsertClassification(ctx, c); err != nil {
		return nil, fmt.Errorf("upsert classification: %w", err)
	}
	return c, nil
}

func (s *ReconciliationService) ListClassifications(ctx context.Context, clientID string) ([]models.ConceptClassification, error) {
	return s.store.ListClassifications(ctx, clientID)
}
