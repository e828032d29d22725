package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/resolution"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AddResolution appends an action to the incidence log, applies its status
// effect and re-evaluates the period's incidence gate.
func (s *ReconciliationService) AddResolution(
	ctx context.Context,
	incidenceID uuid.UUID,
	actor models.Actor,
	kind models.ResolutionKind,
	comment string,
) (*models.Resolution, error) {

	if strings.TrimSpace(actor.ID) == "" {
		return nil, apperr.Validation("actor_id", "actor id is required")
	}
	if !kind.Valid() {
		return nil, apperr.Validation("kind", "unknown resolution kind %q", kind)
	}

	inc, err := s.getIncidence(ctx, s.store, incidenceID)
	if err != nil {
		return nil, err
	}

	var out *models.Resolution
	err = s.withPeriod(ctx, inc.ClosingPeriodID, func(tx repository.Store, p *models.ClosingPeriod) error {
		// re-read under the period lock
		current, err := s.getIncidence(ctx, tx, incidenceID)
		if err != nil {
			return err
		}
		r, err := s.tracker.Add(ctx, tx, current, actor, kind, comment)
		if err != nil {
			return err
		}
		if err := refreshIncidenceState(ctx, tx, p); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == "" {
			s.logError("AddResolution", "add resolution", map[string]any{
				"incidence_id": incidenceID,
				"kind":         kind,
			}, err)
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"period_id":    out.ClosingPeriodID,
		"incidence_id": incidenceID,
		"kind":         kind,
		"author_id":    actor.ID,
	}).Info("resolution recorded")
	return out, nil
}

func (s *ReconciliationService) ListResolutions(ctx context.Context, incidenceID uuid.UUID) ([]models.Resolution, error) {
	if _, err := s.getIncidence(ctx, s.store, incidenceID); err != nil {
		return nil, err
	}
	return s.store.ListResolutions(ctx, incidenceID)
}

// Compliance reports which of the named procedures actorID has performed on
// the period's incidences.
func (s *ReconciliationService) Compliance(ctx context.Context, periodID uuid.UUID, actorID string, procedures []string) (map[string]bool, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, apperr.Validation("actor_id", "actor id is required")
	}
	if _, err := s.getPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return resolution.Compliance(ctx, s.store, periodID, actorID, procedures)
}

func (s *ReconciliationService) getIncidence(ctx context.Context, store repository.Store, id uuid.UUID) (*models.Incidence, error) {
	inc, err := store.GetIncidence(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("incidence", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get incidence: %w", err)
	}
	return inc, nil
}
