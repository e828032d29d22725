package reconciliation

import (
	"context"
	"fmt"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/closing"
	"payroll-closing-backend/internal/services/comparison"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ComparisonResult struct {
	Discrepancies []models.Discrepancy `json:"discrepancies"`
	Warnings      []string             `json:"warnings"`
	Status        models.ClosingStatus `json:"status"`
	Verification  models.Substatus     `json:"verification_substatus"`
}

// RunStructuralComparison diffs sourceA against sourceB for the period and
// replaces the stored discrepancy set with the result. A nil policy uses the
// configured policy of the pair.
func (s *ReconciliationService) RunStructuralComparison(
	ctx context.Context,
	periodID uuid.UUID,
	sourceA, sourceB models.SourceTag,
	policy *comparison.Policy,
) (*ComparisonResult, error) {

	if !sourceA.Valid() {
		return nil, apperr.Validation("source_a", "unknown source %q", sourceA)
	}
	if !sourceB.Valid() {
		return nil, apperr.Validation("source_b", "unknown source %q", sourceB)
	}
	if sourceA == sourceB {
		return nil, apperr.Validation("source_b", "a source cannot be compared with itself")
	}

	pol := s.settings.Policies.For(sourceA, sourceB)
	if policy != nil {
		pol = *policy
	}

	res := &ComparisonResult{}
	err := s.withPeriod(ctx, periodID, func(tx repository.Store, p *models.ClosingPeriod) error {
		if closing.Frozen(p.Status) {
			return apperr.Precondition("PERIOD_FROZEN", "period is %s", p.Status)
		}
		for _, src := range []models.SourceTag{sourceA, sourceB} {
			if err := requireCompleted(ctx, tx, p.ID, src); err != nil {
				return err
			}
		}

		left, err := tx.ListRecords(ctx, p.ID, sourceA)
		if err != nil {
			return fmt.Errorf("list %s records: %w", sourceA, err)
		}
		right, err := tx.ListRecords(ctx, p.ID, sourceB)
		if err != nil {
			return fmt.Errorf("list %s records: %w", sourceB, err)
		}

		out := comparison.Compare(
			comparison.Side{Source: sourceA, Records: left},
			comparison.Side{Source: sourceB, Records: right},
			pol,
		)
		now := s.now()
		for i := range out.Discrepancies {
			out.Discrepancies[i].ID = uuid.New()
			out.Discrepancies[i].ClosingPeriodID = p.ID
			out.Discrepancies[i].CreatedAt = now
		}

		if err := tx.ReplaceDiscrepancies(ctx, p.ID, sourceA, sourceB, out.Discrepancies); err != nil {
			return fmt.Errorf("replace discrepancies: %w", err)
		}
		// the gate counts every pair compared so far
		stored, err := tx.ListDiscrepancies(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list discrepancies: %w", err)
		}
		if closing.ApplyDiscrepancies(p, len(stored)) {
			if err := tx.SavePeriod(ctx, p); err != nil {
				return fmt.Errorf("save period: %w", err)
			}
		}

		res.Discrepancies = out.Discrepancies
		res.Warnings = out.Warnings
		res.Status = p.Status
		res.Verification = p.VerificationSubstatus
		return nil
	})
	if err != nil {
		s.logError("RunStructuralComparison", "structural comparison", map[string]any{
			"period_id": periodID,
			"source_a":  sourceA,
			"source_b":  sourceB,
		}, err)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"period_id":     periodID,
		"source_a":      sourceA,
		"source_b":      sourceB,
		"discrepancies": len(res.Discrepancies),
		"warnings":      len(res.Warnings),
	}).Info("structural comparison completed")
	return res, nil
}

func (s *ReconciliationService) ListDiscrepancies(ctx context.Context, periodID uuid.UUID) ([]models.Discrepancy, error) {
	if _, err := s.getPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return s.store.ListDiscrepancies(ctx, periodID)
}
