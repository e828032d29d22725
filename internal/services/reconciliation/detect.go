package reconciliation

import (
	"context"
	"fmt"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/closing"
	"payroll-closing-backend/internal/services/incidence"
	"payroll-closing-backend/internal/services/variance"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// VarianceOptions tune one reconciliation run. A nil ThresholdPct uses the
// configured threshold.
type VarianceOptions struct {
	ThresholdPct      *decimal.Decimal
	IncludeIndividual bool
}

type VarianceResult struct {
	incidence.Counts
	NewVersion         int                  `json:"new_version"`
	BaselinePeriodID   uuid.UUID            `json:"baseline_period_id"`
	Status             models.ClosingStatus `json:"status"`
	IncidenceSubstatus models.Substatus     `json:"incidence_substatus"`
	OpenIncidences     int                  `json:"open_incidences"`
	Warnings           []string             `json:"warnings"`
}

// RunVarianceReconciliation compares the period's ledger totals with the
// latest finalized period of the same client, upserts the material
// differences as incidences, retires the ones no longer material and feeds
// the result to the closing state machine, all in one period transaction.
func (s *ReconciliationService) RunVarianceReconciliation(ctx context.Context, periodID uuid.UUID, opts VarianceOptions) (*VarianceResult, error) {
	threshold := s.settings.Threshold
	if opts.ThresholdPct != nil {
		threshold = *opts.ThresholdPct
	}
	if !threshold.IsPositive() {
		return nil, apperr.Validation("threshold_pct", "threshold must be greater than zero, got %s", threshold)
	}

	res := &VarianceResult{}
	err := s.withPeriod(ctx, periodID, func(tx repository.Store, p *models.ClosingPeriod) error {
		if closing.Frozen(p.Status) {
			return apperr.Precondition("PERIOD_FROZEN", "period is %s", p.Status)
		}

		baseline, err := tx.FindBaselinePeriod(ctx, p.ClientID, p.PeriodKey, s.settings.BaselineStatuses)
		if err != nil {
			return fmt.Errorf("find baseline: %w", err)
		}
		if baseline == nil {
			return apperr.Precondition("NO_BASELINE", "no finalized period before %s for client %s", p.PeriodKey, p.ClientID)
		}
		if err := requireCompleted(ctx, tx, p.ID, models.SourceLedger); err != nil {
			return err
		}

		current, err := tx.ListRecords(ctx, p.ID, models.SourceLedger)
		if err != nil {
			return fmt.Errorf("list current records: %w", err)
		}
		previous, err := tx.ListRecords(ctx, baseline.ID, models.SourceLedger)
		if err != nil {
			return fmt.Errorf("list baseline records: %w", err)
		}
		classifications, err := tx.ListClassifications(ctx, p.ClientID)
		if err != nil {
			return fmt.Errorf("list classifications: %w", err)
		}
		catalog := variance.NewCatalog(classifications)

		excluded := variance.NewCategorySet(s.settings.ExcludedCategories...)
		curTotals, curWarnings := variance.Aggregate(current, catalog, excluded)
		prevTotals, prevWarnings := variance.Aggregate(previous, catalog, excluded)
		res.Warnings = append(res.Warnings, curWarnings...)
		res.Warnings = append(res.Warnings, prefixed(baseline.PeriodKey, prevWarnings)...)

		applied, err := s.incidences.Apply(ctx, tx, p, models.IncidenceSumaTotal, variance.Compare(curTotals, prevTotals, threshold))
		if err != nil {
			return err
		}
		res.Counts = applied.Counts
		res.Warnings = append(res.Warnings, applied.Warnings...)

		if opts.IncludeIndividual {
			if len(s.settings.IndividualCategories) == 0 {
				res.Warnings = append(res.Warnings, "detección individual solicitada sin categorías configuradas")
			} else {
				allowed := variance.NewCategorySet(s.settings.IndividualCategories...)
				curEmp, _ := variance.AggregateByEmployee(current, catalog, allowed)
				prevEmp, _ := variance.AggregateByEmployee(previous, catalog, allowed)
				individual, err := s.incidences.Apply(ctx, tx, p, models.IncidenceIndividual, variance.Compare(curEmp, prevEmp, threshold))
				if err != nil {
					return err
				}
				res.Created += individual.Created
				res.Updated += individual.Updated
				res.Resolved += individual.Resolved
				res.Warnings = append(res.Warnings, individual.Warnings...)
			}
		}

		if err := refreshIncidenceState(ctx, tx, p); err != nil {
			return err
		}

		res.NewVersion = p.DataVersion
		res.BaselinePeriodID = baseline.ID
		res.Status = p.Status
		res.IncidenceSubstatus = p.IncidenceSubstatus
		res.OpenIncidences = p.OpenIncidenceCount
		return nil
	})
	if err != nil {
		s.logError("RunVarianceReconciliation", "variance reconciliation", map[string]any{
			"period_id": periodID,
			"threshold": threshold.String(),
		}, err)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"period_id": periodID,
		"created":   res.Created,
		"updated":   res.Updated,
		"resolved":  res.Resolved,
		"version":   res.NewVersion,
		"status":    res.Status,
	}).Info("variance reconciliation completed")
	return res, nil
}

func prefixed(prefix string, warnings []string) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, prefix+": "+w)
	}
	return out
}
