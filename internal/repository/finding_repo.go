package repository

import (
	"context"

	"payroll-closing-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReplaceDiscrepancies deletes the period's discrepancies of the a/b source
// pair, in either orientation, and inserts ds. Other pairs are untouched.
func (s *GormStore) ReplaceDiscrepancies(
	ctx context.Context,
	periodID uuid.UUID,
	a, b models.SourceTag,
	ds []models.Discrepancy,
) error {

	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("closing_period_id = ?", periodID).
			Where("(source_a = ? AND source_b = ?) OR (source_a = ? AND source_b = ?)", a, b, b, a).
			Delete(&models.Discrepancy{}).Error; err != nil {
			return err
		}
		if len(ds) == 0 {
			return nil
		}
		return tx.CreateInBatches(&ds, recordBatchSize).Error
	}))
}

func (s *GormStore) ListDiscrepancies(ctx context.Context, periodID uuid.UUID) ([]models.Discrepancy, error) {
	var out []models.Discrepancy
	err := s.db.WithContext(ctx).
		Where("closing_period_id = ?", periodID).
		Order("kind ASC, employee_identifier ASC").
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) CreateIncidence(ctx context.Context, inc *models.Incidence) error {
	return translate(s.db.WithContext(ctx).Create(inc).Error)
}

func (s *GormStore) SaveIncidence(ctx context.Context, inc *models.Incidence) error {
	return translate(s.db.WithContext(ctx).Save(inc).Error)
}

func (s *GormStore) GetIncidence(ctx context.Context, id uuid.UUID) (*models.Incidence, error) {
	var inc models.Incidence
	if err := s.db.WithContext(ctx).First(&inc, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &inc, nil
}

func (s *GormStore) FindIncidenceByHash(ctx context.Context, periodID uuid.UUID, hash string) (*models.Incidence, error) {
	var inc models.Incidence
	err := s.db.WithContext(ctx).
		Where("closing_period_id = ? AND stable_hash = ?", periodID, hash).
		First(&inc).Error
	if err != nil {
		return nil, translate(err)
	}
	return &inc, nil
}

func (s *GormStore) FindIncidencesByConcept(
	ctx context.Context,
	periodID uuid.UUID,
	kind models.IncidenceKind,
	conceptName, employee string,
) ([]models.Incidence, error) {

	var out []models.Incidence
	err := s.db.WithContext(ctx).
		Where("closing_period_id = ? AND kind = ?", periodID, kind).
		Where("LOWER(concept_name) = LOWER(?)", conceptName).
		Where("employee_identifier = ?", employee).
		Order("created_at ASC").
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) ListIncidences(ctx context.Context, periodID uuid.UUID, filter IncidenceFilter) ([]models.Incidence, error) {
	var out []models.Incidence
	query := s.db.WithContext(ctx).
		Where("closing_period_id = ?", periodID).
		Order("id ASC")

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Cursor != "" {
		query = query.Where("id > ?", filter.Cursor)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	err := query.Find(&out).Error
	return out, translate(err)
}

// CreateResolution is the only write path for resolutions; the log is append-only.
func (s *GormStore) CreateResolution(ctx context.Context, r *models.Resolution) error {
	return translate(s.db.WithContext(ctx).Create(r).Error)
}

func (s *GormStore) ListResolutions(ctx context.Context, incidenceID uuid.UUID) ([]models.Resolution, error) {
	var out []models.Resolution
	err := s.db.WithContext(ctx).
		Where("incidence_id = ?", incidenceID).
		Order("created_at ASC").
		Find(&out).Error
	return out, translate(err)
}

func (s *GormStore) ListPeriodResolutions(ctx context.Context, periodID uuid.UUID) ([]models.Resolution, error) {
	var out []models.Resolution
	err := s.db.WithContext(ctx).
		Where("closing_period_id = ?", periodID).
		Order("created_at ASC").
		Find(&out).Error
	return out, translate(err)
}
