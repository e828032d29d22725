package repository

import (
	"context"

	"payroll-closing-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordBatchSize = 500

func (s *GormStore) CreateUpload(ctx context.Context, u *models.SourceUpload) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *GormStore) SaveUpload(ctx context.Context, u *models.SourceUpload) error {
	return translate(s.db.WithContext(ctx).Save(u).Error)
}

func (s *GormStore) GetUpload(ctx context.Context, id uuid.UUID) (*models.SourceUpload, error) {
	var u models.SourceUpload
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) LatestUpload(
	ctx context.Context,
	periodID uuid.UUID,
	source models.SourceTag,
	statuses ...models.UploadStatus,
) (*models.SourceUpload, error) {

	var u models.SourceUpload
	q := s.db.WithContext(ctx).
		Where("closing_period_id = ? AND source = ?", periodID, source)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("started_at DESC").First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// ReplaceRecords swaps the period's rows for a source in one statement pair.
func (s *GormStore) ReplaceRecords(
	ctx context.Context,
	periodID uuid.UUID,
	source models.SourceTag,
	records []models.SourceEmployeeRecord,
) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("closing_period_id = ? AND source = ?", periodID, source).
			Delete(&models.SourceEmployeeRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(&records, recordBatchSize).Error
	}))
}

func (s *GormStore) ListRecords(ctx context.Context, periodID uuid.UUID, source models.SourceTag) ([]models.SourceEmployeeRecord, error) {
	var records []models.SourceEmployeeRecord
	err := s.db.WithContext(ctx).
		Where("closing_period_id = ? AND source = ?", periodID, source).
		Order("normalized_identifier ASC").
		Find(&records).Error
	return records, translate(err)
}

// UpsertClassification keeps one row per (client, normalized concept).
func (s *GormStore) UpsertClassification(ctx context.Context, c *models.ConceptClassification) error {
	return translate(s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}, {Name: "normalized_concept"}},
			DoUpdates: clause.AssignmentColumns([]string{"concept_name", "category", "updated_at"}),
		}).
		Create(c).Error)
}

func (s *GormStore) ListClassifications(ctx context.Context, clientID string) ([]models.ConceptClassification, error) {
	var out []models.ConceptClassification
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("normalized_concept ASC").
		Find(&out).Error
	return out, translate(err)
}
