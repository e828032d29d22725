package repository

import (
	"context"
	"errors"
	"fmt"

	"payroll-closing-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

func (s *GormStore) CreatePeriod(ctx context.Context, p *models.ClosingPeriod) error {
	return translate(s.db.WithContext(ctx).Create(p).Error)
}

// GetPeriod fetch a single period by ID
func (s *GormStore) GetPeriod(ctx context.Context, id uuid.UUID) (*models.ClosingPeriod, error) {
	var p models.ClosingPeriod
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) LockPeriod(ctx context.Context, id uuid.UUID) (*models.ClosingPeriod, error) {
	db := s.db.WithContext(ctx)
	if s.lockTimeout > 0 && db.Dialector.Name() == "postgres" {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if err := db.Exec(stmt).Error; err != nil {
			return nil, translate(err)
		}
	}

	var p models.ClosingPeriod
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) SavePeriod(ctx context.Context, p *models.ClosingPeriod) error {
	return translate(s.db.WithContext(ctx).Save(p).Error)
}

func (s *GormStore) FindBaselinePeriod(
	ctx context.Context,
	clientID, beforeKey string,
	statuses []models.ClosingStatus,
) (*models.ClosingPeriod, error) {

	var p models.ClosingPeriod

	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Where("period_key < ?", beforeKey).
		Where("status IN ?", statuses).
		Order("period_key DESC").
		First(&p).Error

	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &p, nil
}
