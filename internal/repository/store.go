package repository

import (
	"context"
	"errors"
	"time"

	"payroll-closing-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrLocked    = errors.New("row lock not available")
	ErrDuplicate = errors.New("duplicate key")
)

// IncidenceFilter narrows ListIncidences. Zero values match everything.
type IncidenceFilter struct {
	Kind   models.IncidenceKind
	Status models.IncidenceStatus
	Cursor string
	Limit  int
}

// Store is the persistence boundary of the closing engine. Implementations
// must run Transaction atomically: either every write inside fn is visible
// afterwards or none is.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error

	CreatePeriod(ctx context.Context, p *models.ClosingPeriod) error
	GetPeriod(ctx context.Context, id uuid.UUID) (*models.ClosingPeriod, error)
	// LockPeriod reads the period holding an exclusive row lock until the
	// surrounding transaction ends.
	LockPeriod(ctx context.Context, id uuid.UUID) (*models.ClosingPeriod, error)
	SavePeriod(ctx context.Context, p *models.ClosingPeriod) error
	// FindBaselinePeriod returns the latest period of the client with a key
	// before beforeKey and one of the given statuses, or nil when none exists.
	FindBaselinePeriod(ctx context.Context, clientID, beforeKey string, statuses []models.ClosingStatus) (*models.ClosingPeriod, error)

	CreateUpload(ctx context.Context, u *models.SourceUpload) error
	SaveUpload(ctx context.Context, u *models.SourceUpload) error
	GetUpload(ctx context.Context, id uuid.UUID) (*models.SourceUpload, error)
	// LatestUpload returns the most recent upload of a source, optionally
	// restricted to statuses. Returns ErrNotFound when there is none.
	LatestUpload(ctx context.Context, periodID uuid.UUID, source models.SourceTag, statuses ...models.UploadStatus) (*models.SourceUpload, error)
	ReplaceRecords(ctx context.Context, periodID uuid.UUID, source models.SourceTag, records []models.SourceEmployeeRecord) error
	ListRecords(ctx context.Context, periodID uuid.UUID, source models.SourceTag) ([]models.SourceEmployeeRecord, error)

	UpsertClassification(ctx context.Context, c *models.ConceptClassification) error
	ListClassifications(ctx context.Context, clientID string) ([]models.ConceptClassification, error)

	// ReplaceDiscrepancies swaps the stored findings of one source pair.
	ReplaceDiscrepancies(ctx context.Context, periodID uuid.UUID, a, b models.SourceTag, ds []models.Discrepancy) error
	ListDiscrepancies(ctx context.Context, periodID uuid.UUID) ([]models.Discrepancy, error)

	CreateIncidence(ctx context.Context, inc *models.Incidence) error
	SaveIncidence(ctx context.Context, inc *models.Incidence) error
	GetIncidence(ctx context.Context, id uuid.UUID) (*models.Incidence, error)
	FindIncidenceByHash(ctx context.Context, periodID uuid.UUID, hash string) (*models.Incidence, error)
	// FindIncidencesByConcept lists the period's incidences of a concept and
	// employee, oldest first, whatever their hash.
	FindIncidencesByConcept(ctx context.Context, periodID uuid.UUID, kind models.IncidenceKind, conceptName, employee string) ([]models.Incidence, error)
	ListIncidences(ctx context.Context, periodID uuid.UUID, filter IncidenceFilter) ([]models.Incidence, error)

	CreateResolution(ctx context.Context, r *models.Resolution) error
	ListResolutions(ctx context.Context, incidenceID uuid.UUID) ([]models.Resolution, error)
	ListPeriodResolutions(ctx context.Context, periodID uuid.UUID) ([]models.Resolution, error)
}

// GormStore implements Store on top of GORM.
type GormStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewGormStore(db *gorm.DB, lockTimeout time.Duration) *GormStore {
	return &GormStore{db: db, lockTimeout: lockTimeout}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, lockTimeout: s.lockTimeout})
	})
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01":
			return errors.Join(ErrLocked, err)
		case "23505":
			return errors.Join(ErrDuplicate, err)
		}
	}
	return err
}
