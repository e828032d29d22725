package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/config"
	"payroll-closing-backend/internal/lock"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/closing"
	"payroll-closing-backend/internal/services/comparison"
	"payroll-closing-backend/internal/services/incidence"
	"payroll-closing-backend/internal/services/resolution"
	"payroll-closing-backend/internal/services/variance"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const moduleName = "reconciliation"

// Settings are the business rules the service runs with.
type Settings struct {
	Threshold            decimal.Decimal
	ExcludedCategories   []string
	IndividualCategories []string
	BaselineStatuses     []models.ClosingStatus
	RequiredSources      []models.SourceTag
	SystemActor          models.Actor
	Policies             comparison.Policies
}

func DefaultSettings() Settings {
	return Settings{
		Threshold:          variance.DefaultThreshold,
		ExcludedCategories: []string{"informativo"},
		BaselineStatuses:   []models.ClosingStatus{models.StatusFinalized},
		RequiredSources:    []models.SourceTag{models.SourceLedger, models.SourceNovelties},
		SystemActor:        models.Actor{ID: "system", Name: "Sistema"},
		Policies:           comparison.DefaultPolicies(),
	}
}

// SettingsFrom maps loaded configuration onto service settings.
func SettingsFrom(e config.EngineSettings) Settings {
	s := DefaultSettings()
	if e.ThresholdPct > 0 {
		s.Threshold = decimal.NewFromFloat(e.ThresholdPct)
	}
	if e.ExcludedCategories != nil {
		s.ExcludedCategories = e.ExcludedCategories
	}
	s.IndividualCategories = e.IndividualCategories
	if len(e.BaselineStatuses) > 0 {
		s.BaselineStatuses = s.BaselineStatuses[:0]
		for _, st := range e.BaselineStatuses {
			s.BaselineStatuses = append(s.BaselineStatuses, models.ClosingStatus(st))
		}
	}
	if e.RequiredSources != nil {
		s.RequiredSources = s.RequiredSources[:0]
		for _, src := range e.RequiredSources {
			s.RequiredSources = append(s.RequiredSources, models.SourceTag(src))
		}
	}
	if e.SystemActorID != "" {
		s.SystemActor = models.Actor{ID: e.SystemActorID, Name: e.SystemActorName}
	}
	s.Policies = comparison.DefaultPolicies().Merge(e.Policies)
	return s
}

type Progress struct {
	ProcessedCount int                 `json:"processed_count"`
	Total          int                 `json:"total"`
	Status         models.UploadStatus `json:"status"`
}

type ReconciliationService struct {
	store         repository.Store
	locker        lock.Locker
	logger        *logrus.Logger
	settings      Settings
	incidences    *incidence.Engine
	tracker       *resolution.Tracker
	now           func() time.Time
	progressCache sync.Map // uploadID -> *Progress
}

func NewReconciliationService(
	store repository.Store,
	locker lock.Locker,
	logger *logrus.Logger,
	settings Settings,
) *ReconciliationService {
	if locker == nil {
		locker = lock.Noop{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &ReconciliationService{
		store:      store,
		locker:     locker,
		logger:     logger,
		settings:   settings,
		incidences: incidence.NewEngine(settings.SystemActor),
		tracker:    resolution.NewTracker(),
		now:        time.Now,
	}
	return s
}

// SetClock replaces the time source of the service and its engines.
func (s *ReconciliationService) SetClock(now func() time.Time) {
	s.now = now
	s.incidences.Now = now
	s.tracker.Now = now
}

func (s *ReconciliationService) Settings() Settings {
	return s.settings
}

// withPeriod runs fn in one transaction holding the period row lock, behind
// the distributed lock of the period when one is configured.
func (s *ReconciliationService) withPeriod(
	ctx context.Context,
	periodID uuid.UUID,
	fn func(tx repository.Store, p *models.ClosingPeriod) error,
) error {

	release, err := s.locker.Acquire(ctx, lock.PeriodKey(periodID.String()))
	if err != nil {
		return periodErr(err, periodID)
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.WithField("period_id", periodID).Warn("failed to release period lock: " + relErr.Error())
		}
	}()

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		p, err := tx.LockPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		return fn(tx, p)
	})
	return periodErr(err, periodID)
}

// periodErr maps store failures of a period-scoped operation to typed errors.
func periodErr(err error, periodID uuid.UUID) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		if appErr.PeriodID == "" {
			return appErr.WithPeriod(periodID.String())
		}
		return appErr
	case errors.Is(err, repository.ErrLocked):
		return apperr.Concurrency(periodID.String(), err).WithPeriod(periodID.String())
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("closing period", periodID.String())
	}
	return fmt.Errorf("period %s: %w", periodID, err)
}

// getPeriod loads a period outside of any lock.
func (s *ReconciliationService) getPeriod(ctx context.Context, periodID uuid.UUID) (*models.ClosingPeriod, error) {
	p, err := s.store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, periodErr(err, periodID)
	}
	return p, nil
}

// refreshIncidenceState recounts the period's incidences and feeds the
// closing state machine.
func refreshIncidenceState(ctx context.Context, tx repository.Store, p *models.ClosingPeriod) error {
	all, err := tx.ListIncidences(ctx, p.ID, repository.IncidenceFilter{})
	if err != nil {
		return fmt.Errorf("list incidences: %w", err)
	}
	open, inReview := closing.CountIncidences(all)
	if !closing.ApplyIncidences(p, open, inReview) {
		return nil
	}
	return tx.SavePeriod(ctx, p)
}

func (s *ReconciliationService) logError(funcName, where string, data any, err error) {
	config.LogError(s.logger, moduleName, funcName, where, data, err)
}
