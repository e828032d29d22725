package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"
	"payroll-closing-backend/internal/repository"
	"payroll-closing-backend/internal/services/closing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecordInput is one employee row of a source feed.
type RecordInput struct {
	Identifier  string          `json:"identifier"`
	DisplayName string          `json:"display_name"`
	Fields      models.FieldMap `json:"fields"`
}

type IngestResult struct {
	Upload      *models.SourceUpload `json:"upload"`
	DataVersion int                  `json:"data_version"`
	Status      models.ClosingStatus `json:"status"`
	Warnings    []string             `json:"warnings"`
}

// StartUpload registers a new ingestion of source for the period.
func (s *ReconciliationService) StartUpload(ctx context.Context, periodID uuid.UUID, source models.SourceTag, filename string) (*models.SourceUpload, error) {
	if !source.Valid() {
		return nil, apperr.Validation("source", "unknown source %q", source)
	}
	p, err := s.getPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if closing.Frozen(p.Status) {
		return nil, apperr.Precondition("PERIOD_FROZEN", "period is %s", p.Status).WithPeriod(periodID.String())
	}

	u := &models.SourceUpload{
		ID:              uuid.New(),
		ClosingPeriodID: periodID,
		Source:          source,
		Filename:        filename,
		Status:          models.UploadProcessing,
		StartedAt:       s.now(),
	}
	if err := s.store.CreateUpload(ctx, u); err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	s.progressCache.Store(u.ID, &Progress{Status: models.UploadProcessing})
	return u, nil
}

// CompleteUpload replaces the source's records of the period with rows, bumps
// the period's data version and moves it forward once every required source
// has been loaded. Rows without a usable identifier are skipped with a warning.
func (s *ReconciliationService) CompleteUpload(ctx context.Context, uploadID uuid.UUID, rows []RecordInput) (*IngestResult, error) {
	u, err := s.store.GetUpload(ctx, uploadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("upload", uploadID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}

	res := &IngestResult{}
	err = s.withPeriod(ctx, u.ClosingPeriodID, func(tx repository.Store, p *models.ClosingPeriod) error {
		// re-read under the period lock
		current, err := tx.GetUpload(ctx, uploadID)
		if err != nil {
			return fmt.Errorf("get upload: %w", err)
		}
		if current.Status != models.UploadProcessing {
			return apperr.Precondition("UPLOAD_CLOSED", "upload is already %s", current.Status)
		}
		u = current
		if closing.Frozen(p.Status) {
			return apperr.Precondition("PERIOD_FROZEN", "period is %s", p.Status)
		}

		records := make([]models.SourceEmployeeRecord, 0, len(rows))
		for i, row := range rows {
			if !normalize.ValidIdentifier(row.Identifier) {
				res.Warnings = append(res.Warnings, fmt.Sprintf("fila %d: identificador no válido %q", i+1, row.Identifier))
				continue
			}
			fields := row.Fields
			if fields == nil {
				fields = models.FieldMap{}
			}
			records = append(records, models.SourceEmployeeRecord{
				ID:                   uuid.New(),
				ClosingPeriodID:      p.ID,
				UploadID:             u.ID,
				Source:               u.Source,
				RawIdentifier:        strings.TrimSpace(row.Identifier),
				NormalizedIdentifier: normalize.ID(row.Identifier),
				DisplayName:          strings.TrimSpace(row.DisplayName),
				Fields:               fields,
			})
		}

		if err := tx.ReplaceRecords(ctx, p.ID, u.Source, records); err != nil {
			return fmt.Errorf("replace records: %w", err)
		}

		completedAt := s.now()
		u.Status = models.UploadCompleted
		u.CompletedAt = &completedAt
		u.TotalRows = len(rows)
		u.AcceptedRows = len(records)
		u.SkippedRows = len(rows) - len(records)
		if err := tx.SaveUpload(ctx, u); err != nil {
			return fmt.Errorf("save upload: %w", err)
		}

		p.DataVersion++
		if p.Status == models.StatusPending {
			p.Status = models.StatusInProgress
		}
		if p.Status == models.StatusInProgress {
			complete, err := s.sourcesComplete(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if complete {
				p.Status = models.StatusFilesComplete
			}
		}
		if err := tx.SavePeriod(ctx, p); err != nil {
			return fmt.Errorf("save period: %w", err)
		}

		res.Upload = u
		res.DataVersion = p.DataVersion
		res.Status = p.Status
		return nil
	})
	if err != nil {
		s.logError("CompleteUpload", "ingest source records", map[string]any{"upload_id": uploadID, "rows": len(rows)}, err)
		return nil, err
	}

	s.progressCache.Store(u.ID, &Progress{ProcessedCount: u.TotalRows, Total: u.TotalRows, Status: models.UploadCompleted})
	s.logger.WithFields(logrus.Fields{
		"period_id":    u.ClosingPeriodID,
		"upload_id":    u.ID,
		"source":       u.Source,
		"accepted":     u.AcceptedRows,
		"skipped":      u.SkippedRows,
		"data_version": res.DataVersion,
	}).Info("source upload completed")
	return res, nil
}

// FailUpload closes an upload that could not be processed. Uploads that are
// no longer processing are left as they are.
func (s *ReconciliationService) FailUpload(ctx context.Context, uploadID uuid.UUID, cause error) error {
	u, err := s.store.GetUpload(ctx, uploadID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("upload", uploadID.String())
	}
	if err != nil {
		return fmt.Errorf("get upload: %w", err)
	}

	if u.Status != models.UploadProcessing {
		// completed concurrently
		return nil
	}

	completedAt := s.now()
	u.Status = models.UploadFailed
	u.CompletedAt = &completedAt
	if err := s.store.SaveUpload(ctx, u); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}

	if val, ok := s.progressCache.Load(uploadID); ok {
		p := *val.(*Progress)
		p.Status = models.UploadFailed
		s.progressCache.Store(uploadID, &p)
	}
	s.logError("FailUpload", "source upload failed", map[string]any{"upload_id": uploadID, "source": u.Source}, cause)
	return nil
}

// IngestSource is StartUpload followed by CompleteUpload.
func (s *ReconciliationService) IngestSource(
	ctx context.Context,
	periodID uuid.UUID,
	source models.SourceTag,
	filename string,
	rows []RecordInput,
) (*IngestResult, error) {

	u, err := s.StartUpload(ctx, periodID, source, filename)
	if err != nil {
		return nil, err
	}
	res, err := s.CompleteUpload(ctx, u.ID, rows)
	if err != nil {
		if failErr := s.FailUpload(context.WithoutCancel(ctx), u.ID, err); failErr != nil {
			s.logger.WithField("upload_id", u.ID).Warn("failed to mark upload as failed: " + failErr.Error())
		}
		return nil, err
	}
	return res, nil
}

// UpdateUploadProgress records how many rows of an upload have been parsed.
func (s *ReconciliationService) UpdateUploadProgress(uploadID uuid.UUID, count int) {
	val, _ := s.progressCache.LoadOrStore(uploadID, &Progress{Status: models.UploadProcessing})
	p := *val.(*Progress)
	p.ProcessedCount = count
	s.progressCache.Store(uploadID, &p)
}

// UploadProgress reports the progress of an upload, from memory while it is
// being processed and from the store otherwise.
func (s *ReconciliationService) UploadProgress(ctx context.Context, uploadID uuid.UUID) (*Progress, error) {
	if val, ok := s.progressCache.Load(uploadID); ok {
		p := *val.(*Progress)
		return &p, nil
	}
	u, err := s.store.GetUpload(ctx, uploadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("upload", uploadID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return &Progress{ProcessedCount: u.AcceptedRows + u.SkippedRows, Total: u.TotalRows, Status: u.Status}, nil
}

// sourcesComplete reports whether every required source of the period has a
// completed upload.
func (s *ReconciliationService) sourcesComplete(ctx context.Context, tx repository.Store, periodID uuid.UUID) (bool, error) {
	for _, src := range s.settings.RequiredSources {
		_, err := tx.LatestUpload(ctx, periodID, src, models.UploadCompleted)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("latest upload of %s: %w", src, err)
		}
	}
	return true, nil
}

// requireCompleted fails with a precondition error unless the latest upload
// of source is completed.
func requireCompleted(ctx context.Context, tx repository.Store, periodID uuid.UUID, source models.SourceTag) error {
	u, err := tx.LatestUpload(ctx, periodID, source)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Precondition("SOURCE_NOT_READY", "source %s has not been uploaded", source)
	}
	if err != nil {
		return fmt.Errorf("latest upload of %s: %w", source, err)
	}
	if u.Status != models.UploadCompleted {
		return apperr.Precondition("SOURCE_NOT_READY", "latest upload of %s is %s", source, u.Status)
	}
	return nil
}
