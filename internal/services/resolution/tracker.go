// Package resolution appends reviewer actions to the resolution log of an
// Incidence and answers compliance questions from that log.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"
	"payroll-closing-backend/internal/repository"

	"github.com/google/uuid"
)

// statusEffect maps an action to the incidence status it leaves behind.
// Justifications only add context.
var statusEffect = map[models.ResolutionKind]models.IncidenceStatus{
	models.ResolutionCorrection: models.IncidenceResolved,
	models.ResolutionApproval:   models.IncidenceApproved,
	models.ResolutionRejection:  models.IncidenceRejected,
}

type Tracker struct {
	Now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Add records an action on inc and applies its status effect. The comment is
// free text and never rejected.
func (t *Tracker) Add(
	ctx context.Context,
	tx repository.Store,
	inc *models.Incidence,
	actor models.Actor,
	kind models.ResolutionKind,
	comment string,
) (*models.Resolution, error) {

	if !kind.Valid() {
		return nil, apperr.Validation("kind", "unknown resolution kind %q", kind)
	}

	if _, err := tx.GetPeriod(ctx, inc.ClosingPeriodID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("closing period", inc.ClosingPeriodID.String())
		}
		return nil, fmt.Errorf("get period of incidence %s: %w", inc.ID, err)
	}

	r := &models.Resolution{
		ID:              uuid.New(),
		IncidenceID:     inc.ID,
		ClosingPeriodID: inc.ClosingPeriodID,
		AuthorID:        actor.ID,
		AuthorName:      actor.Name,
		Kind:            kind,
		Comment:         comment,
		CreatedAt:       t.now(),
	}
	if err := tx.CreateResolution(ctx, r); err != nil {
		return nil, fmt.Errorf("create resolution: %w", err)
	}

	if status, ok := statusEffect[kind]; ok && inc.Status != status {
		inc.Status = status
		if err := tx.SaveIncidence(ctx, inc); err != nil {
			return nil, fmt.Errorf("update incidence %s: %w", inc.ID, err)
		}
	}

	return r, nil
}

// Compliance reports, for every procedure name, whether actorID has at least
// one resolution in the period whose kind matches the procedure.
func Compliance(
	ctx context.Context,
	store repository.Store,
	periodID uuid.UUID,
	actorID string,
	procedures []string,
) (map[string]bool, error) {

	rs, err := store.ListPeriodResolutions(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}

	done := map[string]struct{}{}
	for _, r := range rs {
		if r.AuthorID == actorID {
			done[normalize.Text(string(r.Kind))] = struct{}{}
		}
	}

	out := make(map[string]bool, len(procedures))
	for _, p := range procedures {
		_, ok := done[normalize.Text(p)]
		out[p] = ok
	}
	return out, nil
}
