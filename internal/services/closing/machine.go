// Package closing holds the lifecycle rules of a ClosingPeriod. Discrepancy
// verification and incidence resolution are independent gates; both must be
// clear before a period can be finalized.
package closing

import (
	"payroll-closing-backend/internal/apperr"
	"payroll-closing-backend/internal/models"
)

var rank = map[models.ClosingStatus]int{}

func init() {
	for i, s := range models.AllClosingStatuses {
		rank[s] = i
	}
}

// preVerification are the states a comparison run may move to data_verification.
var preVerification = map[models.ClosingStatus]struct{}{
	models.StatusPending:       {},
	models.StatusInProgress:    {},
	models.StatusFilesComplete: {},
}

// frozen states are never touched by detection runs.
var frozen = map[models.ClosingStatus]struct{}{
	models.StatusFinalized: {},
	models.StatusApproved:  {},
	models.StatusRejected:  {},
	models.StatusClosed:    {},
}

var transitions = map[models.ClosingStatus][]models.ClosingStatus{
	models.StatusPending:            {models.StatusInProgress},
	models.StatusInProgress:         {models.StatusFilesComplete},
	models.StatusFilesComplete:      {models.StatusDataVerification},
	models.StatusDataVerification:   {models.StatusDataConsolidated},
	models.StatusDataConsolidated:   {models.StatusWithIncidences, models.StatusIncidencesResolved},
	models.StatusWithIncidences:     {models.StatusIncidencesResolved},
	models.StatusIncidencesResolved: {models.StatusWithIncidences, models.StatusFinalized},
	models.StatusFinalized:          {models.StatusApproved, models.StatusRejected},
	models.StatusApproved:           {models.StatusClosed},
	models.StatusRejected:           {models.StatusInProgress, models.StatusClosed},
}

// Frozen reports whether detection runs must leave p alone.
func Frozen(s models.ClosingStatus) bool {
	_, ok := frozen[s]
	return ok
}

// Before reports whether a precedes b in the lifecycle.
func Before(a, b models.ClosingStatus) bool {
	return rank[a] < rank[b]
}

// ApplyDiscrepancies records the result of a comparison run. It reports
// whether p changed.
func ApplyDiscrepancies(p *models.ClosingPeriod, open int) bool {
	if Frozen(p.Status) {
		return false
	}
	before := *p

	p.OpenDiscrepancyCount = open
	if open == 0 {
		p.VerificationSubstatus = models.SubstatusResolved
	} else {
		p.VerificationSubstatus = models.SubstatusDetected
	}
	if _, ok := preVerification[p.Status]; ok {
		p.Status = models.StatusDataVerification
	}

	return before != *p
}

// ApplyIncidences records the open incidence count after a detection pass or
// a resolution. inReview marks that at least one incidence of the period has
// left the open status. It reports whether p changed.
func ApplyIncidences(p *models.ClosingPeriod, open int, inReview bool) bool {
	if Frozen(p.Status) {
		return false
	}
	before := *p

	status := models.StatusWithIncidences
	p.OpenIncidenceCount = open
	switch {
	case open == 0:
		status = models.StatusIncidencesResolved
		p.IncidenceSubstatus = models.SubstatusResolved
	case inReview:
		p.IncidenceSubstatus = models.SubstatusInReview
	default:
		p.IncidenceSubstatus = models.SubstatusDetected
	}
	// Data still under verification keeps its status; the counts are
	// picked up once it is consolidated.
	if !Before(p.Status, models.StatusDataConsolidated) {
		p.Status = status
	}

	return before != *p
}

// CountIncidences returns the number of blocking incidences and whether any
// incidence is past the open status.
func CountIncidences(incs []models.Incidence) (open int, inReview bool) {
	for _, inc := range incs {
		if inc.Status.Blocking() {
			open++
		}
		if inc.Status != models.IncidenceOpen {
			inReview = true
		}
	}
	return open, inReview
}

func CanTransition(from, to models.ClosingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckAdvance validates an orchestrator-driven move of p to status to.
func CheckAdvance(p *models.ClosingPeriod, to models.ClosingStatus) error {
	if !to.Valid() {
		return apperr.Validation("status", "unknown closing status %q", to)
	}
	if !CanTransition(p.Status, to) {
		return apperr.Precondition("INVALID_TRANSITION", "cannot move from %s to %s", p.Status, to).
			WithPeriod(p.ID.String())
	}

	switch to {
	case models.StatusDataConsolidated:
		if p.VerificationSubstatus != models.SubstatusResolved {
			return apperr.Precondition("VERIFICATION_PENDING", "%d discrepancies still open", p.OpenDiscrepancyCount).
				WithPeriod(p.ID.String())
		}
	case models.StatusIncidencesResolved:
		if p.OpenIncidenceCount > 0 {
			return apperr.Precondition("INCIDENCES_OPEN", "%d incidences still open", p.OpenIncidenceCount).
				WithPeriod(p.ID.String())
		}
	case models.StatusFinalized:
		if p.VerificationSubstatus != models.SubstatusResolved {
			return apperr.Precondition("VERIFICATION_PENDING", "%d discrepancies still open", p.OpenDiscrepancyCount).
				WithPeriod(p.ID.String())
		}
		if p.OpenIncidenceCount > 0 {
			return apperr.Precondition("INCIDENCES_OPEN", "%d incidences still open", p.OpenIncidenceCount).
				WithPeriod(p.ID.String())
		}
	}
	return nil
}
