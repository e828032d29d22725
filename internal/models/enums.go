package models

// ClosingStatus is the lifecycle state of a ClosingPeriod.
type ClosingStatus string

const (
	StatusPending            ClosingStatus = "pending"
	StatusInProgress         ClosingStatus = "in_progress"
	StatusFilesComplete      ClosingStatus = "files_complete"
	StatusDataVerification   ClosingStatus = "data_verification"
	StatusDataConsolidated   ClosingStatus = "data_consolidated"
	StatusWithIncidences     ClosingStatus = "with_incidences"
	StatusIncidencesResolved ClosingStatus = "incidences_resolved"
	StatusFinalized          ClosingStatus = "finalized"
	StatusApproved           ClosingStatus = "approved"
	StatusRejected           ClosingStatus = "rejected"
	StatusClosed             ClosingStatus = "closed"
)

// AllClosingStatuses lists the closed set of period states in lifecycle order.
var AllClosingStatuses = []ClosingStatus{
	StatusPending,
	StatusInProgress,
	StatusFilesComplete,
	StatusDataVerification,
	StatusDataConsolidated,
	StatusWithIncidences,
	StatusIncidencesResolved,
	StatusFinalized,
	StatusApproved,
	StatusRejected,
	StatusClosed,
}

func (s ClosingStatus) Valid() bool {
	for _, v := range AllClosingStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Substatus refines data_verification and with_incidences.
type Substatus string

const (
	SubstatusNone     Substatus = ""
	SubstatusDetected Substatus = "detected"
	SubstatusInReview Substatus = "in_review"
	SubstatusResolved Substatus = "resolved"
)

// SourceTag names one of the data sources uploaded for a period.
type SourceTag string

const (
	SourceLedger       SourceTag = "libro_remuneraciones"
	SourceNovelties    SourceTag = "novedades"
	SourceMovements    SourceTag = "movimientos_mes"
	SourceHires        SourceTag = "analista_ingresos"
	SourceTerminations SourceTag = "analista_finiquitos"
	SourceAbsences     SourceTag = "analista_ausentismos"
)

var knownSources = map[SourceTag]struct{}{
	SourceLedger:       {},
	SourceNovelties:    {},
	SourceMovements:    {},
	SourceHires:        {},
	SourceTerminations: {},
	SourceAbsences:     {},
}

func (s SourceTag) Valid() bool {
	_, ok := knownSources[s]
	return ok
}

// UploadStatus tracks the ingestion of one source file.
type UploadStatus string

const (
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// DiscrepancyKind is the structural finding taxonomy.
type DiscrepancyKind string

const (
	DiscrepancyEmployeeOnlyInA      DiscrepancyKind = "employee_only_in_A"
	DiscrepancyEmployeeOnlyInB      DiscrepancyKind = "employee_only_in_B"
	DiscrepancyPersonalDataMismatch DiscrepancyKind = "personal_data_mismatch"
	DiscrepancyConceptOnlyInA       DiscrepancyKind = "concept_only_in_A"
	DiscrepancyConceptOnlyInB       DiscrepancyKind = "concept_only_in_B"
	DiscrepancyConceptValueMismatch DiscrepancyKind = "concept_value_mismatch"
)

// IncidenceKind separates the concept-total detector from the per-employee one.
type IncidenceKind string

const (
	IncidenceSumaTotal  IncidenceKind = "suma_total"
	IncidenceIndividual IncidenceKind = "individual"
)

// IncidenceStatus is the resolution lifecycle of an Incidence.
type IncidenceStatus string

const (
	IncidenceOpen     IncidenceStatus = "open"
	IncidenceResolved IncidenceStatus = "resolved"
	IncidenceApproved IncidenceStatus = "approved"
	IncidenceRejected IncidenceStatus = "rejected"
)

// Blocking reports whether an incidence in this status keeps the period from
// progressing.
func (s IncidenceStatus) Blocking() bool {
	return s == IncidenceOpen || s == IncidenceRejected
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ResolutionKind is the action recorded by a Resolution.
type ResolutionKind string

const (
	ResolutionJustification ResolutionKind = "justification"
	ResolutionCorrection    ResolutionKind = "correction"
	ResolutionApproval      ResolutionKind = "approval"
	ResolutionRejection     ResolutionKind = "rejection"
)

func (k ResolutionKind) Valid() bool {
	switch k {
	case ResolutionJustification, ResolutionCorrection, ResolutionApproval, ResolutionRejection:
		return true
	}
	return false
}

// CategoryUnclassified is assigned to concepts with no known classification.
const CategoryUnclassified = "sin_clasificar"
