package models

import (
	"time"

	"github.com/google/uuid"
)

// ClosingPeriod is one (client, period) unit under reconciliation.
type ClosingPeriod struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID              string        `gorm:"uniqueIndex:idx_client_period;not null" json:"client_id"`
	PeriodKey             string        `gorm:"uniqueIndex:idx_client_period;size:7;not null" json:"period_key"` // YYYY-MM
	Status                ClosingStatus `gorm:"size:32;index;not null" json:"status"`
	VerificationSubstatus Substatus     `gorm:"size:16" json:"verification_substatus"`
	IncidenceSubstatus    Substatus     `gorm:"size:16" json:"incidence_substatus"`
	OpenIncidenceCount    int           `json:"open_incidence_count"`
	OpenDiscrepancyCount  int           `json:"open_discrepancy_count"`
	DataVersion           int           `gorm:"not null;default:0" json:"data_version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// SourceUpload is one ingestion of a source for a period.
type SourceUpload struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ClosingPeriodID uuid.UUID    `gorm:"type:uuid;index:idx_upload_period_source" json:"closing_period_id"`
	Source          SourceTag    `gorm:"size:32;index:idx_upload_period_source" json:"source"`
	Filename        string       `json:"filename"`
	Status          UploadStatus `gorm:"size:16;index" json:"status"`
	TotalRows       int          `json:"total_rows"`
	AcceptedRows    int          `json:"accepted_rows"`
	SkippedRows     int          `json:"skipped_rows"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at"`
	CreatedAt       time.Time    `json:"created_at"`
}

// SourceEmployeeRecord is a normalized employee row from one source. Rows are
// replaced wholesale when their upload is reprocessed.
type SourceEmployeeRecord struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClosingPeriodID      uuid.UUID `gorm:"type:uuid;index" json:"closing_period_id"`
	UploadID             uuid.UUID `gorm:"type:uuid;index" json:"upload_id"`
	Source               SourceTag `gorm:"size:32;index" json:"source"`
	RawIdentifier        string    `json:"raw_identifier"`
	NormalizedIdentifier string    `gorm:"index" json:"normalized_identifier"`
	DisplayName          string    `json:"display_name"`
	Fields               FieldMap  `json:"fields"`
	CreatedAt            time.Time `json:"created_at"`
}

// ConceptClassification maps a client's payroll concept to its category. It
// is produced by the header classifier upstream.
type ConceptClassification struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID          string    `gorm:"uniqueIndex:idx_client_concept;not null" json:"client_id"`
	NormalizedConcept string    `gorm:"uniqueIndex:idx_client_concept;not null" json:"normalized_concept"`
	ConceptName       string    `json:"concept_name"`
	Category          string    `gorm:"size:64;index" json:"category"`
	UpdatedAt         time.Time `json:"updated_at"`
}
