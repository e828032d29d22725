package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Discrepancy is a structural mismatch between two sources of one period.
// The whole set of a period is recomputed on every comparison run.
type Discrepancy struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ClosingPeriodID    uuid.UUID       `gorm:"type:uuid;index" json:"closing_period_id"`
	Kind               DiscrepancyKind `gorm:"size:40;index" json:"kind"`
	SourceA            SourceTag       `gorm:"size:32" json:"source_a"`
	SourceB            SourceTag       `gorm:"size:32" json:"source_b"`
	EmployeeIdentifier string          `gorm:"index" json:"employee_identifier"`
	DisplayName        string          `json:"display_name"`
	ConceptName        *string         `json:"concept_name,omitempty"`
	Description        string          `gorm:"type:text" json:"description"`
	LeftValue          string          `json:"left_value"`
	RightValue         string          `json:"right_value"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Incidence is a period-over-period variance finding. StableHash never
// depends on amounts, so re-detection updates the same row.
type Incidence struct {
	ID                   uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ClosingPeriodID      uuid.UUID       `gorm:"type:uuid;index" json:"closing_period_id"`
	Kind                 IncidenceKind   `gorm:"size:16;index" json:"kind"`
	EmployeeIdentifier   string          `json:"employee_identifier,omitempty"`
	ConceptName          string          `gorm:"index" json:"concept_name"`
	ConceptCategory      string          `gorm:"size:64;index" json:"concept_category"`
	Description          string          `gorm:"type:text" json:"description"`
	VariancePct          decimal.Decimal `gorm:"type:numeric(20,2)" json:"variance_pct"`
	Delta                decimal.Decimal `gorm:"type:numeric(20,2)" json:"delta"`
	Payload              datatypes.JSON  `json:"payload"`
	Priority             Priority        `gorm:"size:8;index" json:"priority"`
	Status               IncidenceStatus `gorm:"size:16;index" json:"status"`
	FirstDetectedVersion int             `json:"first_detected_version"`
	LastDetectedVersion  int             `json:"last_detected_version"`
	StableHash           string          `gorm:"size:64;index" json:"stable_hash"`
	AssigneeID           *string         `json:"assignee_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Resolution is an append-only note about an action taken on an Incidence.
type Resolution struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	IncidenceID     uuid.UUID      `gorm:"type:uuid;index" json:"incidence_id"`
	ClosingPeriodID uuid.UUID      `gorm:"type:uuid;index" json:"closing_period_id"`
	AuthorID        string         `gorm:"index" json:"author_id"`
	AuthorName      string         `json:"author_name"`
	Kind            ResolutionKind `gorm:"size:16" json:"kind"`
	Comment         string         `gorm:"type:text" json:"comment"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Actor identifies who performs an action. The system actor is injected from
// configuration, never looked up at runtime.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AllModels lists every table for migration.
func AllModels() []any {
	return []any{
		&ClosingPeriod{},
		&SourceUpload{},
		&SourceEmployeeRecord{},
		&ConceptClassification{},
		&Discrepancy{},
		&Incidence{},
		&Resolution{},
	}
}
