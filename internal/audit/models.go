package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// SigningEvent is one signing or verification attempt on one document.
type SigningEvent struct {
	ID          uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	Kind        string         `json:"kind" gorm:"not null;index"`
	Principal   string         `json:"principal" gorm:"not null;index"`
	DocumentRef string         `json:"document_ref" gorm:"not null;index"`
	ProducedRef string         `json:"produced_ref,omitempty"`
	Status      Status         `json:"status" gorm:"not null"`
	Error       string         `json:"error,omitempty"`
	Details     datatypes.JSON `json:"details" gorm:"type:jsonb"`
	OccurredAt  time.Time      `json:"occurred_at" gorm:"not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
}
