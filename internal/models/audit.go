package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APICallLog records each outbound PAC call and its raw response, keyed by
// invoice. Error detail can be recovered from here without re-deriving it from
// invoice state. Credential headers are stripped before persisting.
type APICallLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID    uuid.UUID `gorm:"type:uuid;not null;index" json:"invoice_id"`
	Endpoint     string    `gorm:"not null" json:"endpoint"`
	RequestBody  string    `gorm:"type:text" json:"request_body"`
	ResponseBody string    `gorm:"type:text" json:"response_body"`
	HTTPStatus   int       `json:"http_status"`
	DurationMs   int64     `json:"duration_ms"`
	Outcome      string    `json:"outcome"` // AUTHORIZED, REJECTED, ERROR
	CreatedAt    time.Time `json:"created_at"`
}

func (l *APICallLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
