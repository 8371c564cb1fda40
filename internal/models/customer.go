package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer is a counterparty of one emitter. Customers are created on demand
// (directly or inline with an invoice) and referenced by id from invoices.
type Customer struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EmitterID   uuid.UUID `gorm:"type:uuid;not null;index:ix_customer_emitter" json:"emitter_id"`
	Name        string    `gorm:"not null" json:"name"`
	Email       string    `gorm:"not null;index" json:"email"`
	Phone       *string   `json:"phone,omitempty"`
	AddressLine *string   `json:"address_line,omitempty"`
	UBICode     *string   `gorm:"column:ubi_code" json:"ubi_code,omitempty"`
	TaxID       *string   `json:"tax_id,omitempty"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
