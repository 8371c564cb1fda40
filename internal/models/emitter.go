package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Emitter is a tax-registered business entity authorized to issue fiscal
// documents. PAC credentials are opaque secrets scoped one per emitter and are
// excluded from JSON output.
type Emitter struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	CompanyCode string    `gorm:"not null" json:"company_code"`

	// RUC triplet: type (1 natural, 2 juridical), number, check digit.
	RUCTipo   string `gorm:"column:ruc_tipo;not null" json:"ruc_tipo"`
	RUCNumero string `gorm:"column:ruc_numero;not null" json:"ruc_numero"`
	RUCDV     string `gorm:"column:ruc_dv;not null" json:"ruc_dv"`

	SucEm          string `gorm:"not null" json:"suc_em"`
	PtoFacDefault  string `gorm:"not null" json:"pto_fac_default"`
	IAmb           int    `gorm:"column:i_amb;not null" json:"iamb"` // 1 production, 2 test
	ITpEmisDefault string `gorm:"column:i_tp_emis_default;not null" json:"itpemis_default"`
	IDocDefault    string `gorm:"column:i_doc_default;not null" json:"idoc_default"`

	Email       string  `gorm:"not null" json:"email"`
	Phone       *string `json:"phone,omitempty"`
	AddressLine *string `json:"address_line,omitempty"`
	UBICode     *string `gorm:"column:ubi_code" json:"ubi_code,omitempty"`

	PACAPIKey          string `gorm:"column:pac_api_key;not null" json:"-"`
	PACSubscriptionKey string `gorm:"column:pac_subscription_key;not null" json:"-"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Emitter) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// EmitterSeries tracks document numbering per emitter, point of sale, and
// document kind. NextNumber is advanced atomically when a document is created.
type EmitterSeries struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	EmitterID       uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:ux_series,priority:1" json:"emitter_id"`
	PtoFacDF        string       `gorm:"column:pto_fac_df;not null;uniqueIndex:ux_series,priority:2" json:"pto_fac_df"`
	DocKind         DocumentType `gorm:"not null;uniqueIndex:ux_series,priority:3" json:"doc_kind"`
	NextNumber      int          `gorm:"not null;default:1" json:"next_number"`
	IssuedCount     int          `gorm:"not null;default:0" json:"issued_count"`
	AuthorizedCount int          `gorm:"not null;default:0" json:"authorized_count"`
	RejectedCount   int          `gorm:"not null;default:0" json:"rejected_count"`
	IsActive        bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (s *EmitterSeries) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// APIKey authenticates inbound API calls for one emitter. Only the SHA-256
// hash of the key is stored.
type APIKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EmitterID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"emitter_id"`
	Name       string     `gorm:"not null" json:"name"`
	KeyHash    string     `gorm:"not null;uniqueIndex" json:"-"`
	IsActive   bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

// HashAPIKey derives the stored lookup hash for a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
