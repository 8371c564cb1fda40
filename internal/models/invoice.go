package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentType is the fiscal document kind.
type DocumentType string

const (
	DocumentTypeInvoice        DocumentType = "invoice"
	DocumentTypeImportInvoice  DocumentType = "import_invoice"
	DocumentTypeExportInvoice  DocumentType = "export_invoice"
	DocumentTypeCreditNote     DocumentType = "credit_note"
	DocumentTypeDebitNote      DocumentType = "debit_note"
	DocumentTypeZoneFranca     DocumentType = "zone_franca"
	DocumentTypeReembolso      DocumentType = "reembolso"
	DocumentTypeForeignInvoice DocumentType = "foreign_invoice"
)

// DocumentStatus is the invoice submission state.
//
// RECEIVED -> PREPARING -> SENDING_TO_PAC -> {AUTHORIZED | REJECTED | ERROR}
// RECEIVED/PREPARING may also transition to CANCELLED. Once a submission
// attempt is made the invoice is terminal-bound; it is never silently retried
// under the same document number.
type DocumentStatus string

const (
	DocumentStatusReceived     DocumentStatus = "RECEIVED"
	DocumentStatusPreparing    DocumentStatus = "PREPARING"
	DocumentStatusSendingToPAC DocumentStatus = "SENDING_TO_PAC"
	DocumentStatusAuthorized   DocumentStatus = "AUTHORIZED"
	DocumentStatusRejected     DocumentStatus = "REJECTED"
	DocumentStatusError        DocumentStatus = "ERROR"
	DocumentStatusCancelled    DocumentStatus = "CANCELLED"
)

// Terminal reports whether no further submission transition is possible.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentStatusAuthorized, DocumentStatusRejected, DocumentStatusError, DocumentStatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether an operator may still cancel the document.
func (s DocumentStatus) Cancellable() bool {
	return s == DocumentStatusReceived || s == DocumentStatusPreparing
}

// rank orders statuses along the submission path so transitions can be
// checked for monotonicity. Terminal outcomes share the highest rank.
func (s DocumentStatus) rank() int {
	switch s {
	case DocumentStatusReceived:
		return 0
	case DocumentStatusPreparing:
		return 1
	case DocumentStatusSendingToPAC:
		return 2
	default:
		return 3
	}
}

// CanTransitionTo reports whether moving from s to next respects the state
// machine: strictly forward, and never out of a terminal state.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == DocumentStatusCancelled {
		return s.Cancellable()
	}
	return next.rank() > s.rank()
}

// EmailStatus tracks notification delivery, independent of DocumentStatus.
type EmailStatus string

const (
	EmailStatusPending  EmailStatus = "PENDING"
	EmailStatusSent     EmailStatus = "SENT"
	EmailStatusFailed   EmailStatus = "FAILED"
	EmailStatusRetrying EmailStatus = "RETRYING"
)

// Payment method codes from the DGI catalogue.
const (
	PaymentMethodCash         = "01"
	PaymentMethodCheck        = "02"
	PaymentMethodBankTransfer = "03"
	PaymentMethodCreditCard   = "04"
	PaymentMethodDebitCard    = "05"
	PaymentMethodCompensation = "06"
	PaymentMethodBarter       = "07"
	PaymentMethodCreditSale   = "08"
	PaymentMethodPrepaidCard  = "09"
	PaymentMethodMixed        = "10"
)

// PaymentMethodCodes lists every accepted payment method code.
var PaymentMethodCodes = []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10"}

// Invoice is the central fiscal document record. It is mutated only by the
// invoice service; artifact and email workers write back only their own
// sub-state fields (files, email_status).
type Invoice struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EmitterID  uuid.UUID `gorm:"type:uuid;not null;index" json:"emitter_id"`
	SeriesID   uuid.UUID `gorm:"type:uuid;not null" json:"series_id"`
	CustomerID uuid.UUID `gorm:"type:uuid;not null;index" json:"customer_id"`

	DocumentType   DocumentType   `gorm:"not null" json:"document_type"`
	DocumentNumber string         `gorm:"column:d_nrodf;not null" json:"document_number"`
	PtoFacDF       string         `gorm:"column:d_ptofacdf;not null" json:"pto_fac_df"`
	Status         DocumentStatus `gorm:"not null;default:'RECEIVED';index" json:"status"`
	EmailStatus    EmailStatus    `gorm:"not null;default:'PENDING'" json:"email_status"`
	ErrorMessage   *string        `json:"error_message,omitempty"`

	// Reference block for credit/debit notes.
	ReferenceCUFE   *string `json:"reference_cufe,omitempty"`
	ReferenceNumber *string `json:"reference_number,omitempty"`
	ReferencePtoFac *string `json:"reference_pto_fac,omitempty"`

	// Authority-issued identifiers and raw artifacts. CUFE is present iff the
	// document is AUTHORIZED.
	CUFE        *string `gorm:"column:cufe" json:"cufe,omitempty"`
	URLCUFE     *string `gorm:"column:url_cufe" json:"url_cufe,omitempty"`
	RawResponse *string `gorm:"column:raw_response;type:text" json:"-"`
	SignedXML   *string `gorm:"column:signed_xml;type:text" json:"-"`

	// DGI configuration captured at creation time.
	IAmb    int    `gorm:"column:i_amb;not null" json:"iamb"`
	ITpEmis string `gorm:"column:i_tp_emis;not null" json:"itpemis"`
	IDoc    string `gorm:"column:i_doc;not null" json:"idoc"`

	Subtotal    float64 `gorm:"not null" json:"subtotal"`
	ITBMSAmount float64 `gorm:"column:itbms_amount;not null" json:"itbms_amount"`
	TotalAmount float64 `gorm:"not null" json:"total_amount"`

	// Nullable, unique when present: the persistence layer is the source of
	// truth for idempotent creation.
	IdempotencyKey *string `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`

	NotificationEmails string `json:"notification_emails,omitempty"` // comma separated

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Emitter  *Emitter         `json:"emitter,omitempty"`
	Customer *Customer        `json:"customer,omitempty"`
	Items    []InvoiceItem    `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`
	Payments []InvoicePayment `gorm:"foreignKey:InvoiceID" json:"payments,omitempty"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// InvoiceItem is one immutable line of an invoice, created atomically with it.
type InvoiceItem struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID   uuid.UUID `gorm:"type:uuid;not null;index" json:"invoice_id"`
	LineNo      int       `gorm:"not null" json:"line_no"`
	SKU         *string   `json:"sku,omitempty"`
	Description string    `gorm:"not null" json:"description"`
	Quantity    float64   `gorm:"column:qty;not null" json:"quantity"`
	UnitPrice   float64   `gorm:"not null" json:"unit_price"`
	ITBMSRate   string    `gorm:"not null" json:"itbms_rate"`
	LineTotal   float64   `gorm:"not null" json:"line_total"`
	CreatedAt   time.Time `json:"created_at"`
}

func (it *InvoiceItem) BeforeCreate(tx *gorm.DB) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return nil
}

// InvoicePayment is a (method, amount) allocation; allocations must reconcile
// with the invoice total before submission.
type InvoicePayment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID uuid.UUID `gorm:"type:uuid;not null;index" json:"invoice_id"`
	Method    string    `gorm:"not null" json:"method"`
	Amount    float64   `gorm:"not null" json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *InvoicePayment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// InvoiceFiles records the durable artifacts generated after authorization.
// PDF and XML uploads are independent; either URL may be present alone.
type InvoiceFiles struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"invoice_id"`
	PDFURL      *string   `json:"pdf_url,omitempty"`
	XMLURL      *string   `json:"xml_url,omitempty"`
	PDFSize     int64     `json:"pdf_size"`
	XMLSize     int64     `json:"xml_size"`
	PDFError    *string   `json:"pdf_error,omitempty"`
	XMLError    *string   `json:"xml_error,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (f *InvoiceFiles) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
