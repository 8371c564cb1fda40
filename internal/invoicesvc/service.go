package invoicesvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/email"
	"github.com/hypernova-labs/dgi-service/internal/logger"
	"github.com/hypernova-labs/dgi-service/internal/models"
	"github.com/hypernova-labs/dgi-service/internal/pac"
	"github.com/hypernova-labs/dgi-service/internal/pdf"
	"github.com/hypernova-labs/dgi-service/internal/storage"
	"github.com/hypernova-labs/dgi-service/internal/validation"
	"github.com/hypernova-labs/dgi-service/internal/workflow"
)

// PDFGenerator renders the printed rendition of an authorized document.
type PDFGenerator func(pdf.CAFEInput) ([]byte, error)

// Service owns the invoice lifecycle. The invoice record is mutated only
// here; artifact and email steps write back only their own sub-state fields.
type Service struct {
	db     *gorm.DB
	pac    *pac.Client
	store  storage.ObjectStore
	mailer email.Sender
	engine *workflow.Engine
	genPDF PDFGenerator
	log    zerolog.Logger
}

func New(db *gorm.DB, pacClient *pac.Client, store storage.ObjectStore, mailer email.Sender) *Service {
	return &Service{
		db:     db,
		pac:    pacClient,
		store:  store,
		mailer: mailer,
		engine: workflow.NewEngine(db),
		genPDF: pdf.Generate,
		log:    logger.WithComponent("invoicesvc"),
	}
}

// WithPDFGenerator overrides the PDF renderer (tests).
func (s *Service) WithPDFGenerator(g PDFGenerator) *Service {
	s.genPDF = g
	return s
}

// CustomerInput creates or matches a customer inline with an invoice.
type CustomerInput struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	UBICode *string `json:"ubi_code,omitempty"`
	TaxID   *string `json:"tax_id,omitempty"`
}

// ItemInput is one requested invoice line. LineNo is the caller's own
// numbering and is kept on the record; the submitted payload renumbers lines
// by position.
type ItemInput struct {
	LineNo      int     `json:"line_no"`
	SKU         *string `json:"sku,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxRate     string  `json:"tax_rate"`
}

// PaymentInput is one payment method allocation.
type PaymentInput struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount"`
}

// ReferenceInput points a credit/debit note at its original document.
type ReferenceInput struct {
	CUFE   string `json:"cufe"`
	Number string `json:"nrodf"`
	PtoFac string `json:"pto_fac_df"`
}

// CreateInput is the inbound create-invoice request.
type CreateInput struct {
	DocumentType       models.DocumentType `json:"document_type"`
	CustomerID         *uuid.UUID          `json:"customer_id,omitempty"`
	Customer           *CustomerInput      `json:"customer,omitempty"`
	Items              []ItemInput         `json:"items"`
	Payments           []PaymentInput      `json:"payments"`
	NotificationEmails []string            `json:"notification_emails,omitempty"`
	Reference          *ReferenceInput     `json:"reference,omitempty"`
	PtoFacDF           string              `json:"pto_fac_df,omitempty"`
	IdempotencyKey     *string             `json:"idempotency_key,omitempty"`
}

// Create registers an invoice and drives it through the submission workflow.
// With an idempotency key, at most one invoice exists and at most one fiscal
// submission happens per key, no matter how many times Create is called; the
// second return value reports whether a new invoice was created.
func (s *Service) Create(ctx context.Context, emitterID uuid.UUID, in CreateInput) (*models.Invoice, bool, error) {
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(emitterID, *in.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	} else {
		in.IdempotencyKey = nil
	}

	var emitter models.Emitter
	if err := s.db.Where("id = ? AND is_active = ?", emitterID, true).First(&emitter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, &PreconditionError{Msg: "emitter not found or inactive"}
		}
		return nil, false, err
	}

	if err := validateCreateInput(in); err != nil {
		return nil, false, err
	}

	customer, err := s.resolveCustomer(emitter.ID, in)
	if err != nil {
		return nil, false, err
	}

	items, payments, totals, err := buildLines(in)
	if err != nil {
		return nil, false, err
	}

	ptoFac := in.PtoFacDF
	if ptoFac == "" {
		ptoFac = emitter.PtoFacDefault
	}

	var inv *models.Invoice
	err = s.db.Transaction(func(tx *gorm.DB) error {
		series, nerr := nextDocumentNumber(tx, emitter.ID, ptoFac, in.DocumentType)
		if nerr != nil {
			return nerr
		}
		record := &models.Invoice{
			EmitterID:          emitter.ID,
			SeriesID:           series.ID,
			CustomerID:         customer.ID,
			DocumentType:       in.DocumentType,
			DocumentNumber:     fmt.Sprintf("%010d", series.NextNumber-1),
			PtoFacDF:           ptoFac,
			Status:             models.DocumentStatusReceived,
			EmailStatus:        models.EmailStatusPending,
			IAmb:               emitter.IAmb,
			ITpEmis:            emitter.ITpEmisDefault,
			IDoc:               emitter.IDocDefault,
			Subtotal:           totals.Net.InexactFloat64(),
			ITBMSAmount:        totals.ITBMS.InexactFloat64(),
			TotalAmount:        totals.Gross.InexactFloat64(),
			IdempotencyKey:     in.IdempotencyKey,
			NotificationEmails: strings.Join(in.NotificationEmails, ","),
		}
		if in.Reference != nil {
			record.ReferenceCUFE = &in.Reference.CUFE
			record.ReferenceNumber = &in.Reference.Number
			record.ReferencePtoFac = &in.Reference.PtoFac
		}
		if cerr := tx.Create(record).Error; cerr != nil {
			return cerr
		}
		for i := range items {
			items[i].InvoiceID = record.ID
		}
		if cerr := tx.Create(&items).Error; cerr != nil {
			return cerr
		}
		for i := range payments {
			payments[i].InvoiceID = record.ID
		}
		if cerr := tx.Create(&payments).Error; cerr != nil {
			return cerr
		}
		inv = record
		return nil
	})
	if err != nil {
		// A concurrent Create with the same key won the race; the unique
		// constraint is the source of truth, so surface the winner's invoice.
		if errors.Is(err, gorm.ErrDuplicatedKey) && in.IdempotencyKey != nil {
			existing, ferr := s.findByIdempotencyKey(emitterID, *in.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	if err := s.Process(ctx, inv.ID); err != nil {
		return nil, false, err
	}
	fresh, err := s.Get(ctx, inv.ID)
	if err != nil {
		return nil, false, err
	}
	return fresh, true, nil
}

// Get loads one invoice with its associations.
func (s *Service) Get(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.Preload("Items").Preload("Payments").Preload("Customer").First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// List returns an emitter's invoices, optionally filtered by status.
func (s *Service) List(_ context.Context, emitterID uuid.UUID, status string, limit, offset int) ([]models.Invoice, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Model(&models.Invoice{}).Where("emitter_id = ?", emitterID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var invs []models.Invoice
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&invs).Error; err != nil {
		return nil, 0, err
	}
	return invs, total, nil
}

// Files returns the artifact record for an invoice, or ErrNotFound.
func (s *Service) Files(_ context.Context, id uuid.UUID) (*models.InvoiceFiles, error) {
	var files models.InvoiceFiles
	err := s.db.Where("invoice_id = ?", id).First(&files).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &files, nil
}

// Cancel marks a not-yet-submitted invoice CANCELLED. Once a submission
// attempt exists there is no cancellation, only observation of the outcome.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.Status.Cancellable() {
		return nil, &PreconditionError{Msg: fmt.Sprintf("cannot cancel invoice in status %s", inv.Status)}
	}
	if err := s.transition(inv, models.DocumentStatusCancelled, nil); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) findByIdempotencyKey(emitterID uuid.UUID, key string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.Where("emitter_id = ? AND idempotency_key = ?", emitterID, key).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Service) resolveCustomer(emitterID uuid.UUID, in CreateInput) (*models.Customer, error) {
	if in.CustomerID != nil {
		var c models.Customer
		err := s.db.Where("id = ? AND emitter_id = ?", *in.CustomerID, emitterID).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &PreconditionError{Msg: "customer not found for emitter"}
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	// Inline customer: match by email within the emitter, create otherwise.
	var c models.Customer
	err := s.db.Where("emitter_id = ? AND email = ?", emitterID, in.Customer.Email).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = models.Customer{
		EmitterID:   emitterID,
		Name:        in.Customer.Name,
		Email:       in.Customer.Email,
		Phone:       in.Customer.Phone,
		AddressLine: in.Customer.Address,
		UBICode:     in.Customer.UBICode,
		TaxID:       in.Customer.TaxID,
		IsActive:    true,
	}
	if err := s.db.Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func validateCreateInput(in CreateInput) error {
	v := validation.Violations{}
	if in.CustomerID == nil && in.Customer == nil {
		v["customer"] = "required"
	}
	if in.Customer != nil {
		validation.Required("customer.name", in.Customer.Name, v)
		validation.Email("customer.email", in.Customer.Email, v)
	}
	if in.DocumentType == "" {
		v["document_type"] = "required"
	}
	if len(in.Items) == 0 {
		v["items"] = "at_least_one_item"
	}
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		validation.Required(field+".description", it.Description, v)
		validation.PositiveFloat(field+".quantity", it.Quantity, v)
		validation.PositiveFloat(field+".unit_price", it.UnitPrice, v)
		validation.OneOf(field+".tax_rate", it.TaxRate, pac.ITBMSRateCodes, v)
	}
	if len(in.Payments) == 0 {
		v["payments"] = "at_least_one_payment"
	}
	for i, p := range in.Payments {
		field := fmt.Sprintf("payments[%d]", i)
		validation.OneOf(field+".method", p.Method, models.PaymentMethodCodes, v)
		validation.PositiveFloat(field+".amount", p.Amount, v)
	}
	switch in.DocumentType {
	case models.DocumentTypeCreditNote, models.DocumentTypeDebitNote:
		if in.Reference == nil {
			v["reference"] = "required_for_notes"
		}
	}
	if !v.Empty() {
		return &pac.ValidationError{Violations: v}
	}
	return nil
}

type lineTotals struct {
	Net   decimal.Decimal
	ITBMS decimal.Decimal
	Gross decimal.Decimal
}

// buildLines derives persisted line/payment records and invoice totals, and
// checks that the payment allocations reconcile with the computed total.
func buildLines(in CreateInput) ([]models.InvoiceItem, []models.InvoicePayment, *lineTotals, error) {
	hundred := decimal.NewFromInt(100)
	net := decimal.Zero
	tax := decimal.Zero
	items := make([]models.InvoiceItem, 0, len(in.Items))
	for _, it := range in.Items {
		lineTotal := decimal.NewFromFloat(it.Quantity).Mul(decimal.NewFromFloat(it.UnitPrice)).Round(2)
		rate, ok := pac.ITBMSRatePercent(it.TaxRate)
		if !ok {
			return nil, nil, nil, &pac.ValidationError{Violations: validation.Violations{"items.tax_rate": "unknown_rate_code"}}
		}
		net = net.Add(lineTotal)
		tax = tax.Add(lineTotal.Mul(rate).Div(hundred).Round(2))
		items = append(items, models.InvoiceItem{
			LineNo:      it.LineNo,
			SKU:         it.SKU,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			ITBMSRate:   it.TaxRate,
			LineTotal:   lineTotal.InexactFloat64(),
		})
	}
	gross := net.Add(tax)

	received := decimal.Zero
	payments := make([]models.InvoicePayment, 0, len(in.Payments))
	for _, p := range in.Payments {
		received = received.Add(decimal.NewFromFloat(p.Amount).Round(2))
		payments = append(payments, models.InvoicePayment{Method: p.Method, Amount: p.Amount})
	}
	if !received.Equal(gross) {
		return nil, nil, nil, &pac.ValidationError{Violations: validation.Violations{
			"payments": fmt.Sprintf("allocations total %s but document total is %s", received.StringFixed(2), gross.StringFixed(2)),
		}}
	}
	return items, payments, &lineTotals{Net: net, ITBMS: tax, Gross: gross}, nil
}

// nextDocumentNumber advances the per-series counter atomically and returns
// the series with NextNumber already incremented; the assigned number is
// NextNumber-1.
func nextDocumentNumber(tx *gorm.DB, emitterID uuid.UUID, ptoFac string, kind models.DocumentType) (*models.EmitterSeries, error) {
	var series models.EmitterSeries
	err := tx.Where("emitter_id = ? AND pto_fac_df = ? AND doc_kind = ?", emitterID, ptoFac, kind).First(&series).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		series = models.EmitterSeries{EmitterID: emitterID, PtoFacDF: ptoFac, DocKind: kind, NextNumber: 1, IsActive: true}
		if cerr := tx.Create(&series).Error; cerr != nil {
			return nil, cerr
		}
	} else if err != nil {
		return nil, err
	}
	res := tx.Model(&models.EmitterSeries{}).Where("id = ?", series.ID).
		Updates(map[string]any{
			"next_number":  gorm.Expr("next_number + 1"),
			"issued_count": gorm.Expr("issued_count + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if err := tx.First(&series, "id = ?", series.ID).Error; err != nil {
		return nil, err
	}
	return &series, nil
}
