package invoicesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/email"
	"github.com/hypernova-labs/dgi-service/internal/models"
	"github.com/hypernova-labs/dgi-service/internal/pac"
	"github.com/hypernova-labs/dgi-service/internal/pdf"
	"github.com/hypernova-labs/dgi-service/internal/storage"
	"github.com/hypernova-labs/dgi-service/internal/workflow"
)

// Step names, also the checkpoint keys.
const (
	stepPrepare   = "prepare"
	stepSubmit    = "submit"
	stepArtifacts = "artifacts"
	stepNotify    = "notify"
)

// runCache carries artifact bytes between steps of one run so the email step
// can attach them without re-reading object storage.
type runCache struct {
	pdfBytes []byte
	xmlBytes []byte
}

// Process drives an invoice through its workflow: prepare, submit, artifacts,
// notify. Builder and protocol failures are converted into a terminal invoice
// state with a stored message; they do not propagate. A resumed run whose
// submission attempt has an unknown outcome is marked ERROR and never
// re-submitted under the same document number.
func (s *Service) Process(ctx context.Context, invoiceID uuid.UUID) error {
	cache := &runCache{}
	steps := []workflow.Step{
		{Name: stepPrepare, Critical: true, Run: func(ctx context.Context) error { return s.stepPrepare(ctx, invoiceID) }},
		{Name: stepSubmit, Critical: true, AtMostOnce: true, Run: func(ctx context.Context) error { return s.stepSubmit(ctx, invoiceID) }},
		{Name: stepArtifacts, Run: func(ctx context.Context) error { return s.stepArtifacts(ctx, invoiceID, cache) }},
		{Name: stepNotify, Run: func(ctx context.Context) error { return s.stepNotify(ctx, invoiceID, cache) }},
	}
	err := s.engine.Run(ctx, invoiceID, steps)
	if errors.Is(err, workflow.ErrAlreadyAttempted) {
		inv, gerr := s.Get(ctx, invoiceID)
		if gerr != nil {
			return gerr
		}
		if inv.Status == models.DocumentStatusSendingToPAC {
			s.failInvoice(inv, "submission attempt outcome unknown; issue a new document instead of retrying")
		}
		return nil
	}
	return err
}

// Retry resumes the side-effect steps of an invoice whose run was interrupted.
// Terminal failures require a fresh submission under a new document number.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case models.DocumentStatusRejected, models.DocumentStatusError, models.DocumentStatusCancelled:
		return nil, &PreconditionError{Msg: fmt.Sprintf("invoice is %s; create a new submission", inv.Status)}
	}
	if err := s.Process(ctx, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ResendEmail re-triggers only the notification dispatcher for an authorized
// invoice. Fiscal state is never touched.
func (s *Service) ResendEmail(ctx context.Context, id uuid.UUID, to, cc []string) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != models.DocumentStatusAuthorized || inv.CUFE == nil || inv.URLCUFE == nil {
		return &PreconditionError{Msg: "resend requires an authorized invoice with fiscal identifiers"}
	}
	recipients := to
	if len(recipients) == 0 {
		recipients = s.recipients(inv)
	}
	s.setEmailStatus(inv.ID, models.EmailStatusRetrying)
	if err := s.sendInvoiceEmail(ctx, inv, recipients, cc, nil); err != nil {
		s.setEmailStatus(inv.ID, models.EmailStatusFailed)
		return fmt.Errorf("resend email: %w", err)
	}
	s.setEmailStatus(inv.ID, models.EmailStatusSent)
	return nil
}

func (s *Service) stepPrepare(ctx context.Context, id uuid.UUID) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status.Terminal() || inv.Status == models.DocumentStatusSendingToPAC {
		return nil
	}
	if inv.Status == models.DocumentStatusReceived {
		if err := s.transition(inv, models.DocumentStatusPreparing, nil); err != nil {
			return err
		}
	}
	emitter, customer, err := s.loadParties(inv)
	if err != nil {
		return err
	}
	if _, _, berr := pac.BuildDocument(s.buildInput(inv, emitter, customer)); berr != nil {
		var verr *pac.ValidationError
		if errors.As(berr, &verr) {
			s.failInvoice(inv, verr.Error())
			return nil
		}
		return berr
	}
	return nil
}

func (s *Service) stepSubmit(ctx context.Context, id uuid.UUID) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status.Terminal() {
		return nil
	}
	if inv.Status == models.DocumentStatusPreparing {
		if err := s.transition(inv, models.DocumentStatusSendingToPAC, nil); err != nil {
			return err
		}
	}
	emitter, customer, err := s.loadParties(inv)
	if err != nil {
		return err
	}
	doc, _, berr := pac.BuildDocument(s.buildInput(inv, emitter, customer))
	if berr != nil {
		s.failInvoice(inv, berr.Error())
		return nil
	}

	creds := pac.Credentials{APIKey: emitter.PACAPIKey, SubscriptionKey: emitter.PACSubscriptionKey}
	start := time.Now()
	resp, raw, serr := s.pac.Submit(ctx, creds, doc)
	elapsed := time.Since(start)

	if serr != nil {
		var verr *pac.ValidationError
		var terr *pac.TransportError
		var scherr *pac.SchemaError
		switch {
		case errors.As(serr, &verr):
			s.failInvoice(inv, verr.Error())
		case errors.As(serr, &terr):
			s.auditCall(inv.ID, doc, raw, terr.Status, elapsed, string(models.DocumentStatusError))
			s.failInvoice(inv, terr.Error())
		case errors.As(serr, &scherr):
			s.auditCall(inv.ID, doc, raw, 200, elapsed, string(models.DocumentStatusError))
			s.failInvoice(inv, scherr.Error())
		default:
			return serr
		}
		return nil
	}

	if pac.Classify(resp, s.pac.SuccessCodes()) == pac.ClassificationAuthorized {
		if auth := pac.ExtractAuthorization(resp, s.pac.SuccessCodes()); auth != nil {
			s.auditCall(inv.ID, doc, raw, 200, elapsed, string(models.DocumentStatusAuthorized))
			return s.authorizeInvoice(inv, auth, raw)
		}
		// A "successful" response without usable fiscal data degrades to a
		// rejection.
	}
	detail := pac.ExtractErrorDetail(resp)
	s.auditCall(inv.ID, doc, raw, 200, elapsed, string(models.DocumentStatusRejected))
	s.rejectInvoice(inv, detail)
	return nil
}

func (s *Service) stepArtifacts(ctx context.Context, id uuid.UUID, cache *runCache) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != models.DocumentStatusAuthorized {
		return workflow.ErrSkip
	}
	emitter, customer, err := s.loadParties(inv)
	if err != nil {
		return err
	}

	files := models.InvoiceFiles{InvoiceID: inv.ID, GeneratedAt: time.Now()}
	s.db.Where("invoice_id = ?", inv.ID).FirstOrCreate(&files)

	var pdfErr, xmlErr error

	pdfBytes, rerr := s.genPDF(s.cafeInput(inv, emitter, customer))
	if rerr != nil {
		pdfErr = rerr
	} else {
		key := storage.ObjectKey("cafe", inv.ID, inv.DocumentNumber, "pdf")
		url, uerr := s.store.Store(ctx, key, pdfBytes, "application/pdf")
		if uerr != nil {
			pdfErr = uerr
		} else {
			files.PDFURL = &url
			files.PDFSize = int64(len(pdfBytes))
			files.PDFError = nil
			cache.pdfBytes = pdfBytes
		}
	}
	if pdfErr != nil {
		msg := pdfErr.Error()
		files.PDFError = &msg
	}

	if inv.SignedXML != nil && *inv.SignedXML != "" {
		xmlBytes := []byte(*inv.SignedXML)
		key := storage.ObjectKey("xml", inv.ID, inv.DocumentNumber, "xml")
		url, uerr := s.store.Store(ctx, key, xmlBytes, "application/xml")
		if uerr != nil {
			xmlErr = uerr
			msg := uerr.Error()
			files.XMLError = &msg
		} else {
			files.XMLURL = &url
			files.XMLSize = int64(len(xmlBytes))
			files.XMLError = nil
			cache.xmlBytes = xmlBytes
		}
	}

	if err := s.db.Save(&files).Error; err != nil {
		return err
	}
	// Partial success is a valid end state; fail the step only when every
	// upload failed so a retry can re-run it.
	if pdfErr != nil && xmlErr != nil {
		return fmt.Errorf("artifact uploads failed: pdf: %v; xml: %v", pdfErr, xmlErr)
	}
	if pdfErr != nil {
		return fmt.Errorf("pdf artifact failed: %w", pdfErr)
	}
	if xmlErr != nil {
		return fmt.Errorf("xml artifact failed: %w", xmlErr)
	}
	return nil
}

func (s *Service) stepNotify(ctx context.Context, id uuid.UUID, cache *runCache) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != models.DocumentStatusAuthorized {
		return workflow.ErrSkip
	}
	var attachments []email.Attachment
	if len(cache.pdfBytes) > 0 {
		attachments = append(attachments, email.Attachment{
			Filename:    fmt.Sprintf("CAFE-%s.pdf", inv.DocumentNumber),
			ContentType: "application/pdf",
			Content:     cache.pdfBytes,
		})
	}
	if len(cache.xmlBytes) > 0 {
		attachments = append(attachments, email.Attachment{
			Filename:    fmt.Sprintf("FE-%s.xml", inv.DocumentNumber),
			ContentType: "application/xml",
			Content:     cache.xmlBytes,
		})
	}
	if err := s.sendInvoiceEmail(ctx, inv, s.recipients(inv), nil, attachments); err != nil {
		s.setEmailStatus(inv.ID, models.EmailStatusFailed)
		return err
	}
	s.setEmailStatus(inv.ID, models.EmailStatusSent)
	return nil
}

func (s *Service) sendInvoiceEmail(ctx context.Context, inv *models.Invoice, to, cc []string, attachments []email.Attachment) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	_, err := s.mailer.Send(ctx, email.Message{
		To:          to,
		Cc:          cc,
		Subject:     fmt.Sprintf("Factura Electrónica %s-%s", inv.PtoFacDF, inv.DocumentNumber),
		HTML:        invoiceEmailHTML(inv),
		Attachments: attachments,
	})
	return err
}

func (s *Service) recipients(inv *models.Invoice) []string {
	var out []string
	if inv.Customer != nil && inv.Customer.Email != "" {
		out = append(out, inv.Customer.Email)
	}
	for _, e := range strings.Split(inv.NotificationEmails, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func invoiceEmailHTML(inv *models.Invoice) string {
	cufe := ""
	url := ""
	if inv.CUFE != nil {
		cufe = *inv.CUFE
	}
	if inv.URLCUFE != nil {
		url = *inv.URLCUFE
	}
	return fmt.Sprintf(
		`<p>Su factura electrónica <strong>%s-%s</strong> ha sido autorizada por la DGI.</p>`+
			`<p>Total: B/. %.2f</p>`+
			`<p>CUFE: %s</p>`+
			`<p>Puede verificar el documento en: <a href="%s">%s</a></p>`,
		inv.PtoFacDF, inv.DocumentNumber, inv.TotalAmount, cufe, url, url)
}

// transition applies a guarded, monotonic status change. The WHERE clause on
// the current status makes concurrent transitions lose cleanly.
func (s *Service) transition(inv *models.Invoice, to models.DocumentStatus, extra map[string]any) error {
	if !inv.Status.CanTransitionTo(to) {
		return &PreconditionError{Msg: fmt.Sprintf("illegal transition %s -> %s", inv.Status, to)}
	}
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.Model(&models.Invoice{}).
		Where("id = ? AND status = ?", inv.ID, inv.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &PreconditionError{Msg: fmt.Sprintf("invoice %s moved out of %s concurrently", inv.ID, inv.Status)}
	}
	inv.Status = to
	return nil
}

// authorizeInvoice persists the fiscal identifiers atomically with the status
// change: CUFE exists iff the invoice is AUTHORIZED.
func (s *Service) authorizeInvoice(inv *models.Invoice, auth *pac.Authorization, raw []byte) error {
	rawStr := string(raw)
	err := s.transition(inv, models.DocumentStatusAuthorized, map[string]any{
		"cufe":         auth.CUFE,
		"url_cufe":     auth.URLCUFE,
		"raw_response": rawStr,
		"signed_xml":   auth.SignedXML,
	})
	if err != nil {
		return err
	}
	inv.CUFE = &auth.CUFE
	inv.URLCUFE = &auth.URLCUFE
	inv.SignedXML = &auth.SignedXML
	s.bumpSeries(inv.SeriesID, "authorized_count")
	s.log.Info().Str("invoice_id", inv.ID.String()).Str("cufe", auth.CUFE).Msg("invoice authorized")
	return nil
}

func (s *Service) rejectInvoice(inv *models.Invoice, detail string) {
	if err := s.transition(inv, models.DocumentStatusRejected, map[string]any{"error_message": detail}); err != nil {
		s.log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("persist rejection")
		return
	}
	inv.ErrorMessage = &detail
	s.bumpSeries(inv.SeriesID, "rejected_count")
	s.log.Info().Str("invoice_id", inv.ID.String()).Str("detail", detail).Msg("invoice rejected by authority")
}

func (s *Service) failInvoice(inv *models.Invoice, msg string) {
	if err := s.transition(inv, models.DocumentStatusError, map[string]any{"error_message": msg}); err != nil {
		s.log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("persist failure state")
		return
	}
	inv.ErrorMessage = &msg
	s.log.Warn().Str("invoice_id", inv.ID.String()).Str("detail", msg).Msg("invoice submission failed")
}

func (s *Service) setEmailStatus(id uuid.UUID, status models.EmailStatus) {
	if err := s.db.Model(&models.Invoice{}).Where("id = ?", id).Update("email_status", status).Error; err != nil {
		s.log.Error().Err(err).Str("invoice_id", id.String()).Msg("persist email status")
	}
}

func (s *Service) bumpSeries(seriesID uuid.UUID, column string) {
	if err := s.db.Model(&models.EmitterSeries{}).Where("id = ?", seriesID).
		Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
		s.log.Error().Err(err).Msg("bump series counter")
	}
}

func (s *Service) auditCall(invoiceID uuid.UUID, doc *pac.Document, raw []byte, status int, elapsed time.Duration, outcome string) {
	reqBody, _ := json.Marshal(doc)
	rec := models.APICallLog{
		InvoiceID:    invoiceID,
		Endpoint:     s.pac.Endpoint(),
		RequestBody:  string(reqBody),
		ResponseBody: string(raw),
		HTTPStatus:   status,
		DurationMs:   elapsed.Milliseconds(),
		Outcome:      outcome,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Error().Err(err).Msg("persist api call log")
	}
}

func (s *Service) loadParties(inv *models.Invoice) (*models.Emitter, *models.Customer, error) {
	var emitter models.Emitter
	if err := s.db.First(&emitter, "id = ?", inv.EmitterID).Error; err != nil {
		return nil, nil, err
	}
	var customer models.Customer
	if err := s.db.First(&customer, "id = ?", inv.CustomerID).Error; err != nil {
		return nil, nil, err
	}
	return &emitter, &customer, nil
}

func (s *Service) buildInput(inv *models.Invoice, emitter *models.Emitter, customer *models.Customer) pac.BuildInput {
	in := pac.BuildInput{
		Emitter:        emitter,
		Customer:       customer,
		DocumentType:   inv.DocumentType,
		DocumentNumber: inv.DocumentNumber,
		PtoFacDF:       inv.PtoFacDF,
		ITpEmis:        inv.ITpEmis,
		IssuedAt:       inv.CreatedAt,
		Items:          inv.Items,
		Payments:       inv.Payments,
	}
	if inv.ReferenceCUFE != nil {
		in.Reference = &pac.DocRef{
			DCUFERef:     *inv.ReferenceCUFE,
			DNroDFRef:    deref(inv.ReferenceNumber),
			DPtoFacDFRef: deref(inv.ReferencePtoFac),
		}
	}
	for _, e := range strings.Split(inv.NotificationEmails, ",") {
		if e = strings.TrimSpace(e); e != "" {
			in.NotificationEmails = append(in.NotificationEmails, e)
		}
	}
	return in
}

func (s *Service) cafeInput(inv *models.Invoice, emitter *models.Emitter, customer *models.Customer) pdf.CAFEInput {
	in := pdf.CAFEInput{
		EmitterName:    emitter.Name,
		EmitterRUC:     fmt.Sprintf("%s-%s DV %s", emitter.RUCTipo, emitter.RUCNumero, emitter.RUCDV),
		EmitterAddress: deref(emitter.AddressLine),
		CustomerName:   customer.Name,
		CustomerEmail:  customer.Email,
		DocumentNumber: inv.DocumentNumber,
		PtoFacDF:       inv.PtoFacDF,
		IssuedAt:       inv.CreatedAt,
		CUFE:           deref(inv.CUFE),
		URLCUFE:        deref(inv.URLCUFE),
		Net:            fmt.Sprintf("%.2f", inv.Subtotal),
		ITBMS:          fmt.Sprintf("%.2f", inv.ITBMSAmount),
		Total:          fmt.Sprintf("%.2f", inv.TotalAmount),
	}
	for i, it := range inv.Items {
		in.Items = append(in.Items, pdf.CAFELine{
			Seq:         fmt.Sprintf("%03d", i+1),
			Description: it.Description,
			Quantity:    fmt.Sprintf("%g", it.Quantity),
			UnitPrice:   fmt.Sprintf("%.2f", it.UnitPrice),
			LineTotal:   fmt.Sprintf("%.2f", it.LineTotal),
		})
	}
	return in
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
