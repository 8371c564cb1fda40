package invoicesvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/email"
	"github.com/hypernova-labs/dgi-service/internal/models"
	"github.com/hypernova-labs/dgi-service/internal/pac"
	"github.com/hypernova-labs/dgi-service/internal/pdf"
)

const authorizedBody = `{
	"status": 200,
	"message": "Operación realizada con éxito",
	"data": [{
		"lote": {"numero": "L-100"},
		"codigo": "0260",
		"mensaje": "Autorizado el uso de la FE",
		"protocolo": {
			"cufe": "FE0120000155555-2-2025-46002025082800000000011",
			"urlCufe": "https://dgi-fep.mef.gob.pa/Consultas/FacturasPorCUFE",
			"xmlFE": "<rFE><dId>FE012</dId></rFE>"
		}
	}]
}`

const rejectedBody = `{
	"status": 200,
	"message": "Documento procesado",
	"data": [{
		"lote": {"numero": "L-101"},
		"codigo": "0302",
		"mensaje": "RUC inválido"
	}]
}`

type fakeStore struct {
	mu     sync.Mutex
	keys   []string
	failPDF bool
	failXML bool
}

func (f *fakeStore) Store(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPDF && strings.HasSuffix(key, ".pdf") {
		return "", errors.New("bucket unavailable")
	}
	if f.failXML && strings.HasSuffix(key, ".xml") {
		return "", errors.New("bucket unavailable")
	}
	f.keys = append(f.keys, key)
	return "https://storage.test/" + key, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	fail bool
}

func (f *fakeMailer) Send(_ context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("resend: 503")
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	store   *fakeStore
	mailer  *fakeMailer
	emitter *models.Emitter
	pacHits *int
}

func setup(t *testing.T, pacStatus int, pacBody string) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(pacStatus)
		fmt.Fprint(w, pacBody)
	}))
	t.Cleanup(srv.Close)

	emitter := &models.Emitter{
		Name:               "Tienda La Central S.A.",
		CompanyCode:        "LACENTRAL",
		RUCTipo:            "2",
		RUCNumero:          "155555555-2-2025",
		RUCDV:              "46",
		SucEm:              "0001",
		PtoFacDefault:      "001",
		IAmb:               2,
		ITpEmisDefault:     "01",
		IDocDefault:        "01",
		Email:              "facturacion@lacentral.pa",
		PACAPIKey:          "pac-key-abc123",
		PACSubscriptionKey: "sub-key-def456",
		IsActive:           true,
	}
	if err := db.Create(emitter).Error; err != nil {
		t.Fatalf("create emitter: %v", err)
	}

	store := &fakeStore{}
	mailer := &fakeMailer{}
	client := pac.NewClient(srv.URL, []string{"0260", "0261", "0262"}, 5*time.Second)
	svc := New(db, client, store, mailer).WithPDFGenerator(func(pdf.CAFEInput) ([]byte, error) {
		return []byte("%PDF-1.7 fake"), nil
	})
	return &fixture{svc: svc, db: db, store: store, mailer: mailer, emitter: emitter, pacHits: &hits}
}

func validInput() CreateInput {
	return CreateInput{
		DocumentType: models.DocumentTypeInvoice,
		Customer: &CustomerInput{
			Name:  "Juan Pérez",
			Email: "juan.perez@example.com",
		},
		Items: []ItemInput{
			{LineNo: 1, Description: "Servicio de consultoría", Quantity: 1, UnitPrice: 100.00, TaxRate: "07"},
		},
		Payments: []PaymentInput{
			{Method: models.PaymentMethodCash, Amount: 107.00},
		},
	}
}

func TestCreateAuthorizedEndToEnd(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)

	inv, created, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected a new invoice")
	}
	if inv.Status != models.DocumentStatusAuthorized {
		t.Fatalf("status = %s, want AUTHORIZED (error: %v)", inv.Status, inv.ErrorMessage)
	}
	if inv.CUFE == nil || !strings.HasPrefix(*inv.CUFE, "FE0120000155555") {
		t.Fatalf("cufe = %v", inv.CUFE)
	}
	if inv.URLCUFE == nil || *inv.URLCUFE == "" {
		t.Fatal("url_cufe missing on authorized invoice")
	}
	if inv.DocumentNumber != "0000000001" {
		t.Fatalf("document number = %q", inv.DocumentNumber)
	}
	if inv.EmailStatus != models.EmailStatusSent {
		t.Fatalf("email status = %s", inv.EmailStatus)
	}

	// Both artifacts stored, one email with both attached.
	if f.store.count() != 2 {
		t.Fatalf("stored %d artifacts, want 2", f.store.count())
	}
	if f.mailer.count() != 1 {
		t.Fatalf("sent %d emails, want 1", f.mailer.count())
	}
	msg := f.mailer.sent[0]
	if len(msg.To) != 1 || msg.To[0] != "juan.perez@example.com" {
		t.Fatalf("recipients = %v", msg.To)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("attachments = %d, want pdf+xml", len(msg.Attachments))
	}

	files, err := f.svc.Files(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if files.PDFURL == nil || files.XMLURL == nil {
		t.Fatalf("artifact urls missing: %+v", files)
	}

	var audit models.APICallLog
	if err := f.db.Where("invoice_id = ?", inv.ID).First(&audit).Error; err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if audit.Outcome != "AUTHORIZED" || audit.HTTPStatus != 200 {
		t.Fatalf("audit = %+v", audit)
	}
	if !strings.Contains(audit.RequestBody, `"dNroDF":"0000000001"`) {
		t.Fatal("audit request body missing document payload")
	}

	var series models.EmitterSeries
	if err := f.db.Where("emitter_id = ?", f.emitter.ID).First(&series).Error; err != nil {
		t.Fatalf("series: %v", err)
	}
	if series.IssuedCount != 1 || series.AuthorizedCount != 1 {
		t.Fatalf("series counters issued=%d authorized=%d", series.IssuedCount, series.AuthorizedCount)
	}
}

func TestCreateRejectedStoresDetail(t *testing.T) {
	f := setup(t, http.StatusOK, rejectedBody)

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != models.DocumentStatusRejected {
		t.Fatalf("status = %s, want REJECTED", inv.Status)
	}
	if inv.ErrorMessage == nil || !strings.Contains(*inv.ErrorMessage, "RUC inválido") {
		t.Fatalf("error message = %v", inv.ErrorMessage)
	}
	if inv.CUFE != nil {
		t.Fatal("rejected invoice must not carry a CUFE")
	}
	// Rejection is a business outcome: no artifacts, no notification.
	if f.store.count() != 0 || f.mailer.count() != 0 {
		t.Fatalf("side effects ran on rejection: store=%d mail=%d", f.store.count(), f.mailer.count())
	}
	var series models.EmitterSeries
	f.db.Where("emitter_id = ?", f.emitter.ID).First(&series)
	if series.RejectedCount != 1 {
		t.Fatalf("rejected_count = %d", series.RejectedCount)
	}
}

func TestCreateTransportFailureMarksError(t *testing.T) {
	f := setup(t, http.StatusBadGateway, "upstream unavailable")

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != models.DocumentStatusError {
		t.Fatalf("status = %s, want ERROR", inv.Status)
	}
	if inv.ErrorMessage == nil || !strings.Contains(*inv.ErrorMessage, "502") {
		t.Fatalf("error message = %v", inv.ErrorMessage)
	}
	if f.store.count() != 0 || f.mailer.count() != 0 {
		t.Fatal("side effects ran on transport failure")
	}
}

func TestCreateSchemaViolationMarksError(t *testing.T) {
	// 200 OK but no data array: malformed per the PAC contract.
	f := setup(t, http.StatusOK, `{"status":200,"message":"ok"}`)

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != models.DocumentStatusError {
		t.Fatalf("status = %s, want ERROR", inv.Status)
	}
	if inv.ErrorMessage == nil || !strings.Contains(*inv.ErrorMessage, "data") {
		t.Fatalf("error message = %v", inv.ErrorMessage)
	}
}

func TestCreateIdempotentReplay(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)
	key := "order-789"
	in := validInput()
	in.IdempotencyKey = &key

	first, created, err := f.svc.Create(context.Background(), f.emitter.ID, in)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := f.svc.Create(context.Background(), f.emitter.ID, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created {
		t.Fatal("replay must not create a new invoice")
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different invoice: %s vs %s", second.ID, first.ID)
	}
	if *f.pacHits != 1 {
		t.Fatalf("pac was called %d times, want exactly 1", *f.pacHits)
	}
	var n int64
	f.db.Model(&models.Invoice{}).Count(&n)
	if n != 1 {
		t.Fatalf("invoice rows = %d, want 1", n)
	}
}

func TestCreateValidationFailure(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)
	in := validInput()
	in.Items = nil

	_, _, err := f.svc.Create(context.Background(), f.emitter.ID, in)
	var verr *pac.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Violations["items"]; !ok {
		t.Fatalf("violations = %v", verr.Violations)
	}
	var n int64
	f.db.Model(&models.Invoice{}).Count(&n)
	if n != 0 {
		t.Fatal("validation failure must not persist an invoice")
	}
	if *f.pacHits != 0 {
		t.Fatal("validation failure must not reach the PAC")
	}
}

func TestCreatePaymentReconciliationMismatch(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)
	in := validInput()
	in.Payments = []PaymentInput{{Method: models.PaymentMethodCash, Amount: 99.99}}

	_, _, err := f.svc.Create(context.Background(), f.emitter.ID, in)
	var verr *pac.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if msg := verr.Violations["payments"]; !strings.Contains(msg, "107.00") {
		t.Fatalf("violation = %q", msg)
	}
}

func TestCreateDocumentNumbersAdvance(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)

	first, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.DocumentNumber != "0000000001" || second.DocumentNumber != "0000000002" {
		t.Fatalf("numbers = %s, %s", first.DocumentNumber, second.DocumentNumber)
	}
}

func TestCancelBeforeSubmission(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)

	// Seed an invoice that never entered the workflow.
	inv := &models.Invoice{
		EmitterID:      f.emitter.ID,
		SeriesID:       uuid.New(),
		CustomerID:     uuid.New(),
		DocumentType:   models.DocumentTypeInvoice,
		DocumentNumber: "0000000009",
		PtoFacDF:       "001",
		Status:         models.DocumentStatusReceived,
		EmailStatus:    models.EmailStatusPending,
		IAmb:           2,
		ITpEmis:        "01",
		IDoc:           "01",
	}
	if err := f.db.Create(inv).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := f.svc.Cancel(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.DocumentStatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCancelAfterSubmissionRefused(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.Cancel(context.Background(), inv.ID)
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	fresh, _ := f.svc.Get(context.Background(), inv.ID)
	if fresh.Status != models.DocumentStatusAuthorized {
		t.Fatalf("cancel attempt changed status to %s", fresh.Status)
	}
}

func TestResendEmailAfterAuthorization(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := f.mailer.count()

	if err := f.svc.ResendEmail(context.Background(), inv.ID, []string{"gerencia@lacentral.pa"}, nil); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if f.mailer.count() != before+1 {
		t.Fatalf("resend sent %d emails", f.mailer.count()-before)
	}
	last := f.mailer.sent[len(f.mailer.sent)-1]
	if len(last.To) != 1 || last.To[0] != "gerencia@lacentral.pa" {
		t.Fatalf("override recipients = %v", last.To)
	}

	fresh, _ := f.svc.Get(context.Background(), inv.ID)
	if fresh.Status != models.DocumentStatusAuthorized || fresh.CUFE == nil {
		t.Fatal("resend must not touch fiscal state")
	}
	if fresh.EmailStatus != models.EmailStatusSent {
		t.Fatalf("email status = %s", fresh.EmailStatus)
	}
}

func TestResendEmailRequiresAuthorization(t *testing.T) {
	f := setup(t, http.StatusOK, rejectedBody)

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = f.svc.ResendEmail(context.Background(), inv.ID, nil, nil)
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if f.mailer.count() != 0 {
		t.Fatal("dispatcher was called for a rejected invoice")
	}
}

func TestEmailFailureDoesNotAffectFiscalState(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)
	f.mailer.fail = true

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != models.DocumentStatusAuthorized {
		t.Fatalf("status = %s, email failure must not change it", inv.Status)
	}
	if inv.CUFE == nil {
		t.Fatal("cufe lost after email failure")
	}
	if inv.EmailStatus != models.EmailStatusFailed {
		t.Fatalf("email status = %s, want FAILED", inv.EmailStatus)
	}
}

func TestArtifactPartialFailureIsRecorded(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)
	f.store.failPDF = true

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != models.DocumentStatusAuthorized {
		t.Fatalf("status = %s", inv.Status)
	}
	files, err := f.svc.Files(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if files.PDFError == nil || files.PDFURL != nil {
		t.Fatalf("pdf failure not recorded: %+v", files)
	}
	if files.XMLURL == nil {
		t.Fatal("xml upload should have succeeded independently")
	}
}

func TestRetryResumesInterruptedSideEffects(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)
	f.mailer.fail = true

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.EmailStatus != models.EmailStatusFailed {
		t.Fatalf("precondition: email status = %s", inv.EmailStatus)
	}

	f.mailer.fail = false
	fresh, err := f.svc.Retry(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fresh.EmailStatus != models.EmailStatusSent {
		t.Fatalf("email status after retry = %s", fresh.EmailStatus)
	}
	// The fiscal submission must not have been repeated.
	if *f.pacHits != 1 {
		t.Fatalf("pac hits = %d, retry must never re-submit", *f.pacHits)
	}
}

func TestRetryRefusedForTerminalFailures(t *testing.T) {
	f := setup(t, http.StatusOK, rejectedBody)

	inv, _, err := f.svc.Create(context.Background(), f.emitter.ID, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.Retry(context.Background(), inv.ID)
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
}

func TestInterruptedSubmissionIsNeverRepeated(t *testing.T) {
	f := setup(t, http.StatusOK, authorizedBody)

	// Simulate a crash mid-submission: invoice stuck in SENDING_TO_PAC with a
	// started-but-unfinished submit checkpoint.
	inv := &models.Invoice{
		EmitterID:      f.emitter.ID,
		SeriesID:       uuid.New(),
		CustomerID:     uuid.New(),
		DocumentType:   models.DocumentTypeInvoice,
		DocumentNumber: "0000000042",
		PtoFacDF:       "001",
		Status:         models.DocumentStatusSendingToPAC,
		EmailStatus:    models.EmailStatusPending,
		IAmb:           2,
		ITpEmis:        "01",
		IDoc:           "01",
	}
	if err := f.db.Create(inv).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	job := &models.WorkflowJob{InvoiceID: inv.ID, Status: models.WorkflowStatusRunning, CurrentStep: "submit"}
	if err := f.db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	now := time.Now()
	steps := []models.WorkflowStep{
		{JobID: job.ID, Name: "prepare", Status: models.WorkflowStatusCompleted, Attempts: 1, StartedAt: &now, CompletedAt: &now},
		{JobID: job.ID, Name: "submit", Status: models.WorkflowStatusRunning, Attempts: 1, StartedAt: &now},
	}
	for i := range steps {
		if err := f.db.Create(&steps[i]).Error; err != nil {
			t.Fatalf("seed step: %v", err)
		}
	}

	fresh, err := f.svc.Retry(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fresh.Status != models.DocumentStatusError {
		t.Fatalf("status = %s, want ERROR for unknown submission outcome", fresh.Status)
	}
	if *f.pacHits != 0 {
		t.Fatalf("pac hits = %d, an ambiguous submission must never be repeated", *f.pacHits)
	}
}
