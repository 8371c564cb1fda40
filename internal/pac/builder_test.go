package pac

import (
	"errors"
	"testing"
	"time"

	"github.com/hypernova-labs/dgi-service/internal/models"
)

func testEmitter() *models.Emitter {
	addr := "Calle 50, Panama"
	return &models.Emitter{
		Name:           "Hypernova Labs S.A.",
		CompanyCode:    "HNL",
		RUCTipo:        "2",
		RUCNumero:      "155646463-2-2017",
		RUCDV:          "86",
		SucEm:          "0001",
		PtoFacDefault:  "001",
		IAmb:           2,
		ITpEmisDefault: "01",
		IDocDefault:    "01",
		Email:          "fe@hypernova-labs.com",
		AddressLine:    &addr,
	}
}

func testCustomer() *models.Customer {
	return &models.Customer{
		Name:  "Cliente Uno",
		Email: "cliente@example.com",
	}
}

func testInput() BuildInput {
	return BuildInput{
		Emitter:        testEmitter(),
		Customer:       testCustomer(),
		DocumentType:   models.DocumentTypeInvoice,
		DocumentNumber: "0000000001",
		PtoFacDF:       "001",
		IssuedAt:       time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		Items: []models.InvoiceItem{
			{LineNo: 1, Description: "Servicio de instalación", Quantity: 1, UnitPrice: 100.00, ITBMSRate: "07", LineTotal: 100.00},
		},
		Payments: []models.InvoicePayment{
			{Method: models.PaymentMethodCash, Amount: 107.00},
		},
	}
}

func TestBuildDocumentHappyPathTotals(t *testing.T) {
	doc, totals, err := BuildDocument(testInput())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := doc.GTot.DTotNeto; got != "100.00" {
		t.Fatalf("net = %q, want 100.00", got)
	}
	if got := doc.GTot.DTotITBMS; got != "7.00" {
		t.Fatalf("itbms = %q, want 7.00", got)
	}
	if got := doc.GTot.DTotGravado; got != "107.00" {
		t.Fatalf("gross = %q, want 107.00", got)
	}
	if got := doc.GTot.DVTot; got != "107.00" {
		t.Fatalf("dVTot = %q, want 107.00", got)
	}
	if got := doc.GTot.DTotRec; got != "107.00" {
		t.Fatalf("dTotRec = %q, want 107.00", got)
	}
	if totals.Gross.StringFixed(2) != "107.00" {
		t.Fatalf("totals gross = %s", totals.Gross)
	}
	if doc.GTot.DNroItems != 1 {
		t.Fatalf("dNroItems = %d", doc.GTot.DNroItems)
	}
}

func TestBuildDocumentSumsLinesNotPayments(t *testing.T) {
	in := testInput()
	in.Items = []models.InvoiceItem{
		{Description: "A", Quantity: 2, UnitPrice: 10.50, ITBMSRate: "07", LineTotal: 21.00},
		{Description: "B", Quantity: 1, UnitPrice: 33.33, ITBMSRate: "00", LineTotal: 33.33},
		{Description: "C", Quantity: 3, UnitPrice: 5.00, ITBMSRate: "10", LineTotal: 15.00},
	}
	// Deliberately off payment total: dTotRec is a reconciliation figure, not
	// a source for the item totals.
	in.Payments = []models.InvoicePayment{{Method: "03", Amount: 99.99}}

	doc, _, err := BuildDocument(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.GTot.DTotNeto != "69.33" {
		t.Fatalf("net = %q, want 69.33", doc.GTot.DTotNeto)
	}
	// 21.00*7% = 1.47, 33.33*0% = 0, 15.00*10% = 1.50
	if doc.GTot.DTotITBMS != "2.97" {
		t.Fatalf("itbms = %q, want 2.97", doc.GTot.DTotITBMS)
	}
	if doc.GTot.DTotRec != "99.99" {
		t.Fatalf("dTotRec = %q, want 99.99", doc.GTot.DTotRec)
	}
}

func TestBuildDocumentRenumbersLines(t *testing.T) {
	in := testInput()
	in.Items = []models.InvoiceItem{
		{LineNo: 5, Description: "A", Quantity: 1, UnitPrice: 1, ITBMSRate: "00", LineTotal: 1},
		{LineNo: 1, Description: "B", Quantity: 1, UnitPrice: 1, ITBMSRate: "00", LineTotal: 1},
		{LineNo: 9, Description: "C", Quantity: 1, UnitPrice: 1, ITBMSRate: "00", LineTotal: 1},
	}
	doc, _, err := BuildDocument(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"001", "002", "003"}
	for i, w := range want {
		if doc.GItems[i].DSecItem != w {
			t.Fatalf("item %d seq = %q, want %q", i, doc.GItems[i].DSecItem, w)
		}
	}
}

func TestBuildDocumentEnvironmentFromEmitter(t *testing.T) {
	in := testInput()
	in.Emitter.IAmb = 1
	doc, _, err := BuildDocument(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.DGen.IAmb != 1 {
		t.Fatalf("iAmb = %d, want 1", doc.DGen.IAmb)
	}
	if doc.DExt.TestMode {
		t.Fatalf("testMode should be false in production environment")
	}

	in.Emitter.IAmb = 2
	doc, _, err = BuildDocument(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.DGen.IAmb != 2 || !doc.DExt.TestMode {
		t.Fatalf("iAmb = %d testMode = %v, want 2/true", doc.DGen.IAmb, doc.DExt.TestMode)
	}
}

func TestBuildDocumentValidationFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BuildInput)
	}{
		{"no items", func(in *BuildInput) { in.Items = nil }},
		{"zero quantity", func(in *BuildInput) { in.Items[0].Quantity = 0 }},
		{"negative price", func(in *BuildInput) { in.Items[0].UnitPrice = -1 }},
		{"no payments", func(in *BuildInput) { in.Payments = nil }},
		{"bad payment method", func(in *BuildInput) { in.Payments[0].Method = "99" }},
		{"missing ruc", func(in *BuildInput) { in.Emitter.RUCNumero = "" }},
		{"missing dv", func(in *BuildInput) { in.Emitter.RUCDV = "" }},
		{"missing doc number", func(in *BuildInput) { in.DocumentNumber = "" }},
		{"missing customer name", func(in *BuildInput) { in.Customer.Name = "" }},
		{"unknown rate code", func(in *BuildInput) { in.Items[0].ITBMSRate = "05" }},
		{"nil emitter", func(in *BuildInput) { in.Emitter = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := testInput()
			tc.mutate(&in)
			doc, _, err := BuildDocument(in)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if doc != nil {
				t.Fatalf("failed build must produce no document")
			}
		})
	}
}

func TestBuildDocumentNotificationExtension(t *testing.T) {
	in := testInput()
	in.NotificationEmails = []string{"a@example.com", "b@example.com"}
	doc, _, err := BuildDocument(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.DExt.NotificationChannel != "email" || len(doc.DExt.NotificationRecipients) != 2 {
		t.Fatalf("unexpected extension: %#v", doc.DExt)
	}
	if doc.DExt.CompanyCode != "HNL" {
		t.Fatalf("companyCode = %q", doc.DExt.CompanyCode)
	}
}

func TestBuildDocumentCreditNoteReference(t *testing.T) {
	in := testInput()
	in.DocumentType = models.DocumentTypeCreditNote
	in.Reference = &DocRef{DCUFERef: "FE0123", DNroDFRef: "0000000009", DPtoFacDFRef: "001"}
	doc, _, err := BuildDocument(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.DGen.IDoc != "04" {
		t.Fatalf("iDoc = %q, want 04", doc.DGen.IDoc)
	}
	if doc.DGen.GDFRef == nil || doc.DGen.GDFRef.DCUFERef != "FE0123" {
		t.Fatalf("reference not carried: %#v", doc.DGen.GDFRef)
	}
}
