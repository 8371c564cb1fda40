package pac

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hypernova-labs/dgi-service/internal/models"
	"github.com/hypernova-labs/dgi-service/internal/validation"
)

// ITBMS rate codes accepted by the authority, mapped to their percentage.
var itbmsRates = map[string]decimal.Decimal{
	"00": decimal.Zero,
	"07": decimal.NewFromInt(7),
	"10": decimal.NewFromInt(10),
	"15": decimal.NewFromInt(15),
}

// ITBMSRateCodes lists the accepted rate codes, for inbound validation.
var ITBMSRateCodes = []string{"00", "07", "10", "15"}

// ITBMSRatePercent returns the percentage for a rate code.
func ITBMSRatePercent(code string) (decimal.Decimal, bool) {
	rate, ok := itbmsRates[code]
	return rate, ok
}

// Document kind to DGI iDoc code.
var docKindCodes = map[models.DocumentType]string{
	models.DocumentTypeInvoice:        "01",
	models.DocumentTypeImportInvoice:  "02",
	models.DocumentTypeExportInvoice:  "03",
	models.DocumentTypeCreditNote:     "04",
	models.DocumentTypeDebitNote:      "05",
	models.DocumentTypeZoneFranca:     "06",
	models.DocumentTypeReembolso:      "07",
	models.DocumentTypeForeignInvoice: "08",
}

// BuildInput carries fully resolved records into the builder. Missing required
// emitter fields are a caller error and fail before building.
type BuildInput struct {
	Emitter            *models.Emitter
	Customer           *models.Customer
	DocumentType       models.DocumentType
	DocumentNumber     string
	PtoFacDF           string
	ITpEmis            string
	IssuedAt           time.Time
	Items              []models.InvoiceItem
	Payments           []models.InvoicePayment
	Reference          *DocRef
	NotificationEmails []string
}

// BuildTotals is the arithmetic result of a build, for persistence alongside
// the document.
type BuildTotals struct {
	Net   decimal.Decimal
	ITBMS decimal.Decimal
	Gross decimal.Decimal
}

// BuildDocument deterministically transforms emitter, customer, items, and
// payment allocations into the submission payload. Pure: no I/O, and a failed
// build produces no document.
//
// The environment flag always comes from the emitter's configured iAmb;
// callers cannot override it per invoice. Item sequence numbers are the
// 1-based position in the input list, zero-padded to three digits, regardless
// of any caller-assigned line_no.
func BuildDocument(in BuildInput) (*Document, *BuildTotals, error) {
	v := validation.Violations{}
	if in.Emitter == nil {
		v["emitter"] = "required"
	} else {
		validation.Required("emitter.name", in.Emitter.Name, v)
		validation.Required("emitter.ruc_tipo", in.Emitter.RUCTipo, v)
		validation.Required("emitter.ruc_numero", in.Emitter.RUCNumero, v)
		validation.Required("emitter.ruc_dv", in.Emitter.RUCDV, v)
		validation.Required("emitter.suc_em", in.Emitter.SucEm, v)
		if in.Emitter.IAmb != 1 && in.Emitter.IAmb != 2 {
			v["emitter.iamb"] = "must_be_1_or_2"
		}
	}
	if in.Customer == nil {
		v["customer"] = "required"
	} else {
		validation.Required("customer.name", in.Customer.Name, v)
	}
	validation.Required("document_number", in.DocumentNumber, v)
	validation.Required("pto_fac_df", in.PtoFacDF, v)
	if _, ok := docKindCodes[in.DocumentType]; !ok {
		v["document_type"] = "not_allowed"
	}
	if len(in.Items) == 0 {
		v["items"] = "at_least_one_item"
	}
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		validation.Required(field+".description", it.Description, v)
		validation.PositiveFloat(field+".quantity", it.Quantity, v)
		validation.PositiveFloat(field+".unit_price", it.UnitPrice, v)
		validation.PositiveFloat(field+".line_total", it.LineTotal, v)
		if _, ok := itbmsRates[it.ITBMSRate]; !ok {
			v[field+".itbms_rate"] = "unknown_rate_code"
		}
	}
	if len(in.Payments) == 0 {
		v["payments"] = "at_least_one_payment"
	}
	for i, p := range in.Payments {
		field := fmt.Sprintf("payments[%d]", i)
		validation.OneOf(field+".method", p.Method, models.PaymentMethodCodes, v)
		validation.PositiveFloat(field+".amount", p.Amount, v)
	}
	if !v.Empty() {
		return nil, nil, &ValidationError{Violations: v}
	}

	net := decimal.Zero
	tax := decimal.Zero
	items := make([]Item, 0, len(in.Items))
	for i, it := range in.Items {
		lineTotal := decimal.NewFromFloat(it.LineTotal).Round(2)
		rate := itbmsRates[it.ITBMSRate]
		lineTax := lineTotal.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
		net = net.Add(lineTotal)
		tax = tax.Add(lineTax)

		item := Item{
			DSecItem:    fmt.Sprintf("%03d", i+1),
			DDescProd:   it.Description,
			DCantCodInt: decimal.NewFromFloat(it.Quantity).String(),
			DPrecioUnit: money(decimal.NewFromFloat(it.UnitPrice)),
			DPrecioItem: money(lineTotal),
			DTasaITBMS:  it.ITBMSRate,
			DValITBMS:   money(lineTax),
		}
		if it.SKU != nil {
			item.DCodProd = *it.SKU
		}
		items = append(items, item)
	}
	gross := net.Add(tax)

	received := decimal.Zero
	pagos := make([]FormaPago, 0, len(in.Payments))
	for _, p := range in.Payments {
		amount := decimal.NewFromFloat(p.Amount).Round(2)
		received = received.Add(amount)
		pagos = append(pagos, FormaPago{IFormaPago: p.Method, DVlrCuota: money(amount)})
	}

	doc := &Document{
		DGen: Gen{
			IAmb:      in.Emitter.IAmb,
			ITpEmis:   defaultStr(in.ITpEmis, in.Emitter.ITpEmisDefault),
			IDoc:      docKindCodes[in.DocumentType],
			DNroDF:    in.DocumentNumber,
			DPtoFacDF: in.PtoFacDF,
			DFechaEm:  in.IssuedAt.Format(time.RFC3339),
			INatOp:    "01",
			ITipoOp:   "1",
			IDest:     "1",
			IFormCAFE: "1",
			IEntCAFE:  "1",
			GDFRef:    in.Reference,
		},
		GEmis: Issuer{
			DNombEm: in.Emitter.Name,
			DSucEm:  in.Emitter.SucEm,
			GRucEmi: Ruc{
				DTipoRuc: in.Emitter.RUCTipo,
				DRuc:     in.Emitter.RUCNumero,
				DDV:      in.Emitter.RUCDV,
			},
			DDirecEm:  deref(in.Emitter.AddressLine),
			LCodUbiEm: deref(in.Emitter.UBICode),
		},
		GDatRec: Recipient{
			ITipoRec:     recipientType(in.Customer),
			DNombRec:     in.Customer.Name,
			DDirecRec:    deref(in.Customer.AddressLine),
			CPaisRec:     "PA",
			LCodUbiRec:   deref(in.Customer.UBICode),
			DCorElectRec: in.Customer.Email,
			DTfnRec:      deref(in.Customer.Phone),
		},
		GItems: items,
		GTot: Totals{
			DTotNeto:    money(net),
			DTotITBMS:   money(tax),
			DTotGravado: money(gross),
			DTotRec:     money(received),
			IPzPag:      "1",
			DNroItems:   len(items),
			DVTot:       money(gross),
			GFormaPago:  pagos,
		},
		DExt: Extension{
			CompanyCode: in.Emitter.CompanyCode,
			TestMode:    in.Emitter.IAmb == 2,
		},
	}
	if len(in.NotificationEmails) > 0 {
		doc.DExt.NotificationChannel = "email"
		doc.DExt.NotificationRecipients = in.NotificationEmails
	}

	return doc, &BuildTotals{Net: net, ITBMS: tax, Gross: gross}, nil
}

// money renders a decimal as a fixed 2-decimal-place string.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// recipientType: 1 taxpayer (has RUC), 2 final consumer.
func recipientType(c *models.Customer) string {
	if c.TaxID != nil && strings.TrimSpace(*c.TaxID) != "" {
		return "1"
	}
	return "2"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func defaultStr(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
