package pac

import (
	"github.com/hypernova-labs/dgi-service/internal/validation"
)

// Document is the fiscal submission payload in the DGI FE JSON shape expected
// by the PAC gateway.
type Document struct {
	DGen    Gen       `json:"dGen"`
	GEmis   Issuer    `json:"gEmis"`
	GDatRec Recipient `json:"gDatRec"`
	GItems  []Item    `json:"gItem"`
	GTot    Totals    `json:"gTot"`
	DExt    Extension `json:"dExt"`
}

// Gen is the general header block.
type Gen struct {
	IAmb      int     `json:"iAmb"` // 1 production, 2 test
	ITpEmis   string  `json:"iTpEmis"`
	IDoc      string  `json:"iDoc"`
	DNroDF    string  `json:"dNroDF"`
	DPtoFacDF string  `json:"dPtoFacDF"`
	DFechaEm  string  `json:"dFechaEm"` // RFC3339 emission timestamp
	INatOp    string  `json:"iNatOp"`
	ITipoOp   string  `json:"iTipoOp"`
	IDest     string  `json:"iDest"`
	IFormCAFE string  `json:"iFormCAFE"`
	IEntCAFE  string  `json:"iEntCAFE"`
	GDFRef    *DocRef `json:"gDFRef,omitempty"`
}

// DocRef references the original document from a credit or debit note.
type DocRef struct {
	DCUFERef    string `json:"dCufeRef"`
	DNroDFRef   string `json:"dNroDFRef"`
	DPtoFacDFRef string `json:"dPtoFacDFRef"`
}

// Issuer is the emitter block.
type Issuer struct {
	DNombEm   string `json:"dNombEm"`
	DSucEm    string `json:"dSucEm"`
	GRucEmi   Ruc    `json:"gRucEmi"`
	DDirecEm  string `json:"dDirecEm,omitempty"`
	LCodUbiEm string `json:"lCodUbiEm,omitempty"`
}

// Ruc is the tax-id triplet.
type Ruc struct {
	DTipoRuc string `json:"dTipoRuc"`
	DRuc     string `json:"dRuc"`
	DDV      string `json:"dDV"`
}

// Recipient is the customer block.
type Recipient struct {
	ITipoRec     string `json:"iTipoRec"`
	DNombRec     string `json:"dNombRec"`
	DDirecRec    string `json:"dDirecRec,omitempty"`
	CPaisRec     string `json:"cPaisRec"`
	LCodUbiRec   string `json:"lCodUbiRec,omitempty"`
	DCorElectRec string `json:"dCorElectRec,omitempty"`
	DTfnRec      string `json:"dTfnRec,omitempty"`
}

// Item is one document line. All money fields are fixed 2-decimal strings and
// dSecItem is the zero-padded 1-based position in the submitted item list.
type Item struct {
	DSecItem    string `json:"dSecItem"`
	DDescProd   string `json:"dDescProd"`
	DCodProd    string `json:"dCodProd,omitempty"`
	DCantCodInt string `json:"dCantCodInt"`
	DPrecioUnit string `json:"dPrecioUnit"`
	DPrecioItem string `json:"dPrecioItem"`
	DTasaITBMS  string `json:"dTasaITBMS"`
	DValITBMS   string `json:"dValITBMS"`
}

// Totals is the document totals block. DTotRec is the payment reconciliation
// figure, not a re-derivation of the item totals.
type Totals struct {
	DTotNeto    string       `json:"dTotNeto"`
	DTotITBMS   string       `json:"dTotITBMS"`
	DTotGravado string       `json:"dTotGravado"`
	DTotRec     string       `json:"dTotRec"`
	IPzPag      string       `json:"iPzPag"`
	DNroItems   int          `json:"dNroItems"`
	DVTot       string       `json:"dVTot"`
	GFormaPago  []FormaPago  `json:"gFormaPago"`
}

// FormaPago is one payment method allocation.
type FormaPago struct {
	IFormaPago string `json:"iFormaPago"`
	DVlrCuota  string `json:"dVlrCuota"`
}

// Extension carries integration metadata outside the fiscal body.
type Extension struct {
	CompanyCode            string   `json:"companyCode"`
	TestMode               bool     `json:"testMode"`
	NotificationChannel    string   `json:"notificationChannel,omitempty"`
	NotificationRecipients []string `json:"notificationRecipients,omitempty"`
}

// Validate checks the outbound document shape before it goes on the wire so a
// malformed body fails locally instead of being rejected remotely.
func (d *Document) Validate() error {
	v := validation.Violations{}
	validation.Required("dGen.dNroDF", d.DGen.DNroDF, v)
	validation.Required("dGen.dPtoFacDF", d.DGen.DPtoFacDF, v)
	validation.Required("dGen.dFechaEm", d.DGen.DFechaEm, v)
	validation.Required("dGen.iDoc", d.DGen.IDoc, v)
	if d.DGen.IAmb != 1 && d.DGen.IAmb != 2 {
		v["dGen.iAmb"] = "must_be_1_or_2"
	}
	validation.Required("gEmis.dNombEm", d.GEmis.DNombEm, v)
	validation.Required("gEmis.gRucEmi.dTipoRuc", d.GEmis.GRucEmi.DTipoRuc, v)
	validation.Required("gEmis.gRucEmi.dRuc", d.GEmis.GRucEmi.DRuc, v)
	validation.Required("gEmis.gRucEmi.dDV", d.GEmis.GRucEmi.DDV, v)
	validation.Required("gDatRec.dNombRec", d.GDatRec.DNombRec, v)
	if len(d.GItems) == 0 {
		v["gItem"] = "at_least_one_item"
	}
	for _, it := range d.GItems {
		if it.DSecItem == "" || it.DDescProd == "" || it.DPrecioItem == "" {
			v["gItem."+it.DSecItem] = "incomplete_item"
			break
		}
	}
	if len(d.GTot.GFormaPago) == 0 {
		v["gTot.gFormaPago"] = "at_least_one_payment"
	}
	validation.Required("gTot.dTotNeto", d.GTot.DTotNeto, v)
	validation.Required("gTot.dVTot", d.GTot.DVTot, v)
	if !v.Empty() {
		return &ValidationError{Violations: v}
	}
	return nil
}
