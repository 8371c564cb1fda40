package pdf

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// CAFEInput is the deterministic view model for the printed rendition of an
// authorized document. Everything here is resolved before rendering; the
// renderer does no lookups.
type CAFEInput struct {
	EmitterName    string
	EmitterRUC     string
	EmitterAddress string
	CustomerName   string
	CustomerEmail  string
	DocumentNumber string
	PtoFacDF       string
	IssuedAt       time.Time
	CUFE           string
	URLCUFE        string
	Items          []CAFELine
	Net            string
	ITBMS          string
	Total          string
}

// CAFELine is one printed invoice line.
type CAFELine struct {
	Seq         string
	Description string
	Quantity    string
	UnitPrice   string
	LineTotal   string
}

// Generate renders the CAFE as PDF bytes.
func Generate(in CAFEInput) ([]byte, error) {
	m := maroto.New()

	m.AddRow(8, text.NewCol(12, "COMPROBANTE AUXILIAR DE FACTURA ELECTRÓNICA",
		props.Text{Style: fontstyle.Bold, Size: 12, Align: align.Center}))
	m.AddRow(6, text.NewCol(12, in.EmitterName, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Center}))
	m.AddRow(5, text.NewCol(12, "RUC: "+in.EmitterRUC, props.Text{Size: 9, Align: align.Center}))
	if in.EmitterAddress != "" {
		m.AddRow(5, text.NewCol(12, in.EmitterAddress, props.Text{Size: 9, Align: align.Center}))
	}

	m.AddRow(8,
		text.NewCol(6, fmt.Sprintf("Factura No. %s-%s", in.PtoFacDF, in.DocumentNumber), props.Text{Size: 9}),
		text.NewCol(6, "Fecha: "+in.IssuedAt.Format("02/01/2006 15:04"), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(6, text.NewCol(12, "Cliente: "+in.CustomerName, props.Text{Size: 9}))
	if in.CustomerEmail != "" {
		m.AddRow(5, text.NewCol(12, in.CustomerEmail, props.Text{Size: 8}))
	}

	m.AddRow(7,
		text.NewCol(1, "No.", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(5, "Descripción", props.Text{Style: fontstyle.Bold, Size: 8}),
		text.NewCol(2, "Cant.", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right}),
		text.NewCol(2, "Precio", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right}),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Right}),
	)
	for _, it := range in.Items {
		m.AddRow(6,
			text.NewCol(1, it.Seq, props.Text{Size: 8}),
			text.NewCol(5, it.Description, props.Text{Size: 8}),
			text.NewCol(2, it.Quantity, props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, it.UnitPrice, props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, it.LineTotal, props.Text{Size: 8, Align: align.Right}),
		)
	}

	m.AddRow(7, text.NewCol(12, "Subtotal: "+in.Net, props.Text{Size: 9, Align: align.Right}))
	m.AddRow(6, text.NewCol(12, "ITBMS: "+in.ITBMS, props.Text{Size: 9, Align: align.Right}))
	m.AddRow(7, text.NewCol(12, "TOTAL: "+in.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}))

	m.AddRow(8, text.NewCol(12, "CUFE: "+in.CUFE, props.Text{Size: 7}))
	m.AddRow(6, text.NewCol(12, "Consulte su documento en: "+in.URLCUFE, props.Text{Size: 7}))

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render cafe pdf: %w", err)
	}
	return doc.GetBytes(), nil
}
