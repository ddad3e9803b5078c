package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

// Document is a layout-free description of a printable clinical document.
type Document struct {
	Title     string
	Subtitle  string
	Author    string
	CreatedAt time.Time
	Sections  []Section
}

type Section struct {
	Heading    string
	Paragraphs []string
	Table      *Table
	// Highlight shades the heading, used for the risk summary.
	Highlight *Color
}

type Table struct {
	Columns []Column
	Rows    []Row
}

type Column struct {
	Title string
	// Width in millimetres. Zero columns share the remaining page width.
	Width float64
	Align string
}

type Row struct {
	Cells []string
	// Color tints the row text, nil renders black.
	Color *Color
}

type Color struct {
	R, G, B int
}

var (
	ColorRed    = &Color{R: 192, G: 57, B: 43}
	ColorAmber  = &Color{R: 211, G: 134, B: 0}
	ColorGreen  = &Color{R: 39, G: 174, B: 96}
	headerFill  = Color{R: 235, G: 240, B: 245}
	lineHeight  = 6.0
	pageMarginX = 15.0
)

// RenderPDF writes doc as an A4 PDF to w.
func RenderPDF(w io.Writer, doc Document) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMarginX, 20, pageMarginX)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")

	// core fonts are cp1252, Spanish accents need translating
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(doc.Title, true)
	if doc.Author != "" {
		pdf.SetAuthor(doc.Author, true)
	}
	pdf.SetCreator("healz-server", true)
	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	pdf.SetCreationDate(created)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("%s  |  %d/{nb}", created.Format("2006-01-02"), pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(20, 40, 80)
	pdf.MultiCell(0, 9, tr(doc.Title), "", "L", false)
	if doc.Subtitle != "" {
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetTextColor(90, 90, 90)
		pdf.MultiCell(0, lineHeight, tr(doc.Subtitle), "", "L", false)
	}
	pdf.Ln(4)

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 2*pageMarginX

	for _, s := range doc.Sections {
		renderSection(pdf, tr, s, contentW)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}

func renderSection(pdf *fpdf.Fpdf, tr func(string) string, s Section, contentW float64) {
	if s.Heading != "" {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.SetTextColor(20, 40, 80)
		fill := false
		if s.Highlight != nil {
			pdf.SetFillColor(s.Highlight.R, s.Highlight.G, s.Highlight.B)
			pdf.SetTextColor(255, 255, 255)
			fill = true
		}
		pdf.CellFormat(0, 8, tr(s.Heading), "", 1, "L", fill, 0, "")
		pdf.Ln(1)
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0, 0, 0)
	for _, p := range s.Paragraphs {
		pdf.MultiCell(0, 5, tr(p), "", "L", false)
		pdf.Ln(1)
	}

	if s.Table != nil && len(s.Table.Columns) > 0 {
		renderTable(pdf, tr, s.Table, contentW)
	}
	pdf.Ln(4)
}

func renderTable(pdf *fpdf.Fpdf, tr func(string) string, t *Table, contentW float64) {
	widths := columnWidths(t.Columns, contentW)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(headerFill.R, headerFill.G, headerFill.B)
	pdf.SetTextColor(20, 40, 80)
	for i, col := range t.Columns {
		pdf.CellFormat(widths[i], 7, tr(col.Title), "B", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range t.Rows {
		if row.Color != nil {
			pdf.SetTextColor(row.Color.R, row.Color.G, row.Color.B)
		} else {
			pdf.SetTextColor(0, 0, 0)
		}
		for i := range t.Columns {
			cell := ""
			if i < len(row.Cells) {
				cell = row.Cells[i]
			}
			align := t.Columns[i].Align
			if align == "" {
				align = "L"
			}
			pdf.CellFormat(widths[i], lineHeight, tr(cell), "", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetTextColor(0, 0, 0)
}

// columnWidths spreads the width left over by fixed columns across the
// zero-width ones.
func columnWidths(cols []Column, total float64) []float64 {
	widths := make([]float64, len(cols))
	fixed, flexible := 0.0, 0
	for i, c := range cols {
		widths[i] = c.Width
		if c.Width > 0 {
			fixed += c.Width
		} else {
			flexible++
		}
	}
	if flexible == 0 {
		return widths
	}
	share := (total - fixed) / float64(flexible)
	if share < 10 {
		share = 10
	}
	for i := range widths {
		if widths[i] == 0 {
			widths[i] = share
		}
	}
	return widths
}
