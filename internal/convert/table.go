package convert

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFOptions configures the documents produced by the converters.
type PDFOptions struct {
	PageSize       string     `json:"page_size"`   // A4, Letter, Legal
	Orientation    string     `json:"orientation"` // portrait, landscape
	FontFamily     string     `json:"font_family"`
	FontSize       float64    `json:"font_size"`
	HeaderFontSize float64    `json:"header_font_size"`
	HeaderColor    PDFColor   `json:"header_color"`
	AlternateRows  bool       `json:"alternate_rows"`
	AlternateColor PDFColor   `json:"alternate_color"`
	Margins        PDFMargins `json:"margins"`
}

type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type PDFMargins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "portrait",
		FontFamily:     "Arial",
		FontSize:       10,
		HeaderFontSize: 11,
		HeaderColor:    PDFColor{R: 68, G: 114, B: 196},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		Margins:        PDFMargins{Left: 15, Right: 15, Top: 20, Bottom: 20},
	}
}

func (o PDFOptions) newDocument() *gofpdf.Fpdf {
	orientation := "P"
	if o.Orientation == "landscape" {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", o.PageSize, "")
	pdf.SetMargins(o.Margins.Left, o.Margins.Top, o.Margins.Right)
	pdf.SetAutoPageBreak(true, o.Margins.Bottom)
	return pdf
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// table renders rows whose first row is the header.
type table struct {
	title string
	rows  [][]string
}

func renderTables(o PDFOptions, tables []table) ([]byte, error) {
	pdf := o.newDocument()
	for _, t := range tables {
		pdf.AddPage()
		if t.title != "" {
			pdf.SetFont(o.FontFamily, "B", o.HeaderFontSize+2)
			pdf.SetTextColor(0, 0, 0)
			pdf.CellFormat(0, 10, t.title, "", 1, "L", false, 0, "")
		}
		if len(t.rows) == 0 {
			continue
		}
		widths := columnWidths(pdf, o, t.rows)
		addHeader(pdf, o, t.rows[0], widths)
		addRows(pdf, o, t.rows[0], t.rows[1:], widths)
	}
	if pdf.PageCount() == 0 {
		pdf.AddPage()
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return output(pdf)
}

func columnWidths(pdf *gofpdf.Fpdf, o PDFOptions, rows [][]string) []float64 {
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	widths := make([]float64, cols)

	pdf.SetFont(o.FontFamily, "", o.FontSize)
	sample := rows
	if len(sample) > 100 {
		sample = sample[:100]
	}
	for _, r := range sample {
		for i, v := range r {
			if w := pdf.GetStringWidth(v) + 4; w > widths[i] {
				widths[i] = w
			}
		}
	}

	pageWidth, _ := pdf.GetPageSize()
	available := pageWidth - o.Margins.Left - o.Margins.Right
	total := 0.0
	for _, w := range widths {
		total += w
	}
	if total > available {
		scale := available / total
		for i := range widths {
			widths[i] *= scale
		}
	}
	return widths
}

func addHeader(pdf *gofpdf.Fpdf, o PDFOptions, labels []string, widths []float64) {
	pdf.SetFont(o.FontFamily, "B", o.HeaderFontSize)
	pdf.SetFillColor(o.HeaderColor.R, o.HeaderColor.G, o.HeaderColor.B)
	pdf.SetTextColor(255, 255, 255)
	for i := range widths {
		pdf.CellFormat(widths[i], 8, cell(labels, i), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

func addRows(pdf *gofpdf.Fpdf, o PDFOptions, header []string, rows [][]string, widths []float64) {
	pdf.SetFont(o.FontFamily, "", o.FontSize)
	pdf.SetTextColor(0, 0, 0)

	_, pageHeight := pdf.GetPageSize()
	for i, row := range rows {
		if o.AlternateRows && i%2 == 1 {
			pdf.SetFillColor(o.AlternateColor.R, o.AlternateColor.G, o.AlternateColor.B)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}

		if pdf.GetY()+8 > pageHeight-o.Margins.Bottom {
			pdf.AddPage()
			addHeader(pdf, o, header, widths)
			pdf.SetFont(o.FontFamily, "", o.FontSize)
			pdf.SetTextColor(0, 0, 0)
		}

		for j := range widths {
			pdf.CellFormat(widths[j], 7, truncate(pdf, cell(row, j), widths[j]), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func truncate(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s)+2 <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...")+2 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
