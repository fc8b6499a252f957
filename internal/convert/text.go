package convert

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

func NewTextConverter(o PDFOptions) Converter {
	return ConverterFunc(func(ctx context.Context, data []byte) ([]byte, error) {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("text is not valid UTF-8")
		}
		pdf := o.newDocument()
		tr := pdf.UnicodeTranslatorFromDescriptor("")
		pdf.AddPage()
		pdf.SetFont("Courier", "", o.FontSize)
		text := strings.ReplaceAll(string(data), "\r\n", "\n")
		pdf.MultiCell(0, o.FontSize*0.5, tr(text), "", "L", false)
		if err := pdf.Error(); err != nil {
			return nil, err
		}
		return output(pdf)
	})
}

func NewCSVConverter(o PDFOptions) Converter {
	return ConverterFunc(func(ctx context.Context, data []byte) ([]byte, error) {
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		return renderTables(o, []table{{rows: rows}})
	})
}
