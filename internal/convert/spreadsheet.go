package convert

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// NewSpreadsheetConverter renders every sheet of a workbook as a table,
// one sheet per page group.
func NewSpreadsheetConverter(o PDFOptions) Converter {
	return ConverterFunc(func(ctx context.Context, data []byte) ([]byte, error) {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		defer f.Close()

		var tables []table
		for _, sheet := range f.GetSheetList() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := f.GetRows(sheet)
			if err != nil {
				return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
			}
			tables = append(tables, table{title: sheet, rows: rows})
		}
		return renderTables(o, tables)
	})
}
