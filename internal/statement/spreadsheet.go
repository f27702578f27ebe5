package statement

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

// IsSpreadsheet reports whether filename looks like an Excel workbook.
func IsSpreadsheet(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// FromSpreadsheet renders the first sheet of an .xlsx workbook as
// semicolon-delimited text so it can go through DetectColumns and Parse.
func FromSpreadsheet(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", domain.Invalid("opening workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", domain.Invalid("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("FromSpreadsheet: reading sheet %s: %w", sheets[0], err)
	}

	var b strings.Builder
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cell = strings.ReplaceAll(cell, `"`, "")
			cell = strings.ReplaceAll(cell, "\n", " ")
			if strings.Contains(cell, ";") {
				cell = `"` + cell + `"`
			}
			cells[i] = cell
		}
		b.WriteString(strings.Join(cells, ";"))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
