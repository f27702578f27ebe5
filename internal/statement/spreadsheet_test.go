package statement

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestFromSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Data", "Importo", "Causale"},
		{"15/01/2024", "-12,50", "CAFFE; BAR"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	text, err := FromSpreadsheet(buf.Bytes())
	if err != nil {
		t.Fatalf("FromSpreadsheet() error: %v", err)
	}
	want := "Data;Importo;Causale\n15/01/2024;-12,50;\"CAFFE; BAR\"\n"
	if text != want {
		t.Fatalf("FromSpreadsheet() = %q, want %q", text, want)
	}

	res, err := Parse(text, italianMapping())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Description != "CAFFE; BAR" {
		t.Errorf("rows = %+v", res.Rows)
	}
}

func TestFromSpreadsheet_NotAWorkbook(t *testing.T) {
	if _, err := FromSpreadsheet([]byte("Data;Importo\n")); err == nil {
		t.Error("expected error for non-xlsx input")
	}
}

func TestIsSpreadsheet(t *testing.T) {
	if !IsSpreadsheet("estratto.XLSX") || IsSpreadsheet("estratto.csv") {
		t.Error("IsSpreadsheet misclassified")
	}
}
