package statement

import (
	"encoding/json"
	"testing"
)

func TestColumnRef_JSON(t *testing.T) {
	var m ImportMapping
	data := `{"delimiter":";","dateColumn":"0","amountColumn":2,"descriptionColumn":"Causale","merchantColumn":null}`
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.DateColumn != Index(0) {
		t.Errorf("DateColumn = %v, want index 0", m.DateColumn)
	}
	if m.AmountColumn != Index(2) {
		t.Errorf("AmountColumn = %v, want index 2", m.AmountColumn)
	}
	if m.DescriptionColumn != Name("Causale") {
		t.Errorf("DescriptionColumn = %v, want name Causale", m.DescriptionColumn)
	}
	if !m.MerchantColumn.IsZero() || !m.IncomeColumn.IsZero() {
		t.Error("expected unset refs to be zero")
	}

	out, err := json.Marshal(Index(3))
	if err != nil || string(out) != "3" {
		t.Errorf("Marshal(Index(3)) = %s, %v", out, err)
	}
	out, _ = json.Marshal(ColumnRef{})
	if string(out) != "null" {
		t.Errorf("Marshal(zero) = %s, want null", out)
	}
}

func TestColumnRef_Resolve(t *testing.T) {
	header := []string{"Data", " Importo ", "Causale"}
	tests := []struct {
		ref  ColumnRef
		want int
	}{
		{Index(2), 2},
		{Name("importo"), 1},
		{Name("missing"), -1},
		{ColumnRef{}, -1},
	}
	for _, tt := range tests {
		if got := tt.ref.Resolve(header); got != tt.want {
			t.Errorf("Resolve(%v) = %d, want %d", tt.ref, got, tt.want)
		}
	}
}
