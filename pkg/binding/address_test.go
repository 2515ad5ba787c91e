package binding

import "testing"

func TestColumnLetter(t *testing.T) {
	cases := []struct {
		col  int
		want string
	}{
		{1, "A"},
		{2, "B"},
		{26, "Z"},
		{27, "AA"},
		{52, "AZ"},
		{53, "BA"},
		{702, "ZZ"},
		{703, "AAA"},
	}
	for _, tc := range cases {
		if got := ColumnLetter(tc.col); got != tc.want {
			t.Errorf("ColumnLetter(%d) = %q, want %q", tc.col, got, tc.want)
		}
		if back := ColumnNumber(tc.want); back != tc.col {
			t.Errorf("ColumnNumber(%q) = %d, want %d", tc.want, back, tc.col)
		}
	}
}

func TestParseCellAddress(t *testing.T) {
	col, row, err := ParseCellAddress("$B$7")
	if err != nil {
		t.Fatalf("ParseCellAddress failed: %v", err)
	}
	if col != 2 || row != 7 {
		t.Errorf("Expected (2, 7), got (%d, %d)", col, row)
	}

	if _, _, err := ParseCellAddress("7B"); err == nil {
		t.Error("Expected error for invalid address")
	}
	if _, _, err := ParseCellAddress(""); err == nil {
		t.Error("Expected error for empty address")
	}
}

func TestRangeForSize(t *testing.T) {
	cases := []struct {
		anchor     string
		rows, cols int
		want       string
	}{
		{"A1", 1, 1, "A1"},
		{"A1", 2, 3, "A1:C2"},
		{"B2:Z99", 3, 2, "B2:C4"},
		{"AA10", 1, 2, "AA10:AB10"},
	}
	for _, tc := range cases {
		got, err := RangeForSize(tc.anchor, tc.rows, tc.cols)
		if err != nil {
			t.Fatalf("RangeForSize(%q, %d, %d) failed: %v", tc.anchor, tc.rows, tc.cols, err)
		}
		if got != tc.want {
			t.Errorf("RangeForSize(%q, %d, %d) = %q, want %q", tc.anchor, tc.rows, tc.cols, got, tc.want)
		}
	}

	if _, err := RangeForSize("A1", 0, 1); err == nil {
		t.Error("Expected error for zero rows")
	}
}
