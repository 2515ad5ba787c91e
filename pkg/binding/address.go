package binding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var cellAddrRe = regexp.MustCompile(`^\$?([A-Za-z]{1,3})\$?([0-9]+)$`)

// ColumnLetter converts a 1-based column number to its letter form
// (1 -> A, 27 -> AA).
func ColumnLetter(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ColumnNumber converts a column letter to its 1-based number
// (A -> 1, AA -> 27).
func ColumnNumber(letters string) int {
	n := 0
	for _, c := range strings.ToUpper(letters) {
		n = n*26 + int(c-'A') + 1
	}
	return n
}

// ParseCellAddress parses a single-cell address like "B7" or "$B$7" into a
// 1-based column and row.
func ParseCellAddress(address string) (col, row int, err error) {
	m := cellAddrRe.FindStringSubmatch(strings.TrimSpace(address))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid cell address %q", address)
	}
	row, err = strconv.Atoi(m[2])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("invalid cell address %q", address)
	}
	return ColumnNumber(m[1]), row, nil
}

// RangeForSize returns the full range address covering rows x cols cells
// anchored at the top-left cell of anchor. The anchor may itself be a range;
// only its first cell is used.
func RangeForSize(anchor string, rows, cols int) (string, error) {
	first := anchor
	if i := strings.IndexByte(anchor, ':'); i >= 0 {
		first = anchor[:i]
	}
	c, r, err := ParseCellAddress(first)
	if err != nil {
		return "", err
	}
	if rows < 1 || cols < 1 {
		return "", fmt.Errorf("invalid data dimensions %dx%d", rows, cols)
	}
	if rows == 1 && cols == 1 {
		return fmt.Sprintf("%s%d", ColumnLetter(c), r), nil
	}
	return fmt.Sprintf("%s%d:%s%d",
		ColumnLetter(c), r,
		ColumnLetter(c+cols-1), r+rows-1), nil
}
