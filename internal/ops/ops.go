// Package ops provides the document-editing operations exposed to the
// tool layer. Every operation is a single synchronous call against a
// leased document handle; lifecycle, locking and view preservation are the
// session's job. Mutating operations go through Session.Mutate so the
// user's view state survives them, reads skip that entirely.
package ops

import (
	"fmt"
	"math"
	"time"

	"github.com/psantana5/excel-host/internal/session"
	"github.com/psantana5/excel-host/pkg/binding"
)

// resolveSheet returns the named worksheet, or the active one when name is
// empty.
func resolveSheet(doc binding.DocHandle, name string) (binding.SheetHandle, error) {
	if name == "" {
		sheet, err := doc.ActiveSheet()
		if err != nil {
			return nil, fmt.Errorf("resolve active sheet: %w", err)
		}
		return sheet, nil
	}
	sheet, err := doc.Sheet(name)
	if err != nil {
		return nil, fmt.Errorf("worksheet %q not found: %w", name, err)
	}
	return sheet, nil
}

// ReadRange reads cell values from a range like "A1" or "A1:C10".
func ReadRange(s *session.Session, path, sheet, address string) ([][]any, error) {
	var out [][]any
	err := s.Read(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		values, err := sh.ReadRange(address)
		if err != nil {
			return err
		}
		out = normalizeRows(values)
		return nil
	})
	return out, err
}

// WriteRange writes rows of values anchored at the top-left cell of
// address. The written extent follows the data dimensions.
func WriteRange(s *session.Session, path, sheet, address string, data [][]any) error {
	if len(data) == 0 || len(data[0]) == 0 {
		return fmt.Errorf("cannot write empty data")
	}
	return s.Mutate(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		return sh.WriteRange(address, data)
	})
}

// Formula returns the formula text of a single cell.
func Formula(s *session.Session, path, sheet, address string) (string, error) {
	var out string
	err := s.Read(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		out, err = sh.Formula(address)
		return err
	})
	return out, err
}

// SetFormula writes a formula into a cell or range.
func SetFormula(s *session.Session, path, sheet, address, formula string) error {
	return s.Mutate(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		return sh.SetFormula(address, formula)
	})
}

// SetNumberFormat applies a number format string to a range.
func SetNumberFormat(s *session.Session, path, sheet, address, format string) error {
	return s.Mutate(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		return sh.SetNumberFormat(address, format)
	})
}

// SetFontStyle applies font attributes to a range.
func SetFontStyle(s *session.Session, path, sheet, address string, style binding.FontStyle) error {
	return s.Mutate(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		return sh.SetFontStyle(address, style)
	})
}

// SetFillColor applies a background fill color to a range.
func SetFillColor(s *session.Session, path, sheet, address string, rgb int) error {
	return s.Mutate(path, func(doc binding.DocHandle) error {
		sh, err := resolveSheet(doc, sheet)
		if err != nil {
			return err
		}
		return sh.SetFillColor(address, rgb)
	})
}

// SheetNames lists the worksheets of a document.
func SheetNames(s *session.Session, path string) ([]string, error) {
	var out []string
	err := s.Read(path, func(doc binding.DocHandle) error {
		names, err := doc.SheetNames()
		if err != nil {
			return err
		}
		out = names
		return nil
	})
	return out, err
}

// SaveDocument saves a leased document in place, or to a new path when
// asPath is non-empty.
func SaveDocument(s *session.Session, path, asPath string) error {
	return s.Mutate(path, func(doc binding.DocHandle) error {
		if asPath != "" {
			return doc.SaveAs(asPath)
		}
		return doc.Save()
	})
}

func normalizeRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = make([]any, len(row))
		for j, v := range row {
			out[i][j] = normalizeValue(v)
		}
	}
	return out
}

// normalizeValue flattens automation variants for JSON-friendly output.
// The host stores all numbers as floats; whole numbers come back as
// integers, and timestamps as ISO 8601 strings.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return int64(val)
		}
		return val
	case float32:
		return normalizeValue(float64(val))
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
