//go:build windows

package binding

import (
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

const (
	excelProgID      = "Excel.Application"
	excelProcessName = "EXCEL.EXE"
)

// oleBinding drives Excel through COM. Thread-affine: InitThread locks the
// calling goroutine to its OS thread and enters a single-threaded apartment.
type oleBinding struct{}

// New returns the platform binding for the host application.
func New() (Binding, error) {
	return &oleBinding{}, nil
}

func (b *oleBinding) InitThread() error {
	runtime.LockOSThread()
	if err := ole.CoInitialize(0); err != nil {
		// S_FALSE means the thread was already initialized, which is fine.
		if oleErr, ok := err.(*ole.OleError); ok && oleErr.Code() == uintptr(1) {
			return nil
		}
		runtime.UnlockOSThread()
		return &callError{op: "CoInitialize", err: err}
	}
	return nil
}

func (b *oleBinding) UninitThread() {
	ole.CoUninitialize()
	runtime.UnlockOSThread()
}

func (b *oleBinding) HostProcessName() string { return excelProcessName }

func (b *oleBinding) Attach() (AppHandle, error) {
	unknown, err := oleutil.GetActiveObject(excelProgID)
	if err != nil || unknown == nil {
		return nil, ErrNoRunningInstance
	}
	app, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return nil, ErrNoRunningInstance
	}
	h := &oleApp{disp: app}
	// Probe the handle with a trivial read; a registered-but-dead server
	// still hands out handles that fail on first use.
	if _, err := h.DocumentCount(); err != nil {
		h.Release()
		return nil, ErrNoRunningInstance
	}
	return h, nil
}

func (b *oleBinding) Create() (AppHandle, error) {
	unknown, err := oleutil.CreateObject(excelProgID)
	if err != nil {
		return nil, &callError{op: "CreateObject", err: err}
	}
	app, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return nil, &callError{op: "QueryInterface", err: err}
	}
	return &oleApp{disp: app}, nil
}

// callError wraps a COM failure with the operation that produced it.
type callError struct {
	op  string
	err error
}

func (e *callError) Error() string { return fmt.Sprintf("binding: %s: %v", e.op, e.err) }
func (e *callError) Unwrap() error { return e.err }

type oleApp struct {
	disp *ole.IDispatch
}

func (a *oleApp) SetVisible(visible bool) error {
	_, err := oleutil.PutProperty(a.disp, "Visible", visible)
	if err != nil {
		return &callError{op: "set Visible", err: err}
	}
	return nil
}

func (a *oleApp) SetSuppressAlerts(suppress bool) error {
	_, err := oleutil.PutProperty(a.disp, "DisplayAlerts", !suppress)
	if err != nil {
		return &callError{op: "set DisplayAlerts", err: err}
	}
	return nil
}

func (a *oleApp) DocumentCount() (int, error) {
	wbs, err := a.workbooks()
	if err != nil {
		return 0, err
	}
	defer wbs.Release()
	v, err := oleutil.GetProperty(wbs, "Count")
	if err != nil {
		return 0, &callError{op: "Workbooks.Count", err: err}
	}
	defer v.Clear()
	return int(variantInt(v)), nil
}

func (a *oleApp) Documents() ([]DocHandle, error) {
	wbs, err := a.workbooks()
	if err != nil {
		return nil, err
	}
	defer wbs.Release()
	countV, err := oleutil.GetProperty(wbs, "Count")
	if err != nil {
		return nil, &callError{op: "Workbooks.Count", err: err}
	}
	count := int(variantInt(countV))
	countV.Clear()

	docs := make([]DocHandle, 0, count)
	for i := 1; i <= count; i++ {
		v, err := oleutil.GetProperty(wbs, "Item", i)
		if err != nil {
			continue // workbook may have closed mid-enumeration
		}
		docs = append(docs, &oleDoc{disp: v.ToIDispatch()})
	}
	return docs, nil
}

func (a *oleApp) Open(path string, readOnly bool) (DocHandle, error) {
	wbs, err := a.workbooks()
	if err != nil {
		return nil, err
	}
	defer wbs.Release()
	// Open(Filename, UpdateLinks, ReadOnly)
	v, err := oleutil.CallMethod(wbs, "Open", path, nil, readOnly)
	if err != nil {
		return nil, &callError{op: "Workbooks.Open", err: err}
	}
	return &oleDoc{disp: v.ToIDispatch()}, nil
}

func (a *oleApp) NewDocument(path string) (DocHandle, error) {
	wbs, err := a.workbooks()
	if err != nil {
		return nil, err
	}
	defer wbs.Release()
	v, err := oleutil.CallMethod(wbs, "Add")
	if err != nil {
		return nil, &callError{op: "Workbooks.Add", err: err}
	}
	doc := &oleDoc{disp: v.ToIDispatch()}
	if err := doc.SaveAs(path); err != nil {
		return nil, err
	}
	return doc, nil
}

func (a *oleApp) ActiveDocument() (DocHandle, error) {
	v, err := oleutil.GetProperty(a.disp, "ActiveWorkbook")
	if err != nil {
		return nil, &callError{op: "ActiveWorkbook", err: err}
	}
	d := v.ToIDispatch()
	if d == nil {
		return nil, &callError{op: "ActiveWorkbook", err: fmt.Errorf("no active document")}
	}
	return &oleDoc{disp: d}, nil
}

func (a *oleApp) Scroll() (int, int, error) {
	win, err := a.activeWindow()
	if err != nil {
		return 0, 0, err
	}
	defer win.Release()
	rowV, err := oleutil.GetProperty(win, "ScrollRow")
	if err != nil {
		return 0, 0, &callError{op: "ScrollRow", err: err}
	}
	row := int(variantInt(rowV))
	rowV.Clear()
	colV, err := oleutil.GetProperty(win, "ScrollColumn")
	if err != nil {
		return 0, 0, &callError{op: "ScrollColumn", err: err}
	}
	col := int(variantInt(colV))
	colV.Clear()
	return row, col, nil
}

func (a *oleApp) SetScroll(row, col int) error {
	win, err := a.activeWindow()
	if err != nil {
		return err
	}
	defer win.Release()
	if _, err := oleutil.PutProperty(win, "ScrollRow", row); err != nil {
		return &callError{op: "set ScrollRow", err: err}
	}
	if _, err := oleutil.PutProperty(win, "ScrollColumn", col); err != nil {
		return &callError{op: "set ScrollColumn", err: err}
	}
	return nil
}

func (a *oleApp) SelectionAddress() (string, error) {
	return a.dispatchAddress("Selection")
}

func (a *oleApp) ActiveCellAddress() (string, error) {
	return a.dispatchAddress("ActiveCell")
}

func (a *oleApp) dispatchAddress(prop string) (string, error) {
	v, err := oleutil.GetProperty(a.disp, prop)
	if err != nil {
		return "", &callError{op: prop, err: err}
	}
	d := v.ToIDispatch()
	if d == nil {
		return "", &callError{op: prop, err: fmt.Errorf("nothing selected")}
	}
	defer d.Release()
	addrV, err := oleutil.GetProperty(d, "Address")
	if err != nil {
		return "", &callError{op: prop + ".Address", err: err}
	}
	defer addrV.Clear()
	return addrV.ToString(), nil
}

func (a *oleApp) Quit() error {
	if _, err := oleutil.CallMethod(a.disp, "Quit"); err != nil {
		return &callError{op: "Quit", err: err}
	}
	return nil
}

func (a *oleApp) Release() {
	if a.disp != nil {
		a.disp.Release()
		a.disp = nil
	}
}

func (a *oleApp) workbooks() (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(a.disp, "Workbooks")
	if err != nil {
		return nil, &callError{op: "Workbooks", err: err}
	}
	return v.ToIDispatch(), nil
}

func (a *oleApp) activeWindow() (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(a.disp, "ActiveWindow")
	if err != nil {
		return nil, &callError{op: "ActiveWindow", err: err}
	}
	d := v.ToIDispatch()
	if d == nil {
		return nil, &callError{op: "ActiveWindow", err: fmt.Errorf("no active window")}
	}
	return d, nil
}

type oleDoc struct {
	disp *ole.IDispatch
}

func (d *oleDoc) stringProp(name string) (string, error) {
	v, err := oleutil.GetProperty(d.disp, name)
	if err != nil {
		return "", &callError{op: name, err: err}
	}
	defer v.Clear()
	return v.ToString(), nil
}

func (d *oleDoc) FullPath() (string, error) { return d.stringProp("FullName") }
func (d *oleDoc) Name() (string, error)     { return d.stringProp("Name") }

func (d *oleDoc) Saved() (bool, error) {
	v, err := oleutil.GetProperty(d.disp, "Saved")
	if err != nil {
		return false, &callError{op: "Saved", err: err}
	}
	defer v.Clear()
	saved, _ := v.Value().(bool)
	return saved, nil
}

func (d *oleDoc) Save() error {
	if _, err := oleutil.CallMethod(d.disp, "Save"); err != nil {
		return &callError{op: "Save", err: err}
	}
	return nil
}

func (d *oleDoc) SaveAs(path string) error {
	if _, err := oleutil.CallMethod(d.disp, "SaveAs", path); err != nil {
		return &callError{op: "SaveAs", err: err}
	}
	return nil
}

func (d *oleDoc) Close(save bool) error {
	_, err := oleutil.CallMethod(d.disp, "Close", save)
	d.disp.Release()
	d.disp = nil
	if err != nil {
		return &callError{op: "Close", err: err}
	}
	return nil
}

func (d *oleDoc) Activate() error {
	if _, err := oleutil.CallMethod(d.disp, "Activate"); err != nil {
		return &callError{op: "Activate", err: err}
	}
	return nil
}

func (d *oleDoc) ActiveSheet() (SheetHandle, error) {
	v, err := oleutil.GetProperty(d.disp, "ActiveSheet")
	if err != nil {
		return nil, &callError{op: "ActiveSheet", err: err}
	}
	return &oleSheet{disp: v.ToIDispatch()}, nil
}

func (d *oleDoc) Sheet(name string) (SheetHandle, error) {
	sheets, err := d.worksheets()
	if err != nil {
		return nil, err
	}
	defer sheets.Release()
	v, err := oleutil.GetProperty(sheets, "Item", name)
	if err != nil {
		return nil, &callError{op: "Worksheets.Item", err: err}
	}
	return &oleSheet{disp: v.ToIDispatch()}, nil
}

func (d *oleDoc) SheetNames() ([]string, error) {
	sheets, err := d.worksheets()
	if err != nil {
		return nil, err
	}
	defer sheets.Release()
	countV, err := oleutil.GetProperty(sheets, "Count")
	if err != nil {
		return nil, &callError{op: "Worksheets.Count", err: err}
	}
	count := int(variantInt(countV))
	countV.Clear()

	names := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		v, err := oleutil.GetProperty(sheets, "Item", i)
		if err != nil {
			continue
		}
		sheet := v.ToIDispatch()
		nameV, err := oleutil.GetProperty(sheet, "Name")
		if err == nil {
			names = append(names, nameV.ToString())
			nameV.Clear()
		}
		sheet.Release()
	}
	return names, nil
}

func (d *oleDoc) worksheets() (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(d.disp, "Worksheets")
	if err != nil {
		return nil, &callError{op: "Worksheets", err: err}
	}
	return v.ToIDispatch(), nil
}

type oleSheet struct {
	disp *ole.IDispatch
}

func (s *oleSheet) Name() (string, error) {
	v, err := oleutil.GetProperty(s.disp, "Name")
	if err != nil {
		return "", &callError{op: "Name", err: err}
	}
	defer v.Clear()
	return v.ToString(), nil
}

func (s *oleSheet) Activate() error {
	if _, err := oleutil.CallMethod(s.disp, "Activate"); err != nil {
		return &callError{op: "Activate", err: err}
	}
	return nil
}

func (s *oleSheet) rangeDispatch(address string) (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(s.disp, "Range", address)
	if err != nil {
		return nil, &callError{op: "Range", err: err}
	}
	return v.ToIDispatch(), nil
}

func (s *oleSheet) ReadRange(address string) ([][]any, error) {
	rng, err := s.rangeDispatch(address)
	if err != nil {
		return nil, err
	}
	defer rng.Release()

	rows, err := collectionCount(rng, "Rows")
	if err != nil {
		return nil, err
	}
	cols, err := collectionCount(rng, "Columns")
	if err != nil {
		return nil, err
	}

	out := make([][]any, rows)
	for r := 1; r <= rows; r++ {
		out[r-1] = make([]any, cols)
		for c := 1; c <= cols; c++ {
			cellV, err := oleutil.GetProperty(rng, "Cells", r, c)
			if err != nil {
				return nil, &callError{op: "Cells", err: err}
			}
			cell := cellV.ToIDispatch()
			valV, err := oleutil.GetProperty(cell, "Value")
			if err != nil {
				cell.Release()
				return nil, &callError{op: "Cells.Value", err: err}
			}
			out[r-1][c-1] = valV.Value()
			valV.Clear()
			cell.Release()
		}
	}
	return out, nil
}

func (s *oleSheet) WriteRange(address string, data [][]any) error {
	if len(data) == 0 || len(data[0]) == 0 {
		return &callError{op: "WriteRange", err: fmt.Errorf("empty data")}
	}
	full, err := RangeForSize(address, len(data), len(data[0]))
	if err != nil {
		return &callError{op: "WriteRange", err: err}
	}
	rng, err := s.rangeDispatch(full)
	if err != nil {
		return err
	}
	defer rng.Release()

	for r, row := range data {
		for c, val := range row {
			cellV, err := oleutil.GetProperty(rng, "Cells", r+1, c+1)
			if err != nil {
				return &callError{op: "Cells", err: err}
			}
			cell := cellV.ToIDispatch()
			_, err = oleutil.PutProperty(cell, "Value", val)
			cell.Release()
			if err != nil {
				return &callError{op: "set Cells.Value", err: err}
			}
		}
	}
	return nil
}

func (s *oleSheet) Formula(address string) (string, error) {
	rng, err := s.rangeDispatch(address)
	if err != nil {
		return "", err
	}
	defer rng.Release()
	v, err := oleutil.GetProperty(rng, "Formula")
	if err != nil {
		return "", &callError{op: "Formula", err: err}
	}
	defer v.Clear()
	return v.ToString(), nil
}

func (s *oleSheet) SetFormula(address, formula string) error {
	rng, err := s.rangeDispatch(address)
	if err != nil {
		return err
	}
	defer rng.Release()
	if _, err := oleutil.PutProperty(rng, "Formula", formula); err != nil {
		return &callError{op: "set Formula", err: err}
	}
	return nil
}

func (s *oleSheet) SetNumberFormat(address, format string) error {
	rng, err := s.rangeDispatch(address)
	if err != nil {
		return err
	}
	defer rng.Release()
	if _, err := oleutil.PutProperty(rng, "NumberFormat", format); err != nil {
		return &callError{op: "set NumberFormat", err: err}
	}
	return nil
}

func (s *oleSheet) SetFontStyle(address string, style FontStyle) error {
	rng, err := s.rangeDispatch(address)
	if err != nil {
		return err
	}
	defer rng.Release()
	fontV, err := oleutil.GetProperty(rng, "Font")
	if err != nil {
		return &callError{op: "Font", err: err}
	}
	font := fontV.ToIDispatch()
	defer font.Release()

	if _, err := oleutil.PutProperty(font, "Bold", style.Bold); err != nil {
		return &callError{op: "set Font.Bold", err: err}
	}
	if _, err := oleutil.PutProperty(font, "Italic", style.Italic); err != nil {
		return &callError{op: "set Font.Italic", err: err}
	}
	if style.SizePt > 0 {
		if _, err := oleutil.PutProperty(font, "Size", style.SizePt); err != nil {
			return &callError{op: "set Font.Size", err: err}
		}
	}
	if style.Name != "" {
		if _, err := oleutil.PutProperty(font, "Name", style.Name); err != nil {
			return &callError{op: "set Font.Name", err: err}
		}
	}
	if style.HasColor {
		if _, err := oleutil.PutProperty(font, "Color", style.ColorRGB); err != nil {
			return &callError{op: "set Font.Color", err: err}
		}
	}
	if style.Underline {
		// xlUnderlineStyleSingle
		if _, err := oleutil.PutProperty(font, "Underline", 2); err != nil {
			return &callError{op: "set Font.Underline", err: err}
		}
	}
	return nil
}

func (s *oleSheet) SetFillColor(address string, rgb int) error {
	rng, err := s.rangeDispatch(address)
	if err != nil {
		return err
	}
	defer rng.Release()
	interiorV, err := oleutil.GetProperty(rng, "Interior")
	if err != nil {
		return &callError{op: "Interior", err: err}
	}
	interior := interiorV.ToIDispatch()
	defer interior.Release()
	if _, err := oleutil.PutProperty(interior, "Color", rgb); err != nil {
		return &callError{op: "set Interior.Color", err: err}
	}
	return nil
}

func collectionCount(disp *ole.IDispatch, prop string) (int, error) {
	v, err := oleutil.GetProperty(disp, prop)
	if err != nil {
		return 0, &callError{op: prop, err: err}
	}
	coll := v.ToIDispatch()
	defer coll.Release()
	countV, err := oleutil.GetProperty(coll, "Count")
	if err != nil {
		return 0, &callError{op: prop + ".Count", err: err}
	}
	defer countV.Clear()
	return int(variantInt(countV)), nil
}

func variantInt(v *ole.VARIANT) int64 {
	switch val := v.Value().(type) {
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	default:
		return 0
	}
}
