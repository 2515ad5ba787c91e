// Package bindingtest provides an in-memory Binding implementation for
// tests. The fake models one host "instance" at a time with scriptable
// failures so session and guardian behavior can be exercised off the
// real platform.
package bindingtest

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/psantana5/excel-host/pkg/binding"
)

// ErrStale is what every handle method returns once an app is marked stale.
var ErrStale = errors.New("bindingtest: stale handle")

// Fake implements binding.Binding against in-memory state.
type Fake struct {
	mu sync.Mutex

	// Running, when non-nil, is the instance Attach connects to.
	Running *App

	// AttachErr overrides the Attach result entirely.
	AttachErr error
	// CreateErr makes Create fail.
	CreateErr error

	// Created collects every instance Create returned, in order.
	Created []*App

	InitCalls   int
	UninitCalls int
}

// NewFake returns a fake with no running instance, so Attach reports
// binding.ErrNoRunningInstance and Create succeeds.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) InitThread() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InitCalls++
	return nil
}

func (f *Fake) UninitThread() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UninitCalls++
}

func (f *Fake) Attach() (binding.AppHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttachErr != nil {
		return nil, f.AttachErr
	}
	if f.Running == nil || f.Running.Stale {
		return nil, binding.ErrNoRunningInstance
	}
	return f.Running, nil
}

func (f *Fake) Create() (binding.AppHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	app := NewApp()
	f.Created = append(f.Created, app)
	return app, nil
}

func (f *Fake) HostProcessName() string { return "EXCEL.EXE" }

// App implements binding.AppHandle.
type App struct {
	mu sync.Mutex

	// Stale makes every call fail with ErrStale, simulating a host that
	// exited while we still hold the automation reference.
	Stale bool

	Visible        bool
	SuppressAlerts bool

	Docs []*Doc

	// OpenErr, when set, fails the next Open call and is then cleared.
	OpenErr error

	ScrollRow, ScrollCol int
	Selection            string
	ActiveCell           string

	QuitCalls    int
	ReleaseCalls int
}

// NewApp returns an empty live instance.
func NewApp() *App {
	return &App{Selection: "$A$1", ActiveCell: "$A$1"}
}

// AddDoc opens a document in the instance without going through Open,
// modelling a document the user already had open.
func (a *App) AddDoc(path string) *Doc {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := newDoc(a, path)
	a.Docs = append(a.Docs, d)
	return d
}

// MarkStale makes the app and all of its document handles stale.
func (a *App) MarkStale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Stale = true
	for _, d := range a.Docs {
		d.stale = true
	}
}

func (a *App) check() error {
	if a.Stale {
		return ErrStale
	}
	return nil
}

func (a *App) SetVisible(v bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return err
	}
	a.Visible = v
	return nil
}

func (a *App) SetSuppressAlerts(s bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return err
	}
	a.SuppressAlerts = s
	return nil
}

func (a *App) DocumentCount() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return 0, err
	}
	return len(a.Docs), nil
}

func (a *App) Documents() ([]binding.DocHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return nil, err
	}
	out := make([]binding.DocHandle, len(a.Docs))
	for i, d := range a.Docs {
		out[i] = d
	}
	return out, nil
}

func (a *App) Open(path string, readOnly bool) (binding.DocHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.OpenErr != nil {
		err := a.OpenErr
		a.OpenErr = nil
		return nil, err
	}
	d := newDoc(a, path)
	d.readOnly = readOnly
	a.Docs = append(a.Docs, d)
	return d, nil
}

func (a *App) NewDocument(path string) (binding.DocHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return nil, err
	}
	d := newDoc(a, path)
	a.Docs = append(a.Docs, d)
	return d, nil
}

func (a *App) ActiveDocument() (binding.DocHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return nil, err
	}
	if len(a.Docs) == 0 {
		return nil, errors.New("bindingtest: no documents open")
	}
	return a.Docs[len(a.Docs)-1], nil
}

func (a *App) Scroll() (int, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return 0, 0, err
	}
	return a.ScrollRow, a.ScrollCol, nil
}

func (a *App) SetScroll(row, col int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return err
	}
	a.ScrollRow, a.ScrollCol = row, col
	return nil
}

func (a *App) SelectionAddress() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return "", err
	}
	return a.Selection, nil
}

func (a *App) ActiveCellAddress() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return "", err
	}
	return a.ActiveCell, nil
}

func (a *App) Quit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(); err != nil {
		return err
	}
	a.QuitCalls++
	a.Stale = true
	for _, d := range a.Docs {
		d.stale = true
	}
	return nil
}

func (a *App) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ReleaseCalls++
}

func (a *App) removeDoc(target *Doc) {
	for i, d := range a.Docs {
		if d == target {
			a.Docs = append(a.Docs[:i], a.Docs[i+1:]...)
			return
		}
	}
}

// Doc implements binding.DocHandle.
type Doc struct {
	app      *App
	stale    bool
	readOnly bool

	Path  string
	Dirty bool

	// SaveErr fails Save and Close(save=true).
	SaveErr  error
	CloseErr error

	SaveCalls  int
	CloseCalls int
	Closed     bool
	SavedOn    bool // whether the last Close saved

	sheets      map[string]*Sheet
	sheetOrder  []string
	activeSheet string
}

func newDoc(app *App, path string) *Doc {
	d := &Doc{
		app:         app,
		Path:        path,
		sheets:      map[string]*Sheet{},
		activeSheet: "Sheet1",
	}
	d.addSheet("Sheet1")
	return d
}

func (d *Doc) addSheet(name string) *Sheet {
	s := &Sheet{doc: d, name: name, cells: map[string]any{}, formulas: map[string]string{}}
	d.sheets[name] = s
	d.sheetOrder = append(d.sheetOrder, name)
	return s
}

// AddSheet adds a named worksheet to the document.
func (d *Doc) AddSheet(name string) *Sheet {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	return d.addSheet(name)
}

func (d *Doc) check() error {
	if d.stale {
		return ErrStale
	}
	if d.Closed {
		return errors.New("bindingtest: document closed")
	}
	return nil
}

func (d *Doc) FullPath() (string, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return "", err
	}
	return d.Path, nil
}

func (d *Doc) Name() (string, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return "", err
	}
	return filepath.Base(d.Path), nil
}

func (d *Doc) Saved() (bool, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return false, err
	}
	return !d.Dirty, nil
}

func (d *Doc) Save() error {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if d.SaveErr != nil {
		return d.SaveErr
	}
	d.SaveCalls++
	d.Dirty = false
	return nil
}

func (d *Doc) SaveAs(path string) error {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if d.SaveErr != nil {
		return d.SaveErr
	}
	d.SaveCalls++
	d.Path = path
	d.Dirty = false
	return nil
}

func (d *Doc) Close(save bool) error {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if d.CloseErr != nil {
		return d.CloseErr
	}
	if save {
		if d.SaveErr != nil {
			return d.SaveErr
		}
		d.Dirty = false
	}
	d.CloseCalls++
	d.Closed = true
	d.SavedOn = save
	d.app.removeDoc(d)
	return nil
}

func (d *Doc) Activate() error {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	return d.check()
}

func (d *Doc) ActiveSheet() (binding.SheetHandle, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.sheets[d.activeSheet], nil
}

func (d *Doc) Sheet(name string) (binding.SheetHandle, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	s, ok := d.sheets[name]
	if !ok {
		return nil, fmt.Errorf("bindingtest: no sheet %q", name)
	}
	return s, nil
}

func (d *Doc) SheetNames() ([]string, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	out := make([]string, len(d.sheetOrder))
	copy(out, d.sheetOrder)
	return out, nil
}

// Sheet implements binding.SheetHandle with a sparse cell map keyed by
// normalized address.
type Sheet struct {
	doc      *Doc
	name     string
	cells    map[string]any
	formulas map[string]string
}

func (s *Sheet) Name() (string, error) {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return "", err
	}
	return s.name, nil
}

func (s *Sheet) Activate() error {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return err
	}
	s.doc.activeSheet = s.name
	return nil
}

// SetCell seeds a cell value outside the interface, for test setup.
func (s *Sheet) SetCell(address string, v any) {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	s.cells[normalize(address)] = v
}

func (s *Sheet) ReadRange(address string) ([][]any, error) {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return nil, err
	}
	r1, c1, r2, c2, err := bounds(address)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, 0, r2-r1+1)
	for r := r1; r <= r2; r++ {
		row := make([]any, 0, c2-c1+1)
		for c := c1; c <= c2; c++ {
			row = append(row, s.cells[cellKey(r, c)])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Sheet) WriteRange(address string, rows [][]any) error {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return err
	}
	c0, r0, err := binding.ParseCellAddress(anchor(address))
	if err != nil {
		return err
	}
	for i, row := range rows {
		for j, v := range row {
			s.cells[cellKey(r0+i, c0+j)] = v
		}
	}
	s.doc.Dirty = true
	return nil
}

func (s *Sheet) Formula(address string) (string, error) {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return "", err
	}
	return s.formulas[normalize(address)], nil
}

func (s *Sheet) SetFormula(address, formula string) error {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return err
	}
	s.formulas[normalize(address)] = formula
	s.doc.Dirty = true
	return nil
}

func (s *Sheet) SetNumberFormat(address, format string) error {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return err
	}
	s.doc.Dirty = true
	return nil
}

func (s *Sheet) SetFontStyle(address string, style binding.FontStyle) error {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return err
	}
	s.doc.Dirty = true
	return nil
}

func (s *Sheet) SetFillColor(address string, rgb int) error {
	s.doc.app.mu.Lock()
	defer s.doc.app.mu.Unlock()
	if err := s.doc.check(); err != nil {
		return err
	}
	s.doc.Dirty = true
	return nil
}

func anchor(address string) string {
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			return address[:i]
		}
	}
	return address
}

func normalize(address string) string {
	col, row, err := binding.ParseCellAddress(anchor(address))
	if err != nil {
		return address
	}
	return cellKey(row, col)
}

func cellKey(row, col int) string {
	return fmt.Sprintf("%s%d", binding.ColumnLetter(col), row)
}

func bounds(address string) (r1, c1, r2, c2 int, err error) {
	a := anchor(address)
	b := a
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			b = address[i+1:]
			break
		}
	}
	c1, r1, err = binding.ParseCellAddress(a)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	c2, r2, err = binding.ParseCellAddress(b)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return r1, c1, r2, c2, nil
}
