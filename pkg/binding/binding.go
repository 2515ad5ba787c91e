// Package binding abstracts the platform automation binding used to drive
// the spreadsheet host application. The concrete implementation on Windows
// talks COM through go-ole; every other platform gets a stub that reports
// the platform as unsupported so the session and guardian layers stay
// testable anywhere with a fake.
package binding

import "errors"

// ErrUnsupportedPlatform is returned by New on platforms without an
// automation binding for the host application.
var ErrUnsupportedPlatform = errors.New("binding: automation host not supported on this platform")

// ErrNoRunningInstance is returned by Attach when no host instance is
// reachable through the binding.
var ErrNoRunningInstance = errors.New("binding: no running host instance")

// Binding is the entry point into the platform automation layer.
//
// The binding has thread-affinity constraints: each OS thread that touches
// a handle must call InitThread before the first call and UninitThread
// after the last one. The session layer serializes all handle access and
// tracks whether it performed the initialization.
type Binding interface {
	// InitThread initializes the binding for the calling OS thread.
	// Safe to call if already initialized.
	InitThread() error

	// UninitThread tears down the per-thread initialization. Must only be
	// called by a thread whose InitThread succeeded.
	UninitThread()

	// Attach connects to an already-running host instance. Detection is
	// probe-based: a handle is returned only if a trivial read against it
	// succeeds. Returns ErrNoRunningInstance otherwise.
	Attach() (AppHandle, error)

	// Create launches a fresh, independent host instance.
	Create() (AppHandle, error)

	// HostProcessName returns the executable name of the host process,
	// used for process enumeration and cleanup.
	HostProcessName() string
}

// AppHandle is an opaque reference to the host application. All methods
// are synchronous calls through the automation layer and may fail with a
// stale handle if the host exited outside our control.
type AppHandle interface {
	SetVisible(visible bool) error
	SetSuppressAlerts(suppress bool) error

	// DocumentCount is the cheapest liveness probe the host offers.
	DocumentCount() (int, error)

	// Documents enumerates the documents currently open in the instance.
	Documents() ([]DocHandle, error)

	// Open opens the document at path. The path must be absolute.
	Open(path string, readOnly bool) (DocHandle, error)

	// NewDocument creates a blank document and saves it to path.
	NewDocument(path string) (DocHandle, error)

	ActiveDocument() (DocHandle, error)

	// Scroll reports the active window's scroll position (row, column).
	Scroll() (row, col int, err error)
	SetScroll(row, col int) error

	// SelectionAddress returns the address of the current selection.
	SelectionAddress() (string, error)

	// ActiveCellAddress returns the address of the active cell.
	ActiveCellAddress() (string, error)

	// Quit asks the host application to exit.
	Quit() error

	// Release drops the automation reference without touching the host.
	Release()
}

// DocHandle is an opaque reference to one open document. The registry holds
// these weakly: the handle does not extend the document's lifetime beyond
// what the host manages.
type DocHandle interface {
	FullPath() (string, error)
	Name() (string, error)

	// Saved reports whether the document has no unsaved changes.
	Saved() (bool, error)

	Save() error
	SaveAs(path string) error

	// Close closes the document, optionally saving first.
	Close(save bool) error

	Activate() error

	ActiveSheet() (SheetHandle, error)
	Sheet(name string) (SheetHandle, error)
	SheetNames() ([]string, error)
}

// SheetHandle is an opaque reference to a worksheet within a document.
type SheetHandle interface {
	Name() (string, error)
	Activate() error

	// ReadRange reads the values of a range like "A1" or "A1:C10".
	ReadRange(address string) ([][]any, error)

	// WriteRange writes rows starting at the top-left cell of address.
	// The written extent is derived from the data dimensions.
	WriteRange(address string, rows [][]any) error

	// Formula returns the formula text of a single cell.
	Formula(address string) (string, error)
	SetFormula(address, formula string) error

	SetNumberFormat(address, format string) error
	SetFontStyle(address string, style FontStyle) error
	SetFillColor(address string, rgb int) error
}

// FontStyle describes font attributes applied to a range. Zero values
// leave the corresponding attribute untouched.
type FontStyle struct {
	Bold      bool
	Italic    bool
	SizePt    float64
	Name      string
	ColorRGB  int
	HasColor  bool
	Underline bool
}
