package session

import (
	"go.uber.org/zap"

	"github.com/psantana5/excel-host/pkg/binding"
)

// viewSnapshot holds the host's visible UI state at the moment a mutating
// operation begins. Every field is captured and restored independently and
// best-effort: automation must stay invisible to a human sharing the
// instance, but a missing selection must not block restoring the scroll
// position.
type viewSnapshot struct {
	doc         binding.DocHandle
	sheet       binding.SheetHandle
	selection   string
	activeCell  string
	scrollRow   int
	scrollCol   int
	hasScroll   bool
	hasDocument bool
}

// captureView records the current view state. Individual read failures are
// skipped; an empty snapshot is still a valid snapshot.
func captureView(app binding.AppHandle) *viewSnapshot {
	snap := &viewSnapshot{}
	if app == nil {
		return snap
	}

	if doc, err := app.ActiveDocument(); err == nil && doc != nil {
		snap.doc = doc
		snap.hasDocument = true
		if sheet, err := doc.ActiveSheet(); err == nil {
			snap.sheet = sheet
		}
	}
	if sel, err := app.SelectionAddress(); err == nil {
		snap.selection = sel
	}
	if cell, err := app.ActiveCellAddress(); err == nil {
		snap.activeCell = cell
	}
	if row, col, err := app.Scroll(); err == nil {
		snap.scrollRow = row
		snap.scrollCol = col
		snap.hasScroll = true
	}
	return snap
}

// restore reapplies document/sheet activation and scroll position. The
// selection and active cell are intentionally left alone even when
// captured: the user may have started interacting with a different area
// during the operation, and yanking the selection back would be more
// surprising than the operation itself. Write failures are swallowed per
// field; a deleted worksheet must not prevent restoring the scroll.
func (v *viewSnapshot) restore(app binding.AppHandle, log *zap.Logger) {
	if app == nil {
		return
	}

	if v.hasDocument && v.doc != nil {
		// Probe before activating; the document may have been closed.
		if _, err := v.doc.Name(); err == nil {
			if err := v.doc.Activate(); err != nil {
				log.Debug("view restore: document activate failed", zap.Error(err))
			}
			if v.sheet != nil {
				if _, err := v.sheet.Name(); err == nil {
					if err := v.sheet.Activate(); err != nil {
						log.Debug("view restore: sheet activate failed", zap.Error(err))
					}
				}
			}
		}
	}

	if v.hasScroll {
		if err := app.SetScroll(v.scrollRow, v.scrollCol); err != nil {
			log.Debug("view restore: scroll restore failed", zap.Error(err))
		}
	}
}
