// Package api exposes the host session over a local JSON HTTP API so
// other processes (and the CLI) can inspect and drive the session without
// linking against the automation binding.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/psantana5/excel-host/internal/ops"
	"github.com/psantana5/excel-host/internal/session"
)

// Cleaner triggers the full last-resort process cleanup. Satisfied by
// *guardian.Guardian.
type Cleaner interface {
	ForceCleanupAll()
	TrackedPIDs() []int32
}

// Handler serves the session control API.
type Handler struct {
	Session *session.Session
	Cleaner Cleaner
	Log     *zap.Logger
}

// NewHandler creates a Handler. The cleaner is optional.
func NewHandler(s *session.Session, c Cleaner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Session: s, Cleaner: c, Log: log}
}

// Router builds the API routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/status", h.HandleStatus).Methods("GET")
	r.HandleFunc("/api/documents", h.HandleListDocuments).Methods("GET")
	r.HandleFunc("/api/documents/unsaved", h.HandleUnsavedDocuments).Methods("GET")
	r.HandleFunc("/api/documents", h.HandleCreateDocument).Methods("POST")

	r.HandleFunc("/api/lease", h.HandleLease).Methods("POST")
	r.HandleFunc("/api/release", h.HandleRelease).Methods("POST")
	r.HandleFunc("/api/close", h.HandleClose).Methods("POST")
	r.HandleFunc("/api/save", h.HandleSave).Methods("POST")
	r.HandleFunc("/api/save-all", h.HandleSaveAll).Methods("POST")
	r.HandleFunc("/api/close-all", h.HandleCloseAll).Methods("POST")
	r.HandleFunc("/api/cleanup", h.HandleCleanup).Methods("POST")

	r.HandleFunc("/api/sheets", h.HandleSheets).Methods("POST")
	r.HandleFunc("/api/range/read", h.HandleReadRange).Methods("POST")
	r.HandleFunc("/api/range/write", h.HandleWriteRange).Methods("POST")
	r.HandleFunc("/api/formula/read", h.HandleReadFormula).Methods("POST")
	r.HandleFunc("/api/formula/write", h.HandleWriteFormula).Methods("POST")
	r.HandleFunc("/api/format/number", h.HandleNumberFormat).Methods("POST")
	r.HandleFunc("/api/format/fill", h.HandleFillColor).Methods("POST")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// DocumentRequest addresses a leased document.
type DocumentRequest struct {
	Path     string `json:"path"`
	ReadOnly bool   `json:"read_only,omitempty"`
	Save     bool   `json:"save,omitempty"`
	Force    bool   `json:"force,omitempty"`
	AsPath   string `json:"as_path,omitempty"`
}

// RangeRequest addresses a range within a document.
type RangeRequest struct {
	Path     string  `json:"path"`
	Sheet    string  `json:"sheet,omitempty"`
	Address  string  `json:"address"`
	Rows     [][]any `json:"rows,omitempty"`
	Formula  string  `json:"formula,omitempty"`
	Format   string  `json:"format,omitempty"`
	ColorRGB int     `json:"color_rgb,omitempty"`
}

// LeaseResponse reports the outcome of a lease.
type LeaseResponse struct {
	Path  string `json:"path"`
	Owned bool   `json:"owned"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Status())
}

func (h *Handler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	st := h.Session.Status()
	docs := make([]session.DocumentInfo, 0, len(st.OpenPaths))
	for _, p := range st.OpenPaths {
		docs = append(docs, session.DocumentInfo{Name: filepath.Base(p), Path: p, Saved: true})
	}
	// Overlay unsaved state where the host reports it.
	unsaved := map[string]bool{}
	for _, d := range h.Session.UnsavedDocuments() {
		unsaved[d.Path] = true
	}
	for i := range docs {
		if unsaved[docs[i].Path] {
			docs[i].Saved = false
		}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) HandleUnsavedDocuments(w http.ResponseWriter, r *http.Request) {
	out := h.Session.UnsavedDocuments()
	if out == nil {
		out = []session.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleCreateDocument(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	e, err := h.Session.CreateDocument(req.Path)
	if err != nil {
		h.writeError(w, "create document", err)
		return
	}
	h.Log.Info("document created", zap.String("path", e.Path))
	writeJSON(w, http.StatusCreated, LeaseResponse{Path: e.Path, Owned: e.Owned})
}

func (h *Handler) HandleLease(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	e, err := h.Session.Lease(req.Path, req.ReadOnly)
	if err != nil {
		h.writeError(w, "lease document", err)
		return
	}
	writeJSON(w, http.StatusOK, LeaseResponse{Path: e.Path, Owned: e.Owned})
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	if err := h.Session.Release(req.Path, req.Save, req.Force); err != nil {
		h.writeError(w, "release document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	if err := h.Session.CloseDocument(req.Path, req.Save, req.Force); err != nil {
		h.writeError(w, "close document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	if err := ops.SaveDocument(h.Session, req.Path, req.AsPath); err != nil {
		h.writeError(w, "save document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSaveAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.SaveAll())
}

func (h *Handler) HandleCloseAll(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	// Body is optional; an empty body means close without saving.
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, http.StatusOK, h.Session.CloseAll(req.Save))
}

func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if h.Cleaner == nil {
		http.Error(w, "no cleaner configured", http.StatusNotImplemented)
		return
	}
	before := len(h.Cleaner.TrackedPIDs())
	h.Cleaner.ForceCleanupAll()
	h.Log.Info("forced cleanup via API", zap.Int("tracked_before", before))
	writeJSON(w, http.StatusOK, map[string]int{"tracked_before": before})
}

func (h *Handler) HandleSheets(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}
	names, err := ops.SheetNames(h.Session, req.Path)
	if err != nil {
		h.writeError(w, "list sheets", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) HandleReadRange(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRangeRequest(w, r)
	if !ok {
		return
	}
	rows, err := ops.ReadRange(h.Session, req.Path, req.Sheet, req.Address)
	if err != nil {
		h.writeError(w, "read range", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) HandleWriteRange(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRangeRequest(w, r)
	if !ok {
		return
	}
	if err := ops.WriteRange(h.Session, req.Path, req.Sheet, req.Address, req.Rows); err != nil {
		h.writeError(w, "write range", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleReadFormula(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRangeRequest(w, r)
	if !ok {
		return
	}
	formula, err := ops.Formula(h.Session, req.Path, req.Sheet, req.Address)
	if err != nil {
		h.writeError(w, "read formula", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"formula": formula})
}

func (h *Handler) HandleWriteFormula(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRangeRequest(w, r)
	if !ok {
		return
	}
	if err := ops.SetFormula(h.Session, req.Path, req.Sheet, req.Address, req.Formula); err != nil {
		h.writeError(w, "write formula", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleNumberFormat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRangeRequest(w, r)
	if !ok {
		return
	}
	if req.Format == "" {
		http.Error(w, "format is required", http.StatusBadRequest)
		return
	}
	if err := ops.SetNumberFormat(h.Session, req.Path, req.Sheet, req.Address, req.Format); err != nil {
		h.writeError(w, "set number format", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleFillColor(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRangeRequest(w, r)
	if !ok {
		return
	}
	if err := ops.SetFillColor(h.Session, req.Path, req.Sheet, req.Address, req.ColorRGB); err != nil {
		h.writeError(w, "set fill color", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeDocumentRequest(w http.ResponseWriter, r *http.Request) (DocumentRequest, bool) {
	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return req, false
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func decodeRangeRequest(w http.ResponseWriter, r *http.Request) (RangeRequest, bool) {
	var req RangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return req, false
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return req, false
	}
	if req.Address == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError

	var notFound *session.DocumentNotFoundError
	var notLeased *session.NotLeasedError
	var notOwned *session.NotOwnedError
	switch {
	case errors.As(err, &notFound), errors.As(err, &notLeased):
		status = http.StatusNotFound
	case errors.As(err, &notOwned):
		status = http.StatusConflict
	case errors.Is(err, session.ErrHostUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.Log.Warn("request failed", zap.String("op", op), zap.Error(err))
	}
	http.Error(w, fmt.Sprintf("%s: %v", op, err), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
