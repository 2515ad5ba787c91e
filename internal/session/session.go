// Package session manages the lifecycle of the single automation host
// instance and the documents leased through it. It reconciles two
// conflicting constraints: preserve a human user's session (never close a
// document we did not open, never quit an instance we attached to) while
// guaranteeing that fresh instances created by this process never leak.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/psantana5/excel-host/internal/metrics"
	"github.com/psantana5/excel-host/internal/syncx"
	"github.com/psantana5/excel-host/pkg/binding"
)

// Tracker records OS process ids of host instances created fresh by this
// program. Satisfied by *guardian.Guardian.
type Tracker interface {
	// SnapshotHostPIDs lists the pids of all processes matching the host
	// executable name.
	SnapshotHostPIDs(name string) []int32

	// TrackFreshInstance stores the pids present after creation but not
	// before, returning how many were recorded.
	TrackFreshInstance(before, after []int32) int
}

// Options configures a Session.
type Options struct {
	// Visible controls whether the host window is shown.
	Visible bool

	// SuppressAlerts disables host alert dialogs during automation.
	SuppressAlerts bool

	// AttachToExisting makes Start probe for a running instance before
	// creating a fresh one.
	AttachToExisting bool

	// Tracker receives pids of instances this session creates fresh.
	// Optional; attach-mode never records anything.
	Tracker Tracker

	Logger *zap.Logger
}

// Session orchestrates start/stop of the host application handle, delegates
// document tracking to the registry, and serializes every operation behind
// a reentrant access lock. Handle calls additionally run on a single
// pinned thread: the binding is apartment-bound, so the thread that
// initialized it is the only one allowed to touch handles obtained
// through it.
type Session struct {
	mu  syncx.ReentrantMutex
	b   binding.Binding
	log *zap.Logger

	app      binding.AppHandle
	reg      *registry
	thread   *hostThread // non-nil whenever app is; carries the binding init
	attached bool        // attached to an existing instance vs. created fresh
	started  bool        // Start succeeded at least once

	visible        bool
	suppressAlerts bool
	attachPref     bool
	tracker        Tracker
}

// Status summarizes the session state for callers.
type Status struct {
	Running       bool     `json:"running"`
	AttachMode    bool     `json:"attach_mode"`
	DocumentCount int      `json:"document_count"`
	OpenPaths     []string `json:"open_paths"`
}

// DocumentInfo describes one document open in the host instance.
type DocumentInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Saved bool   `json:"saved"`
}

// SaveReport summarizes a bulk save or close pass.
type SaveReport struct {
	Count  int      `json:"count"`
	Errors []string `json:"errors,omitempty"`
}

// New creates a session against the given binding. The session holds no
// handle until Start is called.
func New(b binding.Binding, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		b:              b,
		log:            log,
		reg:            newRegistry(),
		visible:        opts.Visible,
		suppressAlerts: opts.SuppressAlerts,
		attachPref:     opts.AttachToExisting,
		tracker:        opts.Tracker,
	}
}

// Start acquires an application handle. Idempotent: if a handle exists it
// returns immediately. Otherwise it spins up the pinned binding thread,
// probes for an existing instance (when configured to), falls back to
// creating a fresh one, and adopts any documents already open in the
// instance as unowned so they are never closed on shutdown.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runOnHostThread(s.startLocked)
}

// runOnHostThread executes fn on the pinned binding thread, spawning it on
// first use. Callers hold the access lock, so the spawn is not raced.
func (s *Session) runOnHostThread(fn func() error) error {
	if s.thread == nil {
		t, err := startHostThread(s.b)
		if err != nil {
			return platformErr("init binding", err)
		}
		s.thread = t
	}
	return s.thread.run(fn)
}

func (s *Session) startLocked() error {
	if s.app != nil {
		return nil
	}

	var before []int32
	if s.tracker != nil {
		before = s.tracker.SnapshotHostPIDs(s.b.HostProcessName())
	}

	s.attached = false
	if s.attachPref {
		if app, err := s.b.Attach(); err == nil {
			s.app = app
			s.attached = true
		}
	}
	if s.app == nil {
		app, err := s.b.Create()
		if err != nil {
			return platformErr("create host instance", err)
		}
		s.app = app
		if s.tracker != nil {
			after := s.tracker.SnapshotHostPIDs(s.b.HostProcessName())
			n := s.tracker.TrackFreshInstance(before, after)
			s.log.Debug("tracked fresh host instance", zap.Int("new_pids", n))
		}
	}

	if err := s.app.SetVisible(s.visible); err != nil {
		s.log.Warn("failed to set host visibility", zap.Error(err))
	}
	if err := s.app.SetSuppressAlerts(s.suppressAlerts); err != nil {
		s.log.Warn("failed to set alert suppression", zap.Error(err))
	}

	s.adoptOpenDocuments()
	s.started = true

	mode := "created"
	if s.attached {
		mode = "attached"
	}
	metrics.SessionsStarted.WithLabelValues(mode).Inc()
	s.log.Info("host session started",
		zap.String("mode", mode),
		zap.Int("adopted_documents", s.reg.len()))
	return nil
}

// adoptOpenDocuments registers every document already open in the instance
// as unowned. This is what prevents the session from ever closing a user's
// pre-existing document. Unsaved documents without a path are skipped.
func (s *Session) adoptOpenDocuments() {
	docs, err := s.app.Documents()
	if err != nil {
		s.log.Warn("failed to enumerate pre-open documents", zap.Error(err))
		return
	}
	for _, doc := range docs {
		path, err := doc.FullPath()
		if err != nil || path == "" {
			continue
		}
		name, err := doc.Name()
		if err != nil || name == "" {
			continue
		}
		// The host reports FullName == Name for never-saved documents.
		if path == name {
			continue
		}
		s.reg.put(&Entry{Path: path, Doc: doc, Owned: false})
	}
	metrics.OpenDocuments.Set(float64(s.reg.len()))
}

// IsAlive probes the handle with a trivial read. On failure the handle is
// dropped and the registry cleared: every cached document handle died with
// the host, and the next Lease must start fresh.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil {
		return false
	}
	var alive bool
	_ = s.thread.run(func() error {
		alive = s.isAliveLocked()
		return nil
	})
	return alive
}

func (s *Session) isAliveLocked() bool {
	if s.app == nil {
		return false
	}
	if _, err := s.app.DocumentCount(); err != nil {
		s.log.Warn("host handle is stale, dropping it", zap.Error(err))
		s.app.Release()
		s.app = nil
		s.reg.clear()
		metrics.OpenDocuments.Set(0)
		return false
	}
	return true
}

// Stop closes every owned document without saving, drops unowned entries
// without touching them, and quits the application only if this session
// created it fresh or forceQuit is set. It never fails: each sub-step
// degrades independently and failures are logged, because shutdown must be
// unconditional.
func (s *Session) Stop(forceQuit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return
	}
	_ = s.thread.run(func() error {
		s.stopLocked(forceQuit)
		return nil
	})
	s.thread.stop()
	s.thread = nil
}

func (s *Session) stopLocked(forceQuit bool) {
	if s.app == nil {
		return
	}

	var soft []string
	for _, e := range s.reg.all() {
		if !e.Owned {
			continue
		}
		if err := e.Doc.Close(false); err != nil {
			soft = append(soft, fmt.Sprintf("close %s: %v", e.Path, err))
			metrics.SoftFailures.WithLabelValues("stop_close").Inc()
		} else {
			metrics.DocumentsClosed.Inc()
		}
	}
	s.reg.clear()
	metrics.OpenDocuments.Set(0)

	if forceQuit || !s.attached {
		if err := s.app.Quit(); err != nil {
			soft = append(soft, fmt.Sprintf("quit: %v", err))
			metrics.SoftFailures.WithLabelValues("stop_quit").Inc()
		}
	}
	s.app.Release()
	s.app = nil

	if len(soft) > 0 {
		s.log.Warn("session stop completed with soft failures", zap.Strings("failures", soft))
	} else {
		s.log.Info("host session stopped")
	}
}

// Lease resolves a document handle for path, opening the document if
// needed. A cached live entry is returned as-is; a document already open
// in the host is adopted unowned rather than duplicate-opened; otherwise
// the document is opened fresh and owned. A stale application handle is
// recovered transparently with a single restart.
func (s *Session) Lease(path string, readOnly bool) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil && !s.started {
		return nil, ErrHostUnavailable
	}
	var e *Entry
	err := s.runOnHostThread(func() error {
		var err error
		e, err = s.leaseLocked(path, readOnly)
		return err
	})
	return e, err
}

func (s *Session) leaseLocked(path string, readOnly bool) (*Entry, error) {
	if s.app == nil && !s.started {
		return nil, ErrHostUnavailable
	}
	if !s.isAliveLocked() {
		// The user may have closed the application manually. One implicit
		// restart; no other operation retries.
		metrics.StaleRecoveries.Inc()
		s.log.Info("restarting session after stale handle")
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}

	key := normalizePath(path)

	if e, ok := s.reg.get(key); ok {
		if _, err := e.Doc.Name(); err != nil {
			// Cached handle went stale on its own (document closed behind
			// our back); drop and re-resolve.
			s.reg.remove(key)
		} else if e.ReadOnly && !readOnly {
			// A read-only handle cannot serve writers. The handle is ours
			// to close (adopted documents are never recorded read-only);
			// reopen writable below.
			s.reg.remove(key)
			if err := e.Doc.Close(false); err != nil {
				s.log.Debug("close of read-only handle failed",
					zap.String("path", e.Path), zap.Error(err))
			}
		} else {
			return e, nil
		}
	}

	abs, err := absolutePath(path)
	if err != nil {
		return nil, &DocumentNotFoundError{Path: path}
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, &DocumentNotFoundError{Path: path}
	}

	if doc := s.findOpenDocument(key); doc != nil {
		e := &Entry{Path: abs, Doc: doc, Owned: false}
		s.reg.put(e)
		metrics.DocumentsOpened.WithLabelValues("unowned").Inc()
		metrics.OpenDocuments.Set(float64(s.reg.len()))
		return e, nil
	}

	doc, err := s.app.Open(abs, readOnly)
	if err != nil {
		return nil, platformErr("open document", err)
	}
	e := &Entry{Path: abs, Doc: doc, Owned: true, ReadOnly: readOnly}
	s.reg.put(e)
	metrics.DocumentsOpened.WithLabelValues("owned").Inc()
	metrics.OpenDocuments.Set(float64(s.reg.len()))
	s.log.Debug("document leased", zap.String("path", abs), zap.Bool("read_only", readOnly))
	return e, nil
}

// findOpenDocument scans the host's open documents for one whose path
// matches key, so a document the user already has open is never opened a
// second time.
func (s *Session) findOpenDocument(key string) binding.DocHandle {
	docs, err := s.app.Documents()
	if err != nil {
		return nil
	}
	for _, doc := range docs {
		path, err := doc.FullPath()
		if err != nil {
			continue
		}
		if normalizePath(path) == key {
			return doc
		}
	}
	return nil
}

// CreateDocument creates a new document at path, owned by this session.
func (s *Session) CreateDocument(path string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil {
		return nil, ErrHostUnavailable
	}
	abs, err := absolutePath(path)
	if err != nil {
		return nil, platformErr("create document", err)
	}
	var e *Entry
	err = s.thread.run(func() error {
		doc, err := s.app.NewDocument(abs)
		if err != nil {
			return platformErr("create document", err)
		}
		e = &Entry{Path: abs, Doc: doc, Owned: true}
		s.reg.put(e)
		metrics.DocumentsOpened.WithLabelValues("owned").Inc()
		metrics.OpenDocuments.Set(float64(s.reg.len()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Release ends a lease. The document is closed only if this session owns
// it or force is set; an unowned document is saved when requested and then
// only dropped from tracking, never closed out from under its owner.
func (s *Session) Release(path string, save, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil {
		return ErrHostUnavailable
	}
	return s.thread.run(func() error {
		return s.releaseLocked(path, save, force)
	})
}

func (s *Session) releaseLocked(path string, save, force bool) error {
	if s.app == nil {
		return ErrHostUnavailable
	}
	key := normalizePath(path)
	e, ok := s.reg.get(key)
	if !ok {
		return &NotLeasedError{Path: path}
	}
	s.reg.remove(key)
	metrics.OpenDocuments.Set(float64(s.reg.len()))

	if e.Owned || force {
		if err := e.Doc.Close(save); err != nil {
			// The host may already have exited; the entry is gone either way.
			s.log.Debug("close during release failed", zap.String("path", e.Path), zap.Error(err))
			metrics.SoftFailures.WithLabelValues("release_close").Inc()
			return nil
		}
		metrics.DocumentsClosed.Inc()
		return nil
	}
	if save {
		if err := e.Doc.Save(); err != nil {
			return platformErr("save document", err)
		}
	}
	return nil
}

// CloseDocument is an explicit demand to close a document. Unlike Release
// it surfaces NotOwnedError instead of silently skipping the close when
// the session does not own the document and force is unset.
func (s *Session) CloseDocument(path string, save, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizePath(path)
	e, ok := s.reg.get(key)
	if !ok {
		return &NotLeasedError{Path: path}
	}
	if !e.Owned && !force {
		return &NotOwnedError{Path: e.Path}
	}
	if s.app == nil {
		return ErrHostUnavailable
	}
	return s.thread.run(func() error {
		return s.releaseLocked(path, save, force)
	})
}

// WithLease runs fn with a leased document and guarantees the lease is
// released on every exit path, including panics. Callers that cannot hold
// a lease across their own lifetime use this instead of Lease/Release.
func (s *Session) WithLease(path string, readOnly bool, fn func(binding.DocHandle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil && !s.started {
		return ErrHostUnavailable
	}
	return s.runOnHostThread(func() error {
		e, err := s.leaseLocked(path, readOnly)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.releaseLocked(e.Path, false, false); err != nil {
				s.log.Debug("release after scoped lease failed", zap.Error(err))
			}
		}()
		return fn(e.Doc)
	})
}

// Read runs fn against a leased document under the access lock. The lease
// stays cached for subsequent operations. Read-only operations skip view
// preservation.
func (s *Session) Read(path string, fn func(binding.DocHandle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil && !s.started {
		return ErrHostUnavailable
	}
	return s.runOnHostThread(func() error {
		e, err := s.leaseLocked(path, true)
		if err != nil {
			return err
		}
		return fn(e.Doc)
	})
}

// Mutate runs fn against a leased document under the access lock, with the
// user's view state captured before and restored after, whether fn
// succeeds or not.
func (s *Session) Mutate(path string, fn func(binding.DocHandle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil && !s.started {
		return ErrHostUnavailable
	}
	return s.runOnHostThread(func() error {
		e, err := s.leaseLocked(path, false)
		if err != nil {
			return err
		}
		snap := captureView(s.app)
		defer snap.restore(s.app, s.log)
		return fn(e.Doc)
	})
}

// Contains reports whether a document at path is currently leased.
func (s *Session) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.contains(path)
}

// IsOwned reports whether the leased document at path is owned by this
// session.
func (s *Session) IsOwned(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.isOwned(path)
}

// Status reports the current session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.app != nil,
		AttachMode:    s.attached,
		DocumentCount: s.reg.len(),
		OpenPaths:     s.reg.paths(),
	}
}

// ActiveDocumentPath returns the path of the host's active document, or
// empty if there is none or the handle cannot tell.
func (s *Session) ActiveDocumentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.app == nil {
		return ""
	}
	var path string
	_ = s.thread.run(func() error {
		doc, err := s.app.ActiveDocument()
		if err != nil {
			return nil
		}
		if p, err := doc.FullPath(); err == nil {
			path = p
		}
		return nil
	})
	return path
}

// UnsavedDocuments lists documents in the host with unsaved changes,
// whether or not this session leased them.
func (s *Session) UnsavedDocuments() []DocumentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DocumentInfo
	if s.app == nil {
		return out
	}
	_ = s.thread.run(func() error {
		docs, err := s.app.Documents()
		if err != nil {
			return nil
		}
		for _, doc := range docs {
			saved, err := doc.Saved()
			if err != nil || saved {
				continue
			}
			info := DocumentInfo{Saved: false}
			if name, err := doc.Name(); err == nil {
				info.Name = name
			}
			if path, err := doc.FullPath(); err == nil && path != info.Name {
				info.Path = path
			}
			out = append(out, info)
		}
		return nil
	})
	return out
}

// SaveAll saves every document in the host that has unsaved changes and a
// path to save to. Never-saved documents are reported, not saved.
func (s *Session) SaveAll() SaveReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rep SaveReport
	if s.app == nil {
		return rep
	}
	_ = s.thread.run(func() error {
		docs, err := s.app.Documents()
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("enumerate documents: %v", err))
			return nil
		}
		for _, doc := range docs {
			saved, err := doc.Saved()
			if err != nil || saved {
				continue
			}
			name, _ := doc.Name()
			path, err := doc.FullPath()
			if err != nil || path == "" || path == name {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%q has never been saved", name))
				continue
			}
			if err := doc.Save(); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("save %s: %v", path, err))
				continue
			}
			rep.Count++
		}
		return nil
	})
	return rep
}

// CloseAll closes every document open in the host, optionally saving
// first, and clears the registry. Used by callers preparing a full quit;
// ownership is deliberately ignored here because the caller asked for
// everything.
func (s *Session) CloseAll(save bool) SaveReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rep SaveReport
	if s.app == nil {
		return rep
	}
	_ = s.thread.run(func() error {
		docs, err := s.app.Documents()
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("enumerate documents: %v", err))
			return nil
		}
		// Back to front so collection indexes stay valid in the host.
		for i := len(docs) - 1; i >= 0; i-- {
			name, _ := docs[i].Name()
			if err := docs[i].Close(save); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("close %q: %v", name, err))
				continue
			}
			rep.Count++
			metrics.DocumentsClosed.Inc()
		}
		s.reg.clear()
		metrics.OpenDocuments.Set(0)
		return nil
	})
	return rep
}

func absolutePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	return filepath.Abs(path)
}
