package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/psantana5/excel-host/internal/syncx"
	"github.com/psantana5/excel-host/pkg/binding"
	"github.com/psantana5/excel-host/pkg/binding/bindingtest"
)

func tempDoc(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fakeTracker struct {
	queue     [][]int32
	snapshots int
	tracked   []int32
}

func (f *fakeTracker) SnapshotHostPIDs(name string) []int32 {
	f.snapshots++
	if len(f.queue) == 0 {
		return nil
	}
	out := f.queue[0]
	f.queue = f.queue[1:]
	return out
}

func (f *fakeTracker) TrackFreshInstance(before, after []int32) int {
	seen := map[int32]bool{}
	for _, p := range before {
		seen[p] = true
	}
	n := 0
	for _, p := range after {
		if !seen[p] {
			f.tracked = append(f.tracked, p)
			n++
		}
	}
	return n
}

func TestStartCreatesWhenNothingRunning(t *testing.T) {
	fake := bindingtest.NewFake()
	s := New(fake, Options{AttachToExisting: true})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := s.Status()
	if !st.Running {
		t.Error("session not running after Start")
	}
	if st.AttachMode {
		t.Error("attach mode reported with no running instance")
	}
	if len(fake.Created) != 1 {
		t.Errorf("created instances = %d, want 1", len(fake.Created))
	}
}

func TestStartAttachesToRunningInstance(t *testing.T) {
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	s := New(fake, Options{AttachToExisting: true})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Status().AttachMode {
		t.Error("expected attach mode")
	}
	if len(fake.Created) != 0 {
		t.Errorf("created instances = %d, want 0", len(fake.Created))
	}
}

func TestStartIsIdempotent(t *testing.T) {
	fake := bindingtest.NewFake()
	s := New(fake, Options{})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if len(fake.Created) != 1 {
		t.Errorf("created instances = %d, want 1", len(fake.Created))
	}
	if fake.InitCalls != 1 {
		t.Errorf("init calls = %d, want 1", fake.InitCalls)
	}
}

func TestAdoptedDocumentsAreUnowned(t *testing.T) {
	path := tempDoc(t, "user.xlsx")

	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	fake.Running.AddDoc(path)
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	if !s.Contains(path) {
		t.Fatal("pre-open document not adopted")
	}
	if s.IsOwned(path) {
		t.Error("pre-open document must not be owned")
	}
}

func TestAdoptSkipsNeverSavedDocuments(t *testing.T) {
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	// A never-saved document reports its bare name as its full path.
	fake.Running.AddDoc("Book1")
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.Status().DocumentCount != 0 {
		t.Error("never-saved document should not be adopted")
	}
}

func TestLeaseOpensAndOwns(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	e, err := s.Lease(path, false)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if !e.Owned {
		t.Error("freshly opened document should be owned")
	}
}

func TestLeaseIsCached(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	e1, err := s.Lease(path, false)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := s.Lease(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Error("second lease returned a different entry")
	}
	if n, _ := fake.Created[0].DocumentCount(); n != 1 {
		t.Errorf("open documents in host = %d, want 1", n)
	}
}

func TestLeaseAdoptsAlreadyOpenDocument(t *testing.T) {
	path := tempDoc(t, "user.xlsx")
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	// The user opens the document after our start; the lease must find it
	// instead of opening a second copy.
	fake.Running.AddDoc(path)

	e, err := s.Lease(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if e.Owned {
		t.Error("document opened by someone else must be adopted unowned")
	}
	if n, _ := fake.Running.DocumentCount(); n != 1 {
		t.Errorf("open documents in host = %d, want 1", n)
	}
}

func TestLeaseCaseInsensitivePaths(t *testing.T) {
	path := tempDoc(t, "Book.XLSX")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Lease(path, false); err != nil {
		t.Fatal(err)
	}
	lower := filepath.Join(filepath.Dir(path), "book.xlsx")
	if runtimeCaseSensitive(path, lower) {
		t.Skip("filesystem is case sensitive")
	}
	if _, err := s.Lease(lower, false); err != nil {
		t.Fatal(err)
	}
	if s.Status().DocumentCount != 1 {
		t.Errorf("document count = %d, want 1", s.Status().DocumentCount)
	}
}

// runtimeCaseSensitive reports whether the two spellings resolve to
// different files on this filesystem.
func runtimeCaseSensitive(orig, respelled string) bool {
	_, err := os.Stat(respelled)
	return err != nil
}

func TestLeaseMissingFile(t *testing.T) {
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	_, err := s.Lease(filepath.Join(t.TempDir(), "missing.xlsx"), false)
	var notFound *DocumentNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want DocumentNotFoundError", err)
	}
}

func TestLeaseBeforeStart(t *testing.T) {
	fake := bindingtest.NewFake()
	s := New(fake, Options{})

	_, err := s.Lease("anything.xlsx", false)
	if !errors.Is(err, ErrHostUnavailable) {
		t.Fatalf("err = %v, want ErrHostUnavailable", err)
	}
}

func TestStaleHandleRecoversOnce(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lease(path, false); err != nil {
		t.Fatal(err)
	}

	// The user kills the application behind our back.
	fake.Created[0].MarkStale()

	e, err := s.Lease(path, false)
	if err != nil {
		t.Fatalf("lease after stale handle: %v", err)
	}
	if !e.Owned {
		t.Error("reopened document should be owned")
	}
	if len(fake.Created) != 2 {
		t.Errorf("created instances = %d, want 2 (one restart)", len(fake.Created))
	}
	// The registry must have been rebuilt, not carried over.
	if s.Status().DocumentCount != 1 {
		t.Errorf("document count = %d, want 1", s.Status().DocumentCount)
	}
}

func TestStaleRegistryIsCleared(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lease(path, false); err != nil {
		t.Fatal(err)
	}

	fake.Created[0].MarkStale()
	if s.IsAlive() {
		t.Fatal("stale session reported alive")
	}
	if s.Status().DocumentCount != 0 {
		t.Error("registry not cleared after stale handle")
	}
}

func TestReleaseClosesOwned(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	e, err := s.Lease(path, false)
	if err != nil {
		t.Fatal(err)
	}
	doc := e.Doc.(*bindingtest.Doc)

	if err := s.Release(path, false, false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !doc.Closed {
		t.Error("owned document not closed on release")
	}
	if s.Contains(path) {
		t.Error("document still tracked after release")
	}
}

func TestReleaseNeverClosesUnowned(t *testing.T) {
	path := tempDoc(t, "user.xlsx")
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	doc := fake.Running.AddDoc(path)
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	if err := s.Release(path, true, false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if doc.Closed {
		t.Fatal("unowned document was closed")
	}
	if doc.SaveCalls != 1 {
		t.Errorf("save calls = %d, want 1", doc.SaveCalls)
	}
	if s.Contains(path) {
		t.Error("document still tracked after release")
	}
}

func TestReleaseWithForceClosesUnowned(t *testing.T) {
	path := tempDoc(t, "user.xlsx")
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	doc := fake.Running.AddDoc(path)
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	if err := s.Release(path, false, true); err != nil {
		t.Fatal(err)
	}
	if !doc.Closed {
		t.Error("force release did not close the document")
	}
}

func TestCloseDocumentRefusesUnowned(t *testing.T) {
	path := tempDoc(t, "user.xlsx")
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	fake.Running.AddDoc(path)
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	err := s.CloseDocument(path, false, false)
	var notOwned *NotOwnedError
	if !errors.As(err, &notOwned) {
		t.Fatalf("err = %v, want NotOwnedError", err)
	}
	if !s.Contains(path) {
		t.Error("refused close must leave the document tracked")
	}
}

func TestStopClosesOnlyOwnedWithoutSaving(t *testing.T) {
	userPath := tempDoc(t, "user.xlsx")
	ownPath := tempDoc(t, "own.xlsx")

	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	userDoc := fake.Running.AddDoc(userPath)
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	e, err := s.Lease(ownPath, false)
	if err != nil {
		t.Fatal(err)
	}
	ownDoc := e.Doc.(*bindingtest.Doc)
	ownDoc.Dirty = true

	s.Stop(false)

	if userDoc.Closed {
		t.Error("user's document was closed on stop")
	}
	if !ownDoc.Closed {
		t.Error("owned document not closed on stop")
	}
	if ownDoc.SavedOn {
		t.Error("stop must close without saving")
	}
	if fake.Running.QuitCalls != 0 {
		t.Error("attached instance was quit without forceQuit")
	}
	if fake.UninitCalls != 1 {
		t.Errorf("uninit calls = %d, want 1", fake.UninitCalls)
	}
}

func TestStopQuitsCreatedInstance(t *testing.T) {
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.Stop(false)
	if fake.Created[0].QuitCalls != 1 {
		t.Errorf("quit calls = %d, want 1", fake.Created[0].QuitCalls)
	}
}

func TestStopForceQuitsAttachedInstance(t *testing.T) {
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.Stop(true)
	if fake.Running.QuitCalls != 1 {
		t.Errorf("quit calls = %d, want 1", fake.Running.QuitCalls)
	}
}

func TestStopSurvivesCloseFailure(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	e, err := s.Lease(path, false)
	if err != nil {
		t.Fatal(err)
	}
	e.Doc.(*bindingtest.Doc).CloseErr = errors.New("host refused")

	// Must not panic and must still quit and release.
	s.Stop(false)
	if s.Status().Running {
		t.Error("session still running after stop")
	}
	if fake.Created[0].QuitCalls != 1 {
		t.Error("quit skipped after close failure")
	}
}

func TestFreshCreateTrackedExactlyOnce(t *testing.T) {
	fake := bindingtest.NewFake()
	// Pid 100 was already running before the create; 200 appeared with it.
	tr := &fakeTracker{queue: [][]int32{{100}, {100, 200}}}
	s := New(fake, Options{Tracker: tr})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if tr.snapshots != 2 {
		t.Fatalf("snapshots = %d, want 2", tr.snapshots)
	}
	if len(tr.tracked) != 1 || tr.tracked[0] != 200 {
		t.Errorf("tracked = %v, want [200]", tr.tracked)
	}
}

func TestAttachTracksNothing(t *testing.T) {
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	tr := &fakeTracker{queue: [][]int32{{100}, {100}}}
	s := New(fake, Options{AttachToExisting: true, Tracker: tr})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if len(tr.tracked) != 0 {
		t.Errorf("tracked = %v, want none in attach mode", tr.tracked)
	}
}

func TestWithLeaseReleasesOnError(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("operation failed")
	err := s.WithLease(path, false, func(doc binding.DocHandle) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if s.Contains(path) {
		t.Error("lease not released after error")
	}
}

func TestWithLeaseReleasesOnPanic(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = s.WithLease(path, false, func(doc binding.DocHandle) error {
			panic("boom")
		})
	}()
	if s.Contains(path) {
		t.Error("lease not released after panic")
	}
}

func TestMutateRestoresView(t *testing.T) {
	userPath := tempDoc(t, "user.xlsx")
	workPath := tempDoc(t, "work.xlsx")

	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	fake.Running.AddDoc(userPath)
	fake.Running.ScrollRow, fake.Running.ScrollCol = 40, 3
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	err := s.Mutate(workPath, func(doc binding.DocHandle) error {
		// The operation wanders off and scrolls the window.
		return fake.Running.SetScroll(1, 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	row, col, _ := fake.Running.Scroll()
	if row != 40 || col != 3 {
		t.Errorf("scroll = (%d,%d), want (40,3)", row, col)
	}
}

func TestMutateRestoresActiveSheet(t *testing.T) {
	workPath := tempDoc(t, "work.xlsx")

	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	e, err := s.Lease(workPath, false)
	if err != nil {
		t.Fatal(err)
	}
	doc := e.Doc.(*bindingtest.Doc)
	data := doc.AddSheet("Data")

	wantErr := errors.New("mid-operation failure")
	err = s.Mutate(workPath, func(d binding.DocHandle) error {
		// The operation activates another worksheet, then fails.
		if err := data.Activate(); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	sheet, err := doc.ActiveSheet()
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := sheet.Name(); name != "Sheet1" {
		t.Errorf("active sheet = %q, want Sheet1 restored", name)
	}
}

func TestMutateRestoresViewOnError(t *testing.T) {
	workPath := tempDoc(t, "work.xlsx")

	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	fake.Running.ScrollRow, fake.Running.ScrollCol = 10, 2
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("write failed")
	err := s.Mutate(workPath, func(doc binding.DocHandle) error {
		_ = fake.Running.SetScroll(999, 999)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	row, col, _ := fake.Running.Scroll()
	if row != 10 || col != 2 {
		t.Errorf("scroll = (%d,%d), want (10,2) after failed mutate", row, col)
	}
}

func TestSelectionNeverRestored(t *testing.T) {
	workPath := tempDoc(t, "work.xlsx")

	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	fake.Running.Selection = "$B$2"
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	err := s.Mutate(workPath, func(doc binding.DocHandle) error {
		fake.Running.Selection = "$Z$99"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// The selection the operation left behind stays; restoring it would
	// fight the user.
	if sel, _ := fake.Running.SelectionAddress(); sel != "$Z$99" {
		t.Errorf("selection = %q, want $Z$99 (untouched)", sel)
	}
}

func TestCreateDocument(t *testing.T) {
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "new.xlsx")
	e, err := s.CreateDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Owned {
		t.Error("created document should be owned")
	}
	if !s.Contains(path) {
		t.Error("created document not tracked")
	}
}

func TestUnsavedDocuments(t *testing.T) {
	path := tempDoc(t, "book.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	e, err := s.Lease(path, false)
	if err != nil {
		t.Fatal(err)
	}
	e.Doc.(*bindingtest.Doc).Dirty = true

	unsaved := s.UnsavedDocuments()
	if len(unsaved) != 1 {
		t.Fatalf("unsaved = %d, want 1", len(unsaved))
	}
	if unsaved[0].Name != "book.xlsx" {
		t.Errorf("name = %q", unsaved[0].Name)
	}
}

func TestSaveAllSkipsNeverSaved(t *testing.T) {
	fake := bindingtest.NewFake()
	fake.Running = bindingtest.NewApp()
	never := fake.Running.AddDoc("Book1")
	never.Dirty = true
	s := New(fake, Options{AttachToExisting: true})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	rep := s.SaveAll()
	if rep.Count != 0 {
		t.Errorf("saved = %d, want 0", rep.Count)
	}
	if len(rep.Errors) != 1 {
		t.Errorf("errors = %v, want one never-saved report", rep.Errors)
	}
	if never.SaveCalls != 0 {
		t.Error("never-saved document must not be saved")
	}
}

func TestCloseAll(t *testing.T) {
	a := tempDoc(t, "a.xlsx")
	b := tempDoc(t, "b.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lease(a, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lease(b, false); err != nil {
		t.Fatal(err)
	}

	rep := s.CloseAll(false)
	if rep.Count != 2 {
		t.Errorf("closed = %d, want 2", rep.Count)
	}
	if s.Status().DocumentCount != 0 {
		t.Error("registry not cleared after CloseAll")
	}
	if n, _ := fake.Created[0].DocumentCount(); n != 0 {
		t.Errorf("host still has %d documents", n)
	}
}

// threadCheckBinding records which goroutine performed the per-thread init
// and flags handle calls observed on any other goroutine. The session's
// binding goroutine is locked to its OS thread, so goroutine identity
// stands in for thread identity.
type threadCheckBinding struct {
	*bindingtest.Fake

	mu         sync.Mutex
	initGID    uint64
	uninitGID  uint64
	violations []string
}

func (b *threadCheckBinding) InitThread() error {
	b.mu.Lock()
	b.initGID = syncx.GoroutineID()
	b.mu.Unlock()
	return b.Fake.InitThread()
}

func (b *threadCheckBinding) UninitThread() {
	b.mu.Lock()
	b.uninitGID = syncx.GoroutineID()
	b.mu.Unlock()
	b.Fake.UninitThread()
}

func (b *threadCheckBinding) observe(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g := syncx.GoroutineID(); g != b.initGID {
		b.violations = append(b.violations,
			fmt.Sprintf("%s on goroutine %d, init on %d", op, g, b.initGID))
	}
}

func (b *threadCheckBinding) Attach() (binding.AppHandle, error) {
	app, err := b.Fake.Attach()
	if err != nil {
		return nil, err
	}
	return &threadCheckApp{AppHandle: app, owner: b}, nil
}

func (b *threadCheckBinding) Create() (binding.AppHandle, error) {
	app, err := b.Fake.Create()
	if err != nil {
		return nil, err
	}
	return &threadCheckApp{AppHandle: app, owner: b}, nil
}

type threadCheckApp struct {
	binding.AppHandle
	owner *threadCheckBinding
}

func (a *threadCheckApp) SetVisible(v bool) error {
	a.owner.observe("SetVisible")
	return a.AppHandle.SetVisible(v)
}

func (a *threadCheckApp) DocumentCount() (int, error) {
	a.owner.observe("DocumentCount")
	return a.AppHandle.DocumentCount()
}

func (a *threadCheckApp) Documents() ([]binding.DocHandle, error) {
	a.owner.observe("Documents")
	return a.AppHandle.Documents()
}

func (a *threadCheckApp) Open(path string, readOnly bool) (binding.DocHandle, error) {
	a.owner.observe("Open")
	return a.AppHandle.Open(path, readOnly)
}

func (a *threadCheckApp) Quit() error {
	a.owner.observe("Quit")
	return a.AppHandle.Quit()
}

func TestHandleCallsStayOnInitThread(t *testing.T) {
	chk := &threadCheckBinding{Fake: bindingtest.NewFake()}
	s := New(chk, Options{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Lease from a goroutine pinned to its own OS thread, the way an HTTP
	// handler goroutine might arrive.
	path := tempDoc(t, "pinned.xlsx")
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		_, err := s.Lease(path, false)
		errc <- err
	}()
	if err := <-errc; err != nil {
		t.Fatalf("Lease: %v", err)
	}
	s.Stop(false)

	chk.mu.Lock()
	defer chk.mu.Unlock()
	if len(chk.violations) > 0 {
		t.Errorf("handle calls escaped the init thread:\n%s",
			strings.Join(chk.violations, "\n"))
	}
	if chk.uninitGID != chk.initGID {
		t.Errorf("uninit on goroutine %d, init on %d", chk.uninitGID, chk.initGID)
	}
	if chk.InitCalls != 1 || chk.UninitCalls != 1 {
		t.Errorf("init/uninit calls = %d/%d, want 1/1", chk.InitCalls, chk.UninitCalls)
	}
}

func TestWritableLeaseReopensReadOnlyHandle(t *testing.T) {
	path := tempDoc(t, "modes.xlsx")
	fake := bindingtest.NewFake()
	s := New(fake, Options{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	first, err := s.Lease(path, true)
	if err != nil {
		t.Fatalf("read-only lease: %v", err)
	}
	if again, err := s.Lease(path, true); err != nil || again != first {
		t.Fatal("second read-only lease did not reuse the cached handle")
	}

	writable, err := s.Lease(path, false)
	if err != nil {
		t.Fatalf("writable lease: %v", err)
	}
	if writable == first {
		t.Fatal("writable lease reused the read-only handle")
	}
	if writable.ReadOnly || !writable.Owned {
		t.Errorf("reopened entry read-only=%v owned=%v, want writable and owned",
			writable.ReadOnly, writable.Owned)
	}
	roDoc := first.Doc.(*bindingtest.Doc)
	if !roDoc.Closed {
		t.Error("read-only handle left open after the writable reopen")
	}

	// Downgrade is free: a read lease is served by the writable handle.
	if reader, err := s.Lease(path, true); err != nil || reader != writable {
		t.Error("read lease did not reuse the writable handle")
	}
}
