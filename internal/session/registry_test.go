package session

import (
	"path/filepath"
	"testing"
)

func TestNormalizePathFoldsCase(t *testing.T) {
	a := normalizePath("/Work/Report.XLSX")
	b := normalizePath("/work/report.xlsx")
	if a != b {
		t.Errorf("normalized keys differ: %q vs %q", a, b)
	}
}

func TestNormalizePathResolvesRelative(t *testing.T) {
	key := normalizePath("report.xlsx")
	if !filepath.IsAbs(key) {
		t.Errorf("key %q is not absolute", key)
	}
}

func TestRegistryOwnership(t *testing.T) {
	r := newRegistry()
	r.put(&Entry{Path: "/tmp/a.xlsx", Owned: true})
	r.put(&Entry{Path: "/tmp/b.xlsx", Owned: false})

	if !r.isOwned("/tmp/a.xlsx") {
		t.Error("a.xlsx should be owned")
	}
	if r.isOwned("/tmp/b.xlsx") {
		t.Error("b.xlsx should not be owned")
	}
	if r.isOwned("/tmp/missing.xlsx") {
		t.Error("untracked path reported owned")
	}
}

func TestRegistryPutOverwritesSameKey(t *testing.T) {
	r := newRegistry()
	r.put(&Entry{Path: "/tmp/A.xlsx", Owned: false})
	r.put(&Entry{Path: "/tmp/a.xlsx", Owned: true})

	if r.len() != 1 {
		t.Fatalf("len = %d, want 1", r.len())
	}
	if !r.isOwned("/tmp/A.xlsx") {
		t.Error("overwrite did not take effect")
	}
}

func TestRegistryPathsSorted(t *testing.T) {
	r := newRegistry()
	r.put(&Entry{Path: "/tmp/b.xlsx"})
	r.put(&Entry{Path: "/tmp/a.xlsx"})

	paths := r.paths()
	if len(paths) != 2 || paths[0] != "/tmp/a.xlsx" || paths[1] != "/tmp/b.xlsx" {
		t.Errorf("paths = %v", paths)
	}
}

func TestRegistryClear(t *testing.T) {
	r := newRegistry()
	r.put(&Entry{Path: "/tmp/a.xlsx"})
	r.clear()
	if r.len() != 0 {
		t.Errorf("len = %d after clear", r.len())
	}
}
