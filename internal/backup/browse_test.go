package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestBrowseSortsDirsFirst(t *testing.T) {
	s := newTestVersionStore(t)
	id := uuid.New()
	vdir := mkVersion(t, s, id, 1)

	for _, d := range []string{"zeta-dir", "alpha-dir"} {
		if err := os.MkdirAll(filepath.Join(vdir, d), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range []string{"beta.txt", "aaa.txt"} {
		if err := os.WriteFile(filepath.Join(vdir, f), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Browse(id, "v1", "/")
	if err != nil {
		t.Fatalf("browse: %v", err)
	}

	wantOrder := []string{"alpha-dir", "zeta-dir", "aaa.txt", "beta.txt"}
	if len(entries) != len(wantOrder) {
		t.Fatalf("got %d entries, want %d", len(entries), len(wantOrder))
	}
	for i, want := range wantOrder {
		if entries[i].Name != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Name, want)
		}
	}
}

func TestBrowseDirectorySizeRecursive(t *testing.T) {
	s := newTestVersionStore(t)
	id := uuid.New()
	vdir := mkVersion(t, s, id, 1)

	nested := filepath.Join(vdir, "data", "deep")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(vdir, "data", "a.bin"), make([]byte, 100), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "b.bin"), make([]byte, 50), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Browse(id, "v1", "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "data" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Size != 150 {
		t.Errorf("dir size = %d, want 150", entries[0].Size)
	}
}

func TestBrowseRejectsEscape(t *testing.T) {
	s := newTestVersionStore(t)
	id := uuid.New()
	mkVersion(t, s, id, 1)

	_, err := s.Browse(id, "v1", "/../../../etc")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !errors.Is(err, ErrPathEscapes) && !os.IsNotExist(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestBrowseUnknownVersion(t *testing.T) {
	s := newTestVersionStore(t)
	if _, err := s.Browse(uuid.New(), "v9", "/"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("err = %v, want ErrVersionNotFound", err)
	}
}

func TestDeviceUsage(t *testing.T) {
	s := newTestVersionStore(t)
	id := uuid.New()
	vdir := mkVersion(t, s, id, 1)
	if err := os.WriteFile(filepath.Join(vdir, "img.raw"), make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := s.DeviceUsage(id); got != 4096 {
		t.Errorf("usage = %d, want 4096", got)
	}
}
