package scratch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSpaceLifecycle(t *testing.T) {
	root := t.TempDir()
	space, err := New(root, "intro.mov")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(space.Dir()); err != nil {
		t.Fatalf("scratch dir missing: %v", err)
	}

	in, err := space.CreateInput()
	if err != nil {
		t.Fatalf("CreateInput: %v", err)
	}
	if _, err := in.WriteString("original bytes"); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("close input: %v", err)
	}
	if err := os.WriteFile(space.OutputPath(), []byte("rendition"), 0o600); err != nil {
		t.Fatalf("write output: %v", err)
	}

	if err := space.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(space.Dir()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after Close: %v", err)
	}

	// Double close must be safe.
	if err := space.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty scratch root, found %d entries", len(entries))
	}
}

func TestSpaceHintSanitized(t *testing.T) {
	root := t.TempDir()
	space, err := New(root, "../..//weird name!.mov")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer space.Close()
	rel, err := filepath.Rel(root, space.Dir())
	if err != nil || rel == ".." || filepath.IsAbs(rel) {
		t.Fatalf("scratch dir escaped root: %q (%v)", space.Dir(), err)
	}
}

func TestSweepStale(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "convert-old-123")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(root, "convert-new-456")
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(root, "keep-me")
	if err := os.MkdirAll(unrelated, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(unrelated, old, old); err != nil {
		t.Fatal(err)
	}

	removed, err := SweepStale(root, 24*time.Hour)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if len(removed) != 1 || removed[0] != stale {
		t.Fatalf("removed = %v, want [%s]", removed, stale)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh dir removed: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("unrelated dir removed: %v", err)
	}
}

func TestSweepStaleMissingRoot(t *testing.T) {
	removed, err := SweepStale(filepath.Join(t.TempDir(), "absent"), time.Hour)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if removed != nil {
		t.Fatalf("removed = %v", removed)
	}
}
