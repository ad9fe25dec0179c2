package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	return path
}

func TestFingerprinter_One(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "def foo():\n    return 1\n")

	fp := New(dir, NewCache(10))

	result, err := fp.One(path)
	if err != nil {
		t.Fatalf("One: %v", err)
	}

	if result.Filename != "a.py" {
		t.Fatalf("got filename %q", result.Filename)
	}

	if len(result.MethodChecksums) != 2 {
		t.Fatalf("expected 2 checksums (foo + <module>), got %d", len(result.MethodChecksums))
	}
}

func TestFingerprinter_One_UsesCacheOnIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "def foo():\n    return 1\n")

	cache := NewCache(10)
	fp := New(dir, cache)

	if _, err := fp.One(path); err != nil {
		t.Fatalf("One (first): %v", err)
	}

	if cache.Len() != 1 {
		t.Fatalf("expected 1 cache entry, got %d", cache.Len())
	}

	if _, err := fp.One(path); err != nil {
		t.Fatalf("One (second): %v", err)
	}

	if cache.Len() != 1 {
		t.Fatalf("expected cache to still hold 1 entry after a hit, got %d", cache.Len())
	}
}

func TestFingerprinter_Batch_PreservesOrder(t *testing.T) {
	dir := t.TempDir()

	paths := make([]string, 5)
	for i := range paths {
		name := string(rune('a' + i)) + ".py"
		paths[i] = writeFile(t, dir, name, "def f():\n    pass\n")
	}

	fp := New(dir, NewCache(10))

	results, err := fp.Batch(context.Background(), paths)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}

	for i, r := range results {
		want := string(rune('a'+i)) + ".py"
		if r.Filename != want {
			t.Fatalf("result[%d].Filename = %q, want %q", i, r.Filename, want)
		}
	}
}

func TestFingerprint_ChecksumSet(t *testing.T) {
	fp := Fingerprint{MethodChecksums: []int32{1, 2, 2, 3}}

	set := fp.ChecksumSet()
	if len(set) != 3 {
		t.Fatalf("expected 3 distinct checksums, got %d", len(set))
	}
}
