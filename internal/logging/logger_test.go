package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetState() {
	mu.Lock()
	logDir = ""
	mu.Unlock()
}

func TestInitialize_CreatesLogDirectory(t *testing.T) {
	defer func() {
		CloseAll()
		resetState()
	}()

	dir := t.TempDir()
	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, ".cache", "diff", "logs"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected log directory to exist: %v", err)
	}
}

func TestLogger_WriteAppearsInFile(t *testing.T) {
	defer func() {
		CloseAll()
		resetState()
	}()

	dir := t.TempDir()
	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Get(CategoryStore).Info("hello %s", "world")
	CloseAll()

	data, err := os.ReadFile(filepath.Join(dir, ".cache", "diff", "logs", "store.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	if !strings.Contains(string(data), "hello world") {
		t.Fatalf("expected log content to contain message, got %q", data)
	}
}

func TestLogger_NoOpBeforeInitialize(t *testing.T) {
	defer resetState()

	// No Initialize call: writes must not panic and must be silently dropped.
	Get(CategoryDetect).Debug("never written")
}
