package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSourceReadEntry(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.js"), []byte("exports.handle = () => {}"), 0644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(dir)
	data, err := src.ReadEntry("hello.js")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "exports.handle = () => {}" {
		t.Errorf("got %q", data)
	}
}

func TestFileSourceRejectsEscape(t *testing.T) {
	src := NewFileSource(t.TempDir())

	tests := []string{"../outside.js", "/etc/passwd"}
	for _, entry := range tests {
		if _, err := src.ReadEntry(entry); err == nil {
			t.Errorf("entry %q should have been rejected", entry)
		}
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(t.TempDir())
	if _, err := src.ReadEntry("does-not-exist.js"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
