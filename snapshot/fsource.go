package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSource reads service sources from a directory tree rooted at
// BaseDir. An entry is a path relative to BaseDir; FileSource rejects any
// entry that would escape it.
type FileSource struct {
	BaseDir string
}

// NewFileSource creates a FileSource rooted at baseDir.
func NewFileSource(baseDir string) *FileSource {
	return &FileSource{BaseDir: baseDir}
}

// ReadEntry implements SourceReader.
func (f *FileSource) ReadEntry(entry string) ([]byte, error) {
	clean := filepath.Clean(entry)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("entry %q escapes the service root", entry)
	}

	path := filepath.Join(f.BaseDir, clean)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service source %s: %w", path, err)
	}
	return data, nil
}
