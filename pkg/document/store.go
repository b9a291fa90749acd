package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store reads and writes whole documents.
type Store interface {
	// Read returns the document at path, or Null when it does not exist.
	Read(path string) (Node, error)

	// Write replaces the document at path atomically.
	Write(n Node, path string) error
}

// FileStore persists documents on the local filesystem. The format is
// chosen from the file extension: ".plist" files are XML property lists,
// everything else is YAML.
type FileStore struct {
	// Mode is the permission applied to written files (default 0644).
	Mode os.FileMode
}

// NewFileStore creates a FileStore with default permissions.
func NewFileStore() *FileStore {
	return &FileStore{Mode: 0o644}
}

// Read implements Store.
func (s *FileStore) Read(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Null(), nil
	}
	if err != nil {
		return Null(), fmt.Errorf("failed to read %s: %w", path, err)
	}
	n, err := Decode(data)
	if err != nil {
		return Null(), fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return n, nil
}

// Write implements Store. The document is written to a temporary file in the
// destination directory, synced, and renamed into place.
func (s *FileStore) Write(n Node, path string) error {
	data, err := Encode(n, FormatForPath(path))
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	mode := s.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
