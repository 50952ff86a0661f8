package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
)

// FileStore keeps the document in a single JSON file.
type FileStore struct {
	path string
	perm os.FileMode
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, perm: 0o644}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, &apperr.StoreIOError{Op: "load", Err: err}
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, &apperr.StoreCorruptError{Source: s.path, Err: err}
	}
	if doc == nil {
		return NewDocument(), nil
	}
	return doc, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return &apperr.StoreIOError{Op: "encode", Err: err}
	}
	if err := s.atomicWrite(data); err != nil {
		return &apperr.StoreIOError{Op: "save", Err: err}
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

// atomicWrite writes through a temporary file in the same directory and renames
// it over the target, so readers never observe a partial document.
func (s *FileStore) atomicWrite(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, s.perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}
