// Package staging persists intermediate pipeline artifacts so an interrupted
// API refresh can resume without refetching. Artifacts are JSON documents
// addressed by name.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
)

// ErrNotFound is returned by Load for an artifact that was never saved.
var ErrNotFound = apperrors.NewNotFoundError("staged artifact not found")

// Store saves and loads named artifacts.
type Store interface {
	Save(ctx context.Context, name string, v interface{}) error
	Load(ctx context.Context, name string, v interface{}) error
	Exists(ctx context.Context, name string) (bool, error)
}

// FileStore keeps artifacts as <dir>/<name>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewFileStore: creating %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes through a temp file and renames, so a crash never leaves a
// truncated artifact behind.
func (s *FileStore) Save(ctx context.Context, name string, v interface{}) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("FileStore.Save: encoding %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("FileStore.Save: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("FileStore.Save: writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("FileStore.Save: closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("FileStore.Save: renaming %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, name string, v interface{}) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("FileStore.Load: reading %s: %w", name, err)
	}
	if err := decode(data, v); err != nil {
		return fmt.Errorf("FileStore.Load: decoding %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return apperrors.NewValidationError(fmt.Sprintf("invalid artifact name %q", name))
	}
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*GCSStore)(nil)
)
