// Package artifact persists classifier snapshots as JSON files.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/okian/errquotient/internal/domain/classifier"
)

var (
	// ErrNotExist means no artifact has been saved yet.
	ErrNotExist = errors.New("model artifact does not exist")
	// ErrInvalidArtifact means the file exists but is not a usable model.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// FileStore reads and writes one artifact file.
type FileStore struct {
	path string
}

// NewFileStore returns a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the artifact location.
func (f *FileStore) Path() string { return f.path }

// Load reads and validates the snapshot.
func (f *FileStore) Load(ctx context.Context) (*classifier.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, f.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var snap classifier.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return &snap, nil
}

// Save writes snap next to the target and renames it into place, so
// readers never observe a partial file.
func (f *FileStore) Save(ctx context.Context, snap *classifier.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("install model artifact: %w", err)
	}
	return nil
}
