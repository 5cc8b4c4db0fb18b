// Package filestore persists the Document as a single JSON file. Writes go
// to a temporary file in the same directory which then replaces the target,
// so readers never observe a partially written document.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/models"
)

const fileMode = 0o644

// Backend reads and writes one JSON file.
type Backend struct {
	path string
}

// New returns a backend for path. The file need not exist yet.
func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Name() string { return "file" }

// Path returns the file the backend writes to.
func (b *Backend) Path() string { return b.path }

func (b *Backend) Read(ctx context.Context) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "read", Err: err}
	}
	if len(raw) == 0 {
		return nil, common.ErrNotFound
	}

	doc := &models.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "decode", Err: err}
	}
	return doc, nil
}

func (b *Backend) Write(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "encode", Err: err}
	}

	if err := b.replace(raw); err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "write", Err: err}
	}
	return nil
}

func (b *Backend) replace(raw []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path)
}

func (b *Backend) Close() error { return nil }
