// Package storage persists raw audio bytes under generated unique names.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open and Delete when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object store used for uploaded audio.
type Store interface {
	// Save writes data under a new unique name derived from originalName and
	// returns the storage path and the generated name.
	Save(ctx context.Context, data []byte, originalName string) (path, name string, err error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// UniqueName returns "<uuid><ext>" keeping the extension of originalName.
func UniqueName(originalName string) string {
	return uuid.NewString() + filepath.Ext(originalName)
}
