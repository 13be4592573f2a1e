// Package memory implements the content archive in process memory.
// Used by tests; nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/clipvault/clipvault/pkg/blob"
)

// Archive keeps blobs in a map. Safe for concurrent use.
type Archive struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewArchive creates an empty in-memory archive.
func NewArchive() *Archive {
	return &Archive{blobs: make(map[string][]byte)}
}

// Store implements blob.Archive.
func (a *Archive) Store(ctx context.Context, hash string, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	if _, ok := a.blobs[hash]; !ok {
		a.blobs[hash] = data
	}
	a.mu.Unlock()

	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return blob.ArchiveKey(hash), nil
}

// Exists implements blob.Archive.
func (a *Archive) Exists(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.blobs[hash]
	return ok, nil
}

// LinkInto implements blob.Archive by writing a copy to dst.
func (a *Archive) LinkInto(ctx context.Context, hash string, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	data, ok := a.blobs[hash]
	a.mu.RUnlock()
	if !ok {
		return errors.New("cannot link unarchived content " + hash)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
