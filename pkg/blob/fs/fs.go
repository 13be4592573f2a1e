// Package fs implements the content archive on a local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clipvault/clipvault/pkg/blob"
)

// Archive stores content under <root>/<shard>/<hash>, where shard is the
// first two hex characters of the hash. Writes land via atomic rename, so
// a crash never leaves a partial blob under its final name and concurrent
// writers of the same hash cannot corrupt each other.
type Archive struct {
	root string
}

// NewArchive creates the archive directory if needed and returns the
// archive rooted there.
func NewArchive(root string) (*Archive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root %s: %w", root, err)
	}
	return &Archive{root: root}, nil
}

func (a *Archive) path(hash string) string {
	return filepath.Join(a.root, filepath.FromSlash(blob.ArchiveKey(hash)))
}

// Store implements blob.Archive. The source file must live on the same
// filesystem as the archive root for the rename to be atomic; the staging
// area guarantees this by sharing the data root.
func (a *Archive) Store(ctx context.Context, hash string, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := blob.ArchiveKey(hash)
	dst := a.path(hash)

	if _, err := os.Stat(dst); err == nil {
		// A concurrent writer won the race. Identical content, so drop
		// ours and report success.
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to discard duplicate upload: %w", err)
		}
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive shard: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", hash, err)
	}
	return key, nil
}

// Exists implements blob.Archive.
func (a *Archive) Exists(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(a.path(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// LinkInto implements blob.Archive with a symlink, so the mirror tree
// costs no extra disk.
func (a *Archive) LinkInto(ctx context.Context, hash string, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := filepath.Abs(a.path(hash))
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("cannot link unarchived content %s: %w", hash, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create link parent: %w", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("failed to link %s: %w", hash, err)
	}
	return nil
}
