package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// Mirror maintains the on-disk replica of each user's virtual tree:
// directories are real directories, files are links into the archive.
//
// Mirror operations are deliberately tolerant of missing sources. The
// catalog is the source of truth; when the disk and the catalog disagree
// (a crash between transaction commit and disk write), the mirror repairs
// itself on the next touch rather than failing user operations.
type Mirror struct {
	layout Layout
}

// NewMirror creates a Mirror deriving paths from layout.
func NewMirror(layout Layout) Mirror {
	return Mirror{layout: layout}
}

// Init creates the skeleton of a user's mirror: the source, encoded and
// deleted directories.
func (m Mirror) Init(owner vfs.OwnerID) error {
	for _, dir := range []string{vfs.SourceRoot, vfs.EncodedRoot, vfs.DeletedRoot} {
		p := filepath.Join(m.layout.MirrorRoot(owner), dir[1:])
		if err := os.MkdirAll(p, 0755); err != nil {
			return fmt.Errorf("failed to init mirror for user %d: %w", owner, err)
		}
	}
	return nil
}

// CreateDir materializes a virtual directory.
func (m Mirror) CreateDir(vp vfs.VirtualPath) error {
	if err := os.MkdirAll(m.layout.MirrorPath(vp), 0755); err != nil {
		return fmt.Errorf("failed to create mirror dir %s: %w", vp, err)
	}
	return nil
}

// Move relocates a file or subtree from old to new, creating the target's
// parent as needed. A missing source is logged and skipped.
func (m Mirror) Move(old, new vfs.VirtualPath) error {
	src := m.layout.MirrorPath(old)
	dst := m.layout.MirrorPath(new)

	if _, err := os.Lstat(src); errors.Is(err, os.ErrNotExist) {
		logger.Warn("mirror out of sync: %s missing on disk, skipping move", old)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create move target parent: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", old, new, err)
	}
	return nil
}

// CopyTree duplicates a subtree. Symlinks are copied as symlinks so file
// copies keep pointing into the archive instead of duplicating content.
// A missing source is logged and skipped.
func (m Mirror) CopyTree(src, dst vfs.VirtualPath) error {
	from := m.layout.MirrorPath(src)
	to := m.layout.MirrorPath(dst)

	if _, err := os.Lstat(from); errors.Is(err, os.ErrNotExist) {
		logger.Warn("mirror out of sync: %s missing on disk, skipping copy", src)
		return nil
	}
	if err := copyAll(from, to); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func copyAll(from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(from)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return err
		}
		if err := os.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return os.Symlink(target, to)

	case info.IsDir():
		if err := os.MkdirAll(to, 0755); err != nil {
			return err
		}
		entries, err := os.ReadDir(from)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			err := copyAll(filepath.Join(from, entry.Name()), filepath.Join(to, entry.Name()))
			if err != nil {
				return err
			}
		}
		return nil

	default:
		return copyFile(from, to)
	}
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}

// Remove deletes a file or subtree, tolerating an already-missing path.
func (m Mirror) Remove(vp vfs.VirtualPath) error {
	if err := os.RemoveAll(m.layout.MirrorPath(vp)); err != nil {
		return fmt.Errorf("failed to remove mirror path %s: %w", vp, err)
	}
	return nil
}

// Path exposes the physical location of a virtual path, for serving and
// for handing source paths to the transcode worker.
func (m Mirror) Path(vp vfs.VirtualPath) string {
	return m.layout.MirrorPath(vp)
}
