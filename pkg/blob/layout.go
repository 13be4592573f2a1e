// Package blob handles the physical side of the store: the hash-addressed
// archive holding deduplicated content, and the per-user on-disk mirror
// that mirrors the virtual tree for direct serving.
package blob

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/clipvault/clipvault/pkg/vfs"
)

// Layout derives every physical path from a single data root. It is a
// plain value constructed once at startup and passed to whoever needs it,
// so path derivation is explicit and testable against any root.
//
// Directory structure under the root:
//
//	archive/  hash-addressed deduplicated content (fs archive only)
//	staging/  per-upload-task slice directories
//	mirror/   per-user replica of the virtual tree
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{root: dir}
}

// Root returns the data root directory.
func (l Layout) Root() string {
	return l.root
}

// ArchiveRoot returns the directory of the filesystem archive.
func (l Layout) ArchiveRoot() string {
	return filepath.Join(l.root, "archive")
}

// StagingRoot returns the directory holding upload staging areas.
func (l Layout) StagingRoot() string {
	return filepath.Join(l.root, "staging")
}

// MirrorRoot returns the mirror directory of one user's tree.
func (l Layout) MirrorRoot(owner vfs.OwnerID) string {
	return filepath.Join(l.root, "mirror", fmt.Sprintf("%d", owner))
}

// ArchiveKey shards a content hash into its archive-relative key:
// "ab/abcdef...". Two-level sharding keeps directory fan-out bounded.
func ArchiveKey(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2] + "/" + hash
}

// MirrorPath maps a virtual path onto the owner's mirror directory.
func (l Layout) MirrorPath(vp vfs.VirtualPath) string {
	rel := strings.TrimPrefix(vp.String(), "/")
	return filepath.Join(l.MirrorRoot(vp.Owner()), filepath.FromSlash(rel))
}
