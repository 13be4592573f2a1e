// Package vfs implements the per-user virtual namespace: sandboxed path
// values and the file tree they address.
//
// Every user owns a tree with three fixed top-level directories. "/source"
// holds uploaded originals, "/encoded" holds transcode output mirroring the
// source layout, and "/deleted" is the soft-delete area that users cannot
// address directly. Paths are value objects validated at construction, so
// code holding a VirtualPath never has to re-check sandbox rules.
package vfs

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// OwnerID identifies the user owning a path or node.
type OwnerID int64

// Top-level directories of every user tree.
const (
	SourceRoot  = "/source"
	EncodedRoot = "/encoded"
	DeletedRoot = "/deleted"
)

// maxNameLen is the longest accepted path segment, in bytes.
const maxNameLen = 255

// VirtualPath is a validated, owner-scoped absolute path inside the user
// sandbox. The zero value is invalid; construct through Build, Root,
// SourceDir, EncodedDir or the derivation methods.
type VirtualPath struct {
	owner OwnerID
	path  string
}

// Root returns the user's tree root "/".
func Root(owner OwnerID) VirtualPath {
	return VirtualPath{owner: owner, path: "/"}
}

// SourceDir returns the user's "/source" directory.
func SourceDir(owner OwnerID) VirtualPath {
	return VirtualPath{owner: owner, path: SourceRoot}
}

// EncodedDir returns the user's "/encoded" directory.
func EncodedDir(owner OwnerID) VirtualPath {
	return VirtualPath{owner: owner, path: EncodedRoot}
}

// Build validates a caller-supplied path and returns it as a VirtualPath.
//
// The path must be absolute, must stay strictly inside "/source" or
// "/encoded" after normalization, and every segment must be shorter than
// 255 bytes. Backslashes are treated as separators so Windows-style input
// cannot smuggle separators into a name.
func Build(owner OwnerID, raw string) (VirtualPath, error) {
	normalized := strings.ReplaceAll(raw, "\\", "/")
	if !strings.HasPrefix(normalized, "/") {
		return VirtualPath{}, opErr(ErrMustBeAbsolute, "path must be absolute", raw)
	}

	cleaned := path.Clean(normalized)
	if isFixedPath(cleaned) {
		return VirtualPath{}, opErr(ErrNotAllowed, "path is reserved", cleaned)
	}
	if !underMutableRoot(cleaned) {
		return VirtualPath{}, opErr(ErrNotAllowed, "path escapes the user namespace", cleaned)
	}
	for _, segment := range strings.Split(strings.TrimPrefix(cleaned, "/"), "/") {
		if len(segment) >= maxNameLen {
			return VirtualPath{}, opErr(ErrTooLong, "path segment too long", cleaned)
		}
	}

	return VirtualPath{owner: owner, path: cleaned}, nil
}

// isFixedPath reports whether p is one of the structurally immutable paths.
func isFixedPath(p string) bool {
	switch p {
	case "/", SourceRoot, EncodedRoot, DeletedRoot:
		return true
	}
	return false
}

// underMutableRoot reports whether p is a strict descendant of "/source"
// or "/encoded".
func underMutableRoot(p string) bool {
	return strings.HasPrefix(p, SourceRoot+"/") || strings.HasPrefix(p, EncodedRoot+"/")
}

// StoredPath rebuilds a VirtualPath from a previously validated string
// loaded from the catalog. It performs no validation and must never be
// handed user input; use Build for that.
func StoredPath(owner OwnerID, p string) VirtualPath {
	return VirtualPath{owner: owner, path: p}
}

// Owner returns the id of the user owning this path.
func (vp VirtualPath) Owner() OwnerID {
	return vp.owner
}

// String returns the slash-separated absolute path.
func (vp VirtualPath) String() string {
	return vp.path
}

// IsZero reports whether vp is the invalid zero value.
func (vp VirtualPath) IsZero() bool {
	return vp.path == ""
}

// IsRoot reports whether vp is the tree root "/".
func (vp VirtualPath) IsRoot() bool {
	return vp.path == "/"
}

// IsFixed reports whether vp is one of the immutable paths
// ("/", "/source", "/encoded", "/deleted").
func (vp VirtualPath) IsFixed() bool {
	return isFixedPath(vp.path)
}

// IsDeleted reports whether vp lives under the soft-delete area.
func (vp VirtualPath) IsDeleted() bool {
	return vp.path == DeletedRoot || strings.HasPrefix(vp.path, DeletedRoot+"/")
}

// AllowModified reports whether the node at vp may be renamed, moved,
// copied over or deleted. Fixed paths never are.
func (vp VirtualPath) AllowModified() bool {
	return !vp.IsFixed()
}

// allowAddChild reports whether children may be created under vp.
// Only "/source", "/encoded" and their descendants accept children; the
// tree root and the delete area do not.
func (vp VirtualPath) allowAddChild() bool {
	return vp.path == SourceRoot || vp.path == EncodedRoot || underMutableRoot(vp.path)
}

// FileName returns the last path segment, or "/" for the root.
func (vp VirtualPath) FileName() string {
	if vp.IsRoot() {
		return "/"
	}
	return path.Base(vp.path)
}

// Parent returns the path of the containing directory and false when vp is
// the root and has no parent.
func (vp VirtualPath) Parent() (VirtualPath, bool) {
	if vp.IsRoot() || vp.IsZero() {
		return VirtualPath{}, false
	}
	return VirtualPath{owner: vp.owner, path: path.Dir(vp.path)}, true
}

// JoinChild appends a single validated segment to vp.
//
// The name must be a plain segment (no separators, not "." or ".." and not
// empty) and vp must sit inside a mutable subtree. Returns BadFileName,
// NotAllowed or TooLong accordingly.
func (vp VirtualPath) JoinChild(name string) (VirtualPath, error) {
	if name == "" || name == "." {
		return VirtualPath{}, opErr(ErrBadFileName, "empty file name", vp.path)
	}
	if strings.ContainsAny(name, "/\\") {
		return VirtualPath{}, opErr(ErrBadFileName, "file name contains a separator", name)
	}
	if name == ".." {
		return VirtualPath{}, opErr(ErrNotAllowed, "file name escapes the directory", vp.path)
	}
	if len(name) >= maxNameLen {
		return VirtualPath{}, opErr(ErrTooLong, "file name too long", name)
	}
	if !vp.allowAddChild() {
		return VirtualPath{}, opErr(ErrNotAllowed, "directory does not accept children", vp.path)
	}
	return vp.joinRaw(name), nil
}

// joinRaw appends a segment without validation. Internal use only, for
// rebasing already-validated subtrees (delete relocation, move, copy).
func (vp VirtualPath) joinRaw(name string) VirtualPath {
	if vp.IsRoot() {
		return VirtualPath{owner: vp.owner, path: "/" + name}
	}
	return VirtualPath{owner: vp.owner, path: vp.path + "/" + name}
}

// ToDeleted relocates vp under the soft-delete area:
//
//	/source/a/b.mp4 -> /deleted/<token>/source/a/b.mp4
//
// The caller supplies the uniqueness token (typically the node id) so that
// deleting "/source/a.mp4", re-creating it and deleting it again never
// collides inside "/deleted". Fixed paths cannot be deleted.
func (vp VirtualPath) ToDeleted(token int64) (VirtualPath, error) {
	if !vp.AllowModified() {
		return VirtualPath{}, opErr(ErrNotAllowed, "path cannot be deleted", vp.path)
	}
	if vp.IsDeleted() {
		return VirtualPath{}, opErr(ErrAlreadyDeleted, "path is already in the delete area", vp.path)
	}
	deleted := fmt.Sprintf("%s/%d%s", DeletedRoot, token, vp.path)
	return VirtualPath{owner: vp.owner, path: deleted}, nil
}

// counterSuffix matches a trailing "(<digits>)" counter on a file stem.
// Negative numbers intentionally do not match.
var counterSuffix = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// IncreaseFileName returns vp with the next collision-avoidance counter
// appended to (or incremented on) the file stem. The extension is never
// touched:
//
//	a          -> a(1)      -> a(2)
//	a(1)(999).mp4 -> a(1)(1000).mp4
//	a(-1).mp4  -> a(-1)(1).mp4
func (vp VirtualPath) IncreaseFileName() VirtualPath {
	stem, ext := splitName(vp.FileName())

	next := stem + "(1)"
	if m := counterSuffix.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.ParseUint(m[2], 10, 63); err == nil {
			next = fmt.Sprintf("%s(%d)", m[1], n+1)
		}
	}
	if ext != "" {
		next += "." + ext
	}

	parent, _ := vp.Parent()
	return parent.joinRaw(next)
}

// WithFileName returns vp's sibling carrying the given name. The name is
// validated like JoinChild.
func (vp VirtualPath) WithFileName(name string) (VirtualPath, error) {
	parent, ok := vp.Parent()
	if !ok {
		return VirtualPath{}, opErr(ErrNoParent, "root has no parent", vp.path)
	}
	return parent.JoinChild(name)
}

// MirrorPath returns the same path under the sibling top-level root, so a
// source file maps to where its encoded counterpart lives and vice versa.
// Returns false for paths in the delete area.
func (vp VirtualPath) MirrorPath() (VirtualPath, bool) {
	switch {
	case strings.HasPrefix(vp.path, SourceRoot+"/"), vp.path == SourceRoot:
		return VirtualPath{owner: vp.owner, path: EncodedRoot + strings.TrimPrefix(vp.path, SourceRoot)}, true
	case strings.HasPrefix(vp.path, EncodedRoot+"/"), vp.path == EncodedRoot:
		return VirtualPath{owner: vp.owner, path: SourceRoot + strings.TrimPrefix(vp.path, EncodedRoot)}, true
	}
	return VirtualPath{}, false
}

// splitName splits a file name into stem and extension. A leading dot is
// part of the stem, so ".config" has no extension.
func splitName(name string) (stem, ext string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
