package vfs

import "github.com/clipvault/clipvault/internal/flake"

// NodeID identifies a tree node.
type NodeID int64

// BlobID identifies a content blob in the catalog.
type BlobID int64

// BlobRef is a file node's reference to deduplicated stored content.
type BlobRef struct {
	ID           BlobID
	Hash         string
	Size         uint64
	ArchivedPath string
}

// Kind discriminates the node union.
type Kind int

const (
	// KindDirectory nodes carry children.
	KindDirectory Kind = iota
	// KindFile nodes carry a fully resolved content reference.
	KindFile
	// KindLazyFile nodes carry only the content id; the blob row has not
	// been joined in. Used when listing large directories.
	KindLazyFile
)

// ids mints node ids for constructors and clones. Ids are allocated in
// memory so whole subtrees can be built before anything is persisted.
var ids = flake.New()

// NewNodeID returns a fresh unique node id.
func NewNodeID() NodeID {
	return NodeID(ids.NextID())
}

// Node is one vertex of a user's virtual tree. Structural operations keep
// the invariant that every node's Path equals its parent's Path plus its
// own name, rewriting whole subtrees eagerly on move, rename and delete.
//
// Node is not safe for concurrent use; callers serialize access through
// catalog transactions.
type Node struct {
	ID       NodeID
	ParentID *NodeID
	Owner    OwnerID
	Path     VirtualPath
	Deleted  bool
	Kind     Kind

	// Children is populated for KindDirectory nodes.
	Children []*Node

	// Content is set for KindFile nodes.
	Content *BlobRef

	// ContentID is set for KindLazyFile nodes.
	ContentID BlobID

	parent *Node
}

// UserHome builds a fresh tree skeleton for a new user: the root plus the
// fixed "/source" and "/encoded" directories.
func UserHome(owner OwnerID) *Node {
	root := &Node{
		ID:    NewNodeID(),
		Owner: owner,
		Path:  Root(owner),
		Kind:  KindDirectory,
	}
	for _, p := range []VirtualPath{SourceDir(owner), EncodedDir(owner)} {
		child := &Node{
			ID:    NewNodeID(),
			Owner: owner,
			Path:  p,
			Kind:  KindDirectory,
		}
		root.AttachChild(child)
	}
	return root
}

// IsDir reports whether n is a directory.
func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// FileName returns the node's name inside its parent.
func (n *Node) FileName() string {
	return n.Path.FileName()
}

// Parent returns the in-memory parent link, nil for roots and detached
// subtrees.
func (n *Node) Parent() *Node {
	return n.parent
}

// AttachChild links an already-built child into n without any validation
// or path rewriting. It is the hydration hook for catalog loaders that
// reassemble trees from persisted rows; domain code goes through CreateDir,
// CreateFile and MoveTo instead.
func (n *Node) AttachChild(child *Node) {
	id := n.ID
	child.ParentID = &id
	child.parent = n
	n.Children = append(n.Children, child)
}

// detachChild removes child from n's children, leaving child's ParentID
// untouched.
func (n *Node) detachChild(child *Node) {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// FindChild returns the live child with the given name, or nil.
func (n *Node) FindChild(name string) *Node {
	for _, c := range n.Children {
		if !c.Deleted && c.FileName() == name {
			return c
		}
	}
	return nil
}

// Walk visits n and every descendant in preorder.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// AllNodes returns n and every descendant, preorder.
func (n *Node) AllNodes() []*Node {
	var out []*Node
	n.Walk(func(node *Node) { out = append(out, node) })
	return out
}

// CreateDir creates a directory child. The name is validated like
// JoinChild; a colliding sibling name gets the "(n)" counter appended
// until a free slot is found, so creation never fails from a collision
// alone.
func (n *Node) CreateDir(name string) (*Node, error) {
	p, err := n.childPath(name)
	if err != nil {
		return nil, err
	}
	child := &Node{
		ID:    NewNodeID(),
		Owner: n.Owner,
		Path:  p,
		Kind:  KindDirectory,
	}
	n.AttachChild(child)
	return child, nil
}

// CreateFile creates a file child referencing stored content, with the
// same collision-avoiding naming as CreateDir.
func (n *Node) CreateFile(name string, content BlobRef) (*Node, error) {
	p, err := n.childPath(name)
	if err != nil {
		return nil, err
	}
	ref := content
	child := &Node{
		ID:      NewNodeID(),
		Owner:   n.Owner,
		Path:    p,
		Kind:    KindFile,
		Content: &ref,
	}
	n.AttachChild(child)
	return child, nil
}

// childPath validates name against n and walks the counter until the
// resulting path is free among live children.
func (n *Node) childPath(name string) (VirtualPath, error) {
	if !n.IsDir() {
		return VirtualPath{}, opErr(ErrParentNotDir, "parent is not a directory", n.Path.String())
	}
	p, err := n.Path.JoinChild(name)
	if err != nil {
		return VirtualPath{}, err
	}
	for n.hasLivePath(p) {
		p = p.IncreaseFileName()
	}
	return p, nil
}

func (n *Node) hasLivePath(p VirtualPath) bool {
	for _, c := range n.Children {
		if !c.Deleted && c.Path.String() == p.String() {
			return true
		}
	}
	return false
}

// MoveTo reparents n under newParent, rewriting every descendant path.
//
// Fails with ParentNotDir when newParent is a file, Recursived when
// newParent sits inside n's own subtree, AlreadyExist when newParent has a
// live child with n's name, and NotAllowed when n is a fixed directory or
// newParent does not accept children.
func (n *Node) MoveTo(newParent *Node) error {
	if !n.Path.AllowModified() {
		return opErr(ErrNotAllowed, "node cannot be moved", n.Path.String())
	}
	if !newParent.IsDir() {
		return opErr(ErrParentNotDir, "target parent is not a directory", newParent.Path.String())
	}
	if n.isAncestorOf(newParent) || n == newParent {
		return opErr(ErrRecursived, "cannot move a directory into its own subtree", n.Path.String())
	}
	target, err := newParent.Path.JoinChild(n.FileName())
	if err != nil {
		return err
	}
	if newParent.hasLivePath(target) {
		return opErr(ErrAlreadyExist, "target name already exists", target.String())
	}

	if n.parent != nil {
		n.parent.detachChild(n)
	}
	newParent.AttachChild(n)
	n.rebase(target)
	return nil
}

// isAncestorOf walks up from other looking for n. When other was loaded
// without its ancestor chain, the check falls back to scanning n's own
// subtree for other's id; paths are kept eagerly consistent, so both views
// agree.
func (n *Node) isAncestorOf(other *Node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n || p.ID == n.ID {
			return true
		}
	}
	found := false
	n.Walk(func(node *Node) {
		if node != n && node.ID == other.ID {
			found = true
		}
	})
	return found
}

// CopyTo deep-clones n's subtree under newParent and returns the clone.
// Clones get fresh node ids; file clones share the original's content
// reference, so copies cost no storage.
func (n *Node) CopyTo(newParent *Node) (*Node, error) {
	if !n.Path.AllowModified() {
		return nil, opErr(ErrNotAllowed, "node cannot be copied", n.Path.String())
	}
	clone := n.clone()
	if err := clone.MoveTo(newParent); err != nil {
		return nil, err
	}
	return clone, nil
}

// clone copies the subtree with fresh ids and detached parentage. Paths are
// carried over verbatim; the follow-up MoveTo rebases them.
func (n *Node) clone() *Node {
	c := &Node{
		ID:        NewNodeID(),
		Owner:     n.Owner,
		Path:      n.Path,
		Deleted:   n.Deleted,
		Kind:      n.Kind,
		ContentID: n.ContentID,
	}
	if n.Content != nil {
		ref := *n.Content
		c.Content = &ref
	}
	for _, child := range n.Children {
		c.AttachChild(child.clone())
	}
	return c
}

// RenameChild renames a direct child of n, rewriting the child's whole
// subtree. Unlike creation, renaming onto a taken name fails with
// AlreadyExist instead of appending a counter.
func (n *Node) RenameChild(child *Node, newName string) error {
	if child.parent != n {
		return opErr(ErrNotFound, "node is not a child of this directory", child.Path.String())
	}
	if !child.Path.AllowModified() {
		return opErr(ErrNotAllowed, "node cannot be renamed", child.Path.String())
	}
	target, err := n.Path.JoinChild(newName)
	if err != nil {
		return err
	}
	if target.String() == child.Path.String() {
		return nil
	}
	if n.hasLivePath(target) {
		return opErr(ErrAlreadyExist, "target name already exists", target.String())
	}
	child.rebase(target)
	return nil
}

// Delete soft-deletes n's subtree: every node is marked deleted and its
// path relocated under "/deleted/<node-id>/...", freeing the original name
// for reuse. The node is detached from its parent; its rows stay in the
// catalog. Returns AlreadyDeleted when n is already in the delete area.
func (n *Node) Delete() error {
	if n.Deleted {
		return opErr(ErrAlreadyDeleted, "node is already deleted", n.Path.String())
	}
	deletedPath, err := n.Path.ToDeleted(int64(n.ID))
	if err != nil {
		return err
	}
	if n.parent != nil {
		n.parent.detachChild(n)
	}
	n.Walk(func(node *Node) { node.Deleted = true })
	n.rebase(deletedPath)
	return nil
}

// rebase sets n's path and rewrites every descendant to match, keeping the
// path/parent invariant.
func (n *Node) rebase(p VirtualPath) {
	n.Path = p
	for _, c := range n.Children {
		c.rebase(p.joinRaw(c.FileName()))
	}
}
