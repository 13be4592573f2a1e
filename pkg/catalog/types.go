package catalog

import (
	"sort"
	"time"

	"github.com/clipvault/clipvault/pkg/vfs"
)

// NodeRow is the persisted form of a vfs.Node. Children are not embedded;
// the tree is reassembled from parent ids when loading.
type NodeRow struct {
	ID        vfs.NodeID  `json:"id"`
	ParentID  *vfs.NodeID `json:"parent_id,omitempty"`
	Owner     vfs.OwnerID `json:"owner"`
	Path      string      `json:"path"`
	Deleted   bool        `json:"deleted"`
	Dir       bool        `json:"dir"`
	ContentID *vfs.BlobID `json:"content_id,omitempty"`
}

// RowFromNode flattens a single node into its persisted form.
func RowFromNode(n *vfs.Node) NodeRow {
	row := NodeRow{
		ID:      n.ID,
		Owner:   n.Owner,
		Path:    n.Path.String(),
		Deleted: n.Deleted,
		Dir:     n.IsDir(),
	}
	if n.ParentID != nil {
		id := *n.ParentID
		row.ParentID = &id
	}
	switch {
	case n.Content != nil:
		id := n.Content.ID
		row.ContentID = &id
	case n.Kind == vfs.KindLazyFile:
		id := n.ContentID
		row.ContentID = &id
	}
	return row
}

// RowsFromSubtree flattens a whole subtree, preorder.
func RowsFromSubtree(n *vfs.Node) []NodeRow {
	var rows []NodeRow
	n.Walk(func(node *vfs.Node) {
		rows = append(rows, RowFromNode(node))
	})
	return rows
}

// NodeFromRow rebuilds a detached node. When the blob row is supplied the
// node is a fully resolved file; file rows without their blob come back as
// lazy files carrying only the content id.
func NodeFromRow(row NodeRow, blob *BlobRow) *vfs.Node {
	n := &vfs.Node{
		ID:      row.ID,
		Owner:   row.Owner,
		Path:    vfs.StoredPath(row.Owner, row.Path),
		Deleted: row.Deleted,
	}
	if row.ParentID != nil {
		id := *row.ParentID
		n.ParentID = &id
	}
	switch {
	case row.Dir:
		n.Kind = vfs.KindDirectory
	case blob != nil:
		n.Kind = vfs.KindFile
		n.Content = &vfs.BlobRef{
			ID:           blob.ID,
			Hash:         blob.Hash,
			Size:         blob.Size,
			ArchivedPath: blob.ArchivedPath,
		}
	default:
		n.Kind = vfs.KindLazyFile
		if row.ContentID != nil {
			n.ContentID = *row.ContentID
		}
	}
	return n
}

// AssembleTree links a set of rows into a tree and returns its root: the
// one row whose parent is not part of the set. Rows are attached in path
// order so sibling ordering is deterministic. File rows pick up their blob
// from blobs when present and come back lazy otherwise.
func AssembleTree(rows []NodeRow, blobs map[vfs.BlobID]BlobRow) (*vfs.Node, error) {
	if len(rows) == 0 {
		return nil, NotFound("tree", "")
	}

	sorted := make([]NodeRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	nodes := make(map[vfs.NodeID]*vfs.Node, len(sorted))
	for _, row := range sorted {
		var blob *BlobRow
		if row.ContentID != nil {
			if b, ok := blobs[*row.ContentID]; ok {
				blob = &b
			}
		}
		nodes[row.ID] = NodeFromRow(row, blob)
	}

	var root *vfs.Node
	for _, row := range sorted {
		n := nodes[row.ID]
		if row.ParentID != nil {
			if parent, ok := nodes[*row.ParentID]; ok {
				parent.AttachChild(n)
				continue
			}
		}
		if root != nil {
			return nil, &StoreError{Code: ErrCodeIO, Message: "tree has multiple roots", Key: row.Path}
		}
		root = n
	}
	if root == nil {
		return nil, &StoreError{Code: ErrCodeIO, Message: "tree has no root"}
	}
	return root, nil
}

// BlobRow is a content blob record. Hash is globally unique; InsertBlob
// enforces it.
type BlobRow struct {
	ID           vfs.BlobID `json:"id"`
	Hash         string     `json:"hash"`
	Size         uint64     `json:"size"`
	ArchivedPath string     `json:"archived_path"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Ref converts the row to the in-tree reference form.
func (b BlobRow) Ref() vfs.BlobRef {
	return vfs.BlobRef{ID: b.ID, Hash: b.Hash, Size: b.Size, ArchivedPath: b.ArchivedPath}
}

// UploadState is the lifecycle state of an upload task.
type UploadState int

const (
	// UploadPending tasks accept slices and can be finalized.
	UploadPending UploadState = iota
	// UploadCompleted tasks are done; FileID points at the created node.
	UploadCompleted
)

// UploadTaskRow tracks one chunked upload from registration to the
// created file node.
type UploadTaskRow struct {
	ID          int64       `json:"id"`
	Owner       vfs.OwnerID `json:"owner"`
	Hash        string      `json:"hash"`
	ParentDirID vfs.NodeID  `json:"parent_dir_id"`
	FileName    string      `json:"file_name"`

	// Slices holds the indexes stored so far, ascending and unique.
	// The set only grows; re-sending a slice never removes indexes.
	Slices []uint32 `json:"slices"`

	State     UploadState `json:"state"`
	FileID    *vfs.NodeID `json:"file_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AddSlice records a stored slice index, keeping the set sorted and
// duplicate-free. Returns false when the index was already present.
func (u *UploadTaskRow) AddSlice(index uint32) bool {
	pos := sort.Search(len(u.Slices), func(i int) bool { return u.Slices[i] >= index })
	if pos < len(u.Slices) && u.Slices[pos] == index {
		return false
	}
	u.Slices = append(u.Slices, 0)
	copy(u.Slices[pos+1:], u.Slices[pos:])
	u.Slices[pos] = index
	return true
}

// Complete marks the task finished with the node it produced.
func (u *UploadTaskRow) Complete(fileID vfs.NodeID) {
	id := fileID
	u.State = UploadCompleted
	u.FileID = &id
}
