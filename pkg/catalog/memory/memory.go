// Package memory provides an in-memory catalog implementation.
//
// All rows live in process maps guarded by a single read-write mutex:
// Update transactions serialize behind the write lock, View transactions
// share the read lock. Writes are staged in a per-transaction overlay and
// only applied when the closure succeeds, so a failed Update leaves the
// store untouched.
//
// Suitable for tests and throwaway deployments; nothing survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

type pathKey struct {
	owner vfs.OwnerID
	path  string
}

// Store implements catalog.Catalog backed by process memory.
type Store struct {
	mu sync.RWMutex

	nodes     map[vfs.NodeID]catalog.NodeRow
	pathIndex map[pathKey]vfs.NodeID

	blobs     map[vfs.BlobID]catalog.BlobRow
	hashIndex map[string]vfs.BlobID

	uploads map[int64]catalog.UploadTaskRow

	orders    map[transcode.OrderID]*transcode.Order
	taskIndex map[transcode.TaskID]transcode.OrderID
}

// NewStore creates an empty in-memory catalog.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[vfs.NodeID]catalog.NodeRow),
		pathIndex: make(map[pathKey]vfs.NodeID),
		blobs:     make(map[vfs.BlobID]catalog.BlobRow),
		hashIndex: make(map[string]vfs.BlobID),
		uploads:   make(map[int64]catalog.UploadTaskRow),
		orders:    make(map[transcode.OrderID]*transcode.Order),
		taskIndex: make(map[transcode.TaskID]transcode.OrderID),
	}
}

// Update implements catalog.Catalog.
func (s *Store) Update(ctx context.Context, fn func(tx catalog.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s, true)
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// View implements catalog.Catalog.
func (s *Store) View(ctx context.Context, fn func(tx catalog.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(newTx(s, false))
}

// Close implements catalog.Catalog. It is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

// tx stages writes in overlay maps. Reads consult the overlay before the
// base store, so a transaction observes its own writes.
type tx struct {
	store    *Store
	writable bool

	nodes     map[vfs.NodeID]catalog.NodeRow
	pathAdd   map[pathKey]vfs.NodeID
	pathDrop  map[pathKey]bool
	blobs     map[vfs.BlobID]catalog.BlobRow
	hashAdd   map[string]vfs.BlobID
	uploads   map[int64]*catalog.UploadTaskRow // nil marks deletion
	orders    map[transcode.OrderID]*transcode.Order
	taskIndex map[transcode.TaskID]transcode.OrderID
}

func newTx(s *Store, writable bool) *tx {
	return &tx{
		store:     s,
		writable:  writable,
		nodes:     make(map[vfs.NodeID]catalog.NodeRow),
		pathAdd:   make(map[pathKey]vfs.NodeID),
		pathDrop:  make(map[pathKey]bool),
		blobs:     make(map[vfs.BlobID]catalog.BlobRow),
		hashAdd:   make(map[string]vfs.BlobID),
		uploads:   make(map[int64]*catalog.UploadTaskRow),
		orders:    make(map[transcode.OrderID]*transcode.Order),
		taskIndex: make(map[transcode.TaskID]transcode.OrderID),
	}
}

func (t *tx) apply() {
	s := t.store
	for id, row := range t.nodes {
		s.nodes[id] = row
	}
	for key := range t.pathDrop {
		delete(s.pathIndex, key)
	}
	for key, id := range t.pathAdd {
		s.pathIndex[key] = id
	}
	for id, row := range t.blobs {
		s.blobs[id] = row
	}
	for hash, id := range t.hashAdd {
		s.hashIndex[hash] = id
	}
	for id, row := range t.uploads {
		if row == nil {
			delete(s.uploads, id)
		} else {
			s.uploads[id] = *row
		}
	}
	for id, order := range t.orders {
		s.orders[id] = order
	}
	for taskID, orderID := range t.taskIndex {
		s.taskIndex[taskID] = orderID
	}
}

var errReadOnly = &catalog.StoreError{Code: catalog.ErrCodeIO, Message: "write inside a read-only transaction"}

// GetNode implements catalog.Tx.
func (t *tx) GetNode(id vfs.NodeID) (catalog.NodeRow, error) {
	if row, ok := t.nodes[id]; ok {
		return row, nil
	}
	if row, ok := t.store.nodes[id]; ok {
		return row, nil
	}
	return catalog.NodeRow{}, catalog.NotFound("node", fmt.Sprintf("%d", id))
}

// NodeByPath implements catalog.Tx.
func (t *tx) NodeByPath(owner vfs.OwnerID, path string) (catalog.NodeRow, error) {
	key := pathKey{owner: owner, path: path}
	if id, ok := t.pathAdd[key]; ok {
		return t.GetNode(id)
	}
	if t.pathDrop[key] {
		return catalog.NodeRow{}, catalog.NotFound("node", path)
	}
	if id, ok := t.store.pathIndex[key]; ok {
		return t.GetNode(id)
	}
	return catalog.NodeRow{}, catalog.NotFound("node", path)
}

// eachNode visits every node row visible to the transaction.
func (t *tx) eachNode(fn func(catalog.NodeRow)) {
	for id, row := range t.store.nodes {
		if _, overridden := t.nodes[id]; overridden {
			continue
		}
		fn(row)
	}
	for _, row := range t.nodes {
		fn(row)
	}
}

// ListChildren implements catalog.Tx.
func (t *tx) ListChildren(owner vfs.OwnerID, parentID vfs.NodeID) ([]catalog.NodeRow, error) {
	var out []catalog.NodeRow
	t.eachNode(func(row catalog.NodeRow) {
		if row.Owner == owner && !row.Deleted && row.ParentID != nil && *row.ParentID == parentID {
			out = append(out, row)
		}
	})
	return out, nil
}

// ListSubtree implements catalog.Tx.
func (t *tx) ListSubtree(owner vfs.OwnerID, rootPath string) ([]catalog.NodeRow, error) {
	prefix := rootPath + "/"
	var out []catalog.NodeRow
	t.eachNode(func(row catalog.NodeRow) {
		if row.Owner != owner {
			return
		}
		if row.Path == rootPath || strings.HasPrefix(row.Path, prefix) {
			out = append(out, row)
		}
	})
	return out, nil
}

// PutNode implements catalog.Tx.
func (t *tx) PutNode(row catalog.NodeRow) error {
	if !t.writable {
		return errReadOnly
	}
	if old, err := t.GetNode(row.ID); err == nil && old.Path != row.Path {
		t.pathDrop[pathKey{owner: old.Owner, path: old.Path}] = true
	}
	t.nodes[row.ID] = row
	key := pathKey{owner: row.Owner, path: row.Path}
	t.pathAdd[key] = row.ID
	delete(t.pathDrop, key)
	return nil
}

// PutNodes implements catalog.Tx.
func (t *tx) PutNodes(rows []catalog.NodeRow) error {
	for _, row := range rows {
		if err := t.PutNode(row); err != nil {
			return err
		}
	}
	return nil
}

// GetBlob implements catalog.Tx.
func (t *tx) GetBlob(id vfs.BlobID) (catalog.BlobRow, error) {
	if row, ok := t.blobs[id]; ok {
		return row, nil
	}
	if row, ok := t.store.blobs[id]; ok {
		return row, nil
	}
	return catalog.BlobRow{}, catalog.NotFound("blob", fmt.Sprintf("%d", id))
}

// BlobByHash implements catalog.Tx.
func (t *tx) BlobByHash(hash string) (catalog.BlobRow, error) {
	if id, ok := t.hashAdd[hash]; ok {
		return t.GetBlob(id)
	}
	if id, ok := t.store.hashIndex[hash]; ok {
		return t.GetBlob(id)
	}
	return catalog.BlobRow{}, catalog.NotFound("blob", hash)
}

// InsertBlob implements catalog.Tx.
func (t *tx) InsertBlob(row catalog.BlobRow) (catalog.BlobRow, error) {
	if !t.writable {
		return catalog.BlobRow{}, errReadOnly
	}
	if existing, err := t.BlobByHash(row.Hash); err == nil {
		return existing, nil
	}
	t.blobs[row.ID] = row
	t.hashAdd[row.Hash] = row.ID
	return row, nil
}

// GetUploadTask implements catalog.Tx.
func (t *tx) GetUploadTask(id int64) (catalog.UploadTaskRow, error) {
	if row, ok := t.uploads[id]; ok {
		if row == nil {
			return catalog.UploadTaskRow{}, catalog.NotFound("upload task", fmt.Sprintf("%d", id))
		}
		return cloneUpload(*row), nil
	}
	if row, ok := t.store.uploads[id]; ok {
		return cloneUpload(row), nil
	}
	return catalog.UploadTaskRow{}, catalog.NotFound("upload task", fmt.Sprintf("%d", id))
}

// cloneUpload detaches the slice set so callers mutating a fetched row
// (AddSlice shifts elements in place) can never reach the stored array.
func cloneUpload(row catalog.UploadTaskRow) catalog.UploadTaskRow {
	row.Slices = append([]uint32(nil), row.Slices...)
	return row
}

// PutUploadTask implements catalog.Tx.
func (t *tx) PutUploadTask(row catalog.UploadTaskRow) error {
	if !t.writable {
		return errReadOnly
	}
	copied := row
	copied.Slices = append([]uint32(nil), row.Slices...)
	t.uploads[row.ID] = &copied
	return nil
}

// ListUploadTasks implements catalog.Tx.
func (t *tx) ListUploadTasks(owner vfs.OwnerID) ([]catalog.UploadTaskRow, error) {
	var out []catalog.UploadTaskRow
	for id, row := range t.store.uploads {
		if _, overridden := t.uploads[id]; overridden {
			continue
		}
		if row.Owner == owner {
			out = append(out, cloneUpload(row))
		}
	}
	for _, row := range t.uploads {
		if row != nil && row.Owner == owner {
			out = append(out, cloneUpload(*row))
		}
	}
	return out, nil
}

// DeleteUploadTasks implements catalog.Tx.
func (t *tx) DeleteUploadTasks(owner vfs.OwnerID, ids []int64) error {
	if !t.writable {
		return errReadOnly
	}
	for _, id := range ids {
		row, err := t.GetUploadTask(id)
		if err != nil || row.Owner != owner {
			continue
		}
		t.uploads[id] = nil
	}
	return nil
}

// GetOrder implements catalog.Tx.
func (t *tx) GetOrder(id transcode.OrderID) (*transcode.Order, error) {
	if order, ok := t.orders[id]; ok {
		return cloneOrder(order), nil
	}
	if order, ok := t.store.orders[id]; ok {
		return cloneOrder(order), nil
	}
	return nil, catalog.NotFound("order", fmt.Sprintf("%d", id))
}

// PutOrder implements catalog.Tx.
func (t *tx) PutOrder(order *transcode.Order) error {
	if !t.writable {
		return errReadOnly
	}
	copied := cloneOrder(order)
	t.orders[copied.ID] = copied
	for _, task := range copied.Tasks {
		t.taskIndex[task.ID] = copied.ID
	}
	return nil
}

// OrderByTask implements catalog.Tx.
func (t *tx) OrderByTask(id transcode.TaskID) (*transcode.Order, error) {
	if orderID, ok := t.taskIndex[id]; ok {
		return t.GetOrder(orderID)
	}
	if orderID, ok := t.store.taskIndex[id]; ok {
		return t.GetOrder(orderID)
	}
	return nil, catalog.NotFound("task", fmt.Sprintf("%d", id))
}

// cloneOrder deep-copies an order so the store never aliases caller
// memory.
func cloneOrder(o *transcode.Order) *transcode.Order {
	copied := *o
	copied.Tasks = append([]transcode.Task(nil), o.Tasks...)
	for i := range copied.Tasks {
		if opts := copied.Tasks[i].Params.Options; opts != nil {
			cloned := make(map[string]string, len(opts))
			for k, v := range opts {
				cloned[k] = v
			}
			copied.Tasks[i].Params.Options = cloned
		}
	}
	return &copied
}
