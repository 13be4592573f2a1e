package badger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// storeTx adapts one badger transaction to catalog.Tx.
type storeTx struct {
	txn *badger.Txn
}

// getJSON reads and unmarshals a single key. Missing keys surface as a
// typed not-found error built from what/key.
func (t *storeTx) getJSON(key []byte, what, id string, out any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return catalog.NotFound(what, id)
	}
	if err != nil {
		return &catalog.StoreError{Code: catalog.ErrCodeIO, Message: fmt.Sprintf("failed to read %s: %v", what, err), Key: id}
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (t *storeTx) setJSON(key []byte, what string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &catalog.StoreError{Code: catalog.ErrCodeIO, Message: fmt.Sprintf("failed to encode %s: %v", what, err)}
	}
	return t.txn.Set(key, data)
}

// getIndexedID resolves an index entry to the id it points at.
func (t *storeTx) getIndexedID(key []byte, what, id string) (int64, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, catalog.NotFound(what, id)
	}
	if err != nil {
		return 0, &catalog.StoreError{Code: catalog.ErrCodeIO, Message: fmt.Sprintf("failed to read %s index: %v", what, err), Key: id}
	}
	var decoded int64
	err = item.Value(func(val []byte) error {
		var derr error
		decoded, derr = decodeID(val)
		return derr
	})
	return decoded, err
}

// GetNode implements catalog.Tx.
//
// Node keys embed the owner, which GetNode doesn't receive, so this scans
// the node namespace. The suffix filter rules out almost every key without
// deserializing; the id check on the decoded row is authoritative.
func (t *storeTx) GetNode(id vfs.NodeID) (catalog.NodeRow, error) {
	var row catalog.NodeRow
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte("n:")
	it := t.txn.NewIterator(opts)
	defer it.Close()

	suffix := []byte(fmt.Sprintf(":%d", id))
	for it.Rewind(); it.Valid(); it.Next() {
		if !bytes.HasSuffix(it.Item().Key(), suffix) {
			continue
		}
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
		if err != nil {
			return catalog.NodeRow{}, err
		}
		if row.ID == id {
			return row, nil
		}
	}
	return catalog.NodeRow{}, catalog.NotFound("node", fmt.Sprintf("%d", id))
}

// GetOwnedNode is the O(1) lookup used when the owner is known.
func (t *storeTx) GetOwnedNode(owner vfs.OwnerID, id vfs.NodeID) (catalog.NodeRow, error) {
	var row catalog.NodeRow
	if err := t.getJSON(keyNode(owner, id), "node", fmt.Sprintf("%d", id), &row); err != nil {
		return catalog.NodeRow{}, err
	}
	return row, nil
}

// NodeByPath implements catalog.Tx.
func (t *storeTx) NodeByPath(owner vfs.OwnerID, path string) (catalog.NodeRow, error) {
	id, err := t.getIndexedID(keyNodePath(owner, path), "node", path)
	if err != nil {
		return catalog.NodeRow{}, err
	}
	return t.GetOwnedNode(owner, vfs.NodeID(id))
}

// eachNode scans every node row of one owner.
func (t *storeTx) eachNode(owner vfs.OwnerID, fn func(catalog.NodeRow)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyNodePrefix(owner)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var row catalog.NodeRow
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
		if err != nil {
			return err
		}
		fn(row)
	}
	return nil
}

// ListChildren implements catalog.Tx.
func (t *storeTx) ListChildren(owner vfs.OwnerID, parentID vfs.NodeID) ([]catalog.NodeRow, error) {
	var out []catalog.NodeRow
	err := t.eachNode(owner, func(row catalog.NodeRow) {
		if !row.Deleted && row.ParentID != nil && *row.ParentID == parentID {
			out = append(out, row)
		}
	})
	return out, err
}

// ListSubtree implements catalog.Tx.
func (t *storeTx) ListSubtree(owner vfs.OwnerID, rootPath string) ([]catalog.NodeRow, error) {
	prefix := rootPath + "/"
	var out []catalog.NodeRow
	err := t.eachNode(owner, func(row catalog.NodeRow) {
		if row.Path == rootPath || strings.HasPrefix(row.Path, prefix) {
			out = append(out, row)
		}
	})
	return out, err
}

// PutNode implements catalog.Tx. When the node moved, the index entry for
// its previous path is dropped so stale paths stop resolving.
func (t *storeTx) PutNode(row catalog.NodeRow) error {
	if old, err := t.GetOwnedNode(row.Owner, row.ID); err == nil && old.Path != row.Path {
		if err := t.txn.Delete(keyNodePath(old.Owner, old.Path)); err != nil {
			return err
		}
	} else if err != nil && !catalog.IsNotFound(err) {
		return err
	}

	if err := t.setJSON(keyNode(row.Owner, row.ID), "node", row); err != nil {
		return err
	}
	return t.txn.Set(keyNodePath(row.Owner, row.Path), encodeID(int64(row.ID)))
}

// PutNodes implements catalog.Tx.
func (t *storeTx) PutNodes(rows []catalog.NodeRow) error {
	for _, row := range rows {
		if err := t.PutNode(row); err != nil {
			return err
		}
	}
	return nil
}

// GetBlob implements catalog.Tx.
func (t *storeTx) GetBlob(id vfs.BlobID) (catalog.BlobRow, error) {
	var row catalog.BlobRow
	if err := t.getJSON(keyBlob(id), "blob", fmt.Sprintf("%d", id), &row); err != nil {
		return catalog.BlobRow{}, err
	}
	return row, nil
}

// BlobByHash implements catalog.Tx.
func (t *storeTx) BlobByHash(hash string) (catalog.BlobRow, error) {
	id, err := t.getIndexedID(keyBlobHash(hash), "blob", hash)
	if err != nil {
		return catalog.BlobRow{}, err
	}
	return t.GetBlob(vfs.BlobID(id))
}

// InsertBlob implements catalog.Tx. The read of the hash index is what
// makes the constraint safe under concurrency: two transactions inserting
// the same hash both read the missing index key, so the second commit
// conflicts, re-runs, and adopts the winner's row.
func (t *storeTx) InsertBlob(row catalog.BlobRow) (catalog.BlobRow, error) {
	existing, err := t.BlobByHash(row.Hash)
	if err == nil {
		return existing, nil
	}
	if !catalog.IsNotFound(err) {
		return catalog.BlobRow{}, err
	}

	if err := t.setJSON(keyBlob(row.ID), "blob", row); err != nil {
		return catalog.BlobRow{}, err
	}
	if err := t.txn.Set(keyBlobHash(row.Hash), encodeID(int64(row.ID))); err != nil {
		return catalog.BlobRow{}, err
	}
	return row, nil
}

// GetUploadTask implements catalog.Tx.
func (t *storeTx) GetUploadTask(id int64) (catalog.UploadTaskRow, error) {
	// Upload task keys embed the owner; scan the namespace for the id.
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte("u:")
	it := t.txn.NewIterator(opts)
	defer it.Close()

	suffix := []byte(fmt.Sprintf(":%d", id))
	for it.Rewind(); it.Valid(); it.Next() {
		if !bytes.HasSuffix(it.Item().Key(), suffix) {
			continue
		}
		var row catalog.UploadTaskRow
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
		if err != nil {
			return catalog.UploadTaskRow{}, err
		}
		if row.ID == id {
			return row, nil
		}
	}
	return catalog.UploadTaskRow{}, catalog.NotFound("upload task", fmt.Sprintf("%d", id))
}

// PutUploadTask implements catalog.Tx.
func (t *storeTx) PutUploadTask(row catalog.UploadTaskRow) error {
	return t.setJSON(keyUploadTask(row.Owner, row.ID), "upload task", row)
}

// ListUploadTasks implements catalog.Tx.
func (t *storeTx) ListUploadTasks(owner vfs.OwnerID) ([]catalog.UploadTaskRow, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyUploadTaskPrefix(owner)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []catalog.UploadTaskRow
	for it.Rewind(); it.Valid(); it.Next() {
		var row catalog.UploadTaskRow
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// DeleteUploadTasks implements catalog.Tx.
func (t *storeTx) DeleteUploadTasks(owner vfs.OwnerID, ids []int64) error {
	for _, id := range ids {
		err := t.txn.Delete(keyUploadTask(owner, id))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

// GetOrder implements catalog.Tx.
func (t *storeTx) GetOrder(id transcode.OrderID) (*transcode.Order, error) {
	var order transcode.Order
	if err := t.getJSON(keyOrder(id), "order", fmt.Sprintf("%d", id), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// PutOrder implements catalog.Tx.
func (t *storeTx) PutOrder(order *transcode.Order) error {
	if err := t.setJSON(keyOrder(order.ID), "order", order); err != nil {
		return err
	}
	for _, task := range order.Tasks {
		if err := t.txn.Set(keyOrderTask(task.ID), encodeID(int64(order.ID))); err != nil {
			return err
		}
	}
	return nil
}

// OrderByTask implements catalog.Tx.
func (t *storeTx) OrderByTask(id transcode.TaskID) (*transcode.Order, error) {
	orderID, err := t.getIndexedID(keyOrderTask(id), "task", fmt.Sprintf("%d", id))
	if err != nil {
		return nil, err
	}
	return t.GetOrder(transcode.OrderID(orderID))
}
