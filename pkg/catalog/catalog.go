// Package catalog defines the transactional record store behind the
// virtual filesystem: tree nodes, content blobs, upload tasks and
// transcode orders.
//
// Two implementations exist. The memory catalog (pkg/catalog/memory)
// serializes writers and is used for tests and throwaway deployments; the
// badger catalog (pkg/catalog/badger) persists to disk and retries
// transactions that lose a commit race. Both are exercised by the shared
// conformance suite in pkg/catalog/catalogtest.
package catalog

import (
	"context"

	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// Catalog runs closures inside storage transactions. Everything a closure
// writes becomes visible atomically on commit; a returned error discards
// all of it.
//
// Update closures must be idempotent: the badger implementation re-runs
// them when optimistic concurrency detects a conflicting commit.
type Catalog interface {
	// Update runs fn in a read-write transaction.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction. Calling write methods on
	// the Tx is a programming error.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying storage.
	Close() error
}

// Tx is the row-level API available inside a transaction. Lookups return
// a StoreError with ErrCodeNotFound for missing rows.
type Tx interface {
	// GetNode returns the node row with the given id, deleted or not.
	GetNode(id vfs.NodeID) (NodeRow, error)

	// NodeByPath resolves a node by its current path. Soft-deleted nodes
	// are only reachable through their relocated /deleted path.
	NodeByPath(owner vfs.OwnerID, path string) (NodeRow, error)

	// ListChildren returns the live (non-deleted) children of a directory.
	ListChildren(owner vfs.OwnerID, parentID vfs.NodeID) ([]NodeRow, error)

	// ListSubtree returns the row at rootPath plus every row whose path
	// lies strictly below it.
	ListSubtree(owner vfs.OwnerID, rootPath string) ([]NodeRow, error)

	// PutNode inserts or replaces a node row, keeping the path index in
	// step when the path changed.
	PutNode(row NodeRow) error

	// PutNodes stores every row of a rewritten subtree.
	PutNodes(rows []NodeRow) error

	// GetBlob returns the blob row with the given id.
	GetBlob(id vfs.BlobID) (BlobRow, error)

	// BlobByHash resolves a blob by content hash.
	BlobByHash(hash string) (BlobRow, error)

	// InsertBlob stores a blob under the unique-hash constraint. When a
	// blob with the same hash already exists the stored row wins and is
	// returned; callers adopt its id and discard their candidate.
	InsertBlob(row BlobRow) (BlobRow, error)

	// GetUploadTask returns the upload task with the given id.
	GetUploadTask(id int64) (UploadTaskRow, error)

	// PutUploadTask inserts or replaces an upload task.
	PutUploadTask(row UploadTaskRow) error

	// ListUploadTasks returns all of a user's upload tasks.
	ListUploadTasks(owner vfs.OwnerID) ([]UploadTaskRow, error)

	// DeleteUploadTasks removes the given tasks. Ids that don't exist or
	// belong to another owner are skipped.
	DeleteUploadTasks(owner vfs.OwnerID, ids []int64) error

	// GetOrder returns a transcode order with all of its tasks.
	GetOrder(id transcode.OrderID) (*transcode.Order, error)

	// PutOrder inserts or replaces an order and indexes its tasks.
	PutOrder(order *transcode.Order) error

	// OrderByTask returns the order owning the given task.
	OrderByTask(id transcode.TaskID) (*transcode.Order, error)
}
