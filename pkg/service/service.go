// Package service implements the operations exposed to the presentation
// layer: tree manipulation, the chunked-upload pipeline and the transcode
// order lifecycle.
//
// Every structural mutation runs inside one catalog transaction. Heavy
// disk work (merging, hashing, archive copies) happens outside
// transactions; the idempotent mirror writes that must precede a terminal
// state ride inside the transaction, so closures stay retryable and the
// completing write is always the last failable one. Business failures
// surface as *vfs.OpError; anything else is an infrastructure error
// wrapped with context.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clipvault/clipvault/internal/flake"
	"github.com/clipvault/clipvault/internal/workpool"
	"github.com/clipvault/clipvault/pkg/blob"
	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/mediaworker"
	"github.com/clipvault/clipvault/pkg/staging"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// MetadataProbe inspects a freshly stored file (duration, codec, frame
// size) and records what it finds. Probing is best-effort: failures are
// logged, never surfaced to the uploader.
type MetadataProbe func(ctx context.Context, fileID vfs.NodeID, path string) error

// Deps bundles everything a Service needs.
type Deps struct {
	Catalog catalog.Catalog
	Archive blob.Archive
	Mirror  blob.Mirror
	Staging *staging.Area
	Worker  mediaworker.Dispatcher

	// Pool bounds concurrent hash/merge/copy work. Optional; a single
	// slot pool is used when nil.
	Pool *workpool.Pool

	// Metadata is the optional post-upload probe.
	Metadata MetadataProbe
}

// Service is the application facade over catalog, archive, mirror,
// staging and workers. Safe for concurrent use.
type Service struct {
	catalog  catalog.Catalog
	archive  blob.Archive
	mirror   blob.Mirror
	staging  *staging.Area
	worker   mediaworker.Dispatcher
	pool     *workpool.Pool
	metadata MetadataProbe
	ids      *flake.Generator
}

// New creates a Service from its dependencies.
func New(deps Deps) *Service {
	pool := deps.Pool
	if pool == nil {
		pool = workpool.New(1)
	}
	return &Service{
		catalog:  deps.Catalog,
		archive:  deps.Archive,
		mirror:   deps.Mirror,
		staging:  deps.Staging,
		worker:   deps.Worker,
		pool:     pool,
		metadata: deps.Metadata,
		ids:      flake.New(),
	}
}

// ownedNode fetches a node row and verifies ownership. Foreign nodes are
// reported as missing so the API doesn't leak other users' tree shapes.
func ownedNode(tx catalog.Tx, owner vfs.OwnerID, id vfs.NodeID) (catalog.NodeRow, error) {
	row, err := tx.GetNode(id)
	if err != nil {
		if catalog.IsNotFound(err) {
			return catalog.NodeRow{}, &vfs.OpError{Code: vfs.ErrNotFound, Message: "no such node", Path: fmt.Sprintf("%d", id)}
		}
		return catalog.NodeRow{}, err
	}
	if row.Owner != owner {
		return catalog.NodeRow{}, &vfs.OpError{Code: vfs.ErrNotFound, Message: "no such node", Path: fmt.Sprintf("%d", id)}
	}
	return row, nil
}

// ownedLiveNode is ownedNode restricted to non-deleted nodes. Soft-deleted
// nodes are invisible to regular operations.
func ownedLiveNode(tx catalog.Tx, owner vfs.OwnerID, id vfs.NodeID) (catalog.NodeRow, error) {
	row, err := ownedNode(tx, owner, id)
	if err != nil {
		return catalog.NodeRow{}, err
	}
	if row.Deleted {
		return catalog.NodeRow{}, &vfs.OpError{Code: vfs.ErrNotFound, Message: "no such node", Path: row.Path}
	}
	return row, nil
}

// loadDirShallow assembles a directory node with its live children
// attached but not recursed into. Enough for collision checks and child
// creation.
func loadDirShallow(tx catalog.Tx, row catalog.NodeRow) (*vfs.Node, error) {
	if !row.Dir {
		return nil, &vfs.OpError{Code: vfs.ErrParentNotDir, Message: "not a directory", Path: row.Path}
	}
	dir := catalog.NodeFromRow(row, nil)
	children, err := tx.ListChildren(row.Owner, row.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		dir.AttachChild(catalog.NodeFromRow(child, nil))
	}
	return dir, nil
}

// loadSubtree assembles a node with every live descendant.
func loadSubtree(tx catalog.Tx, row catalog.NodeRow) (*vfs.Node, error) {
	rows, err := tx.ListSubtree(row.Owner, row.Path)
	if err != nil {
		return nil, err
	}
	return catalog.AssembleTree(rows, nil)
}

// hashFile computes the hex sha256 digest and size of a local file.
func hashFile(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), uint64(n), nil
}

// splitExt splits a file name into stem and dot-less extension, treating
// a leading dot as part of the stem.
func splitExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
