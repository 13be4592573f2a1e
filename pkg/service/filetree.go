package service

import (
	"context"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// LoadHome returns the user's root with its fixed directories, creating
// the whole home (catalog rows and mirror skeleton) on first access.
func (s *Service) LoadHome(ctx context.Context, owner vfs.OwnerID) (*vfs.Node, error) {
	var home *vfs.Node
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		row, err := tx.NodeByPath(owner, "/")
		if err == nil {
			home, err = loadDirShallow(tx, row)
			return err
		}
		if !catalog.IsNotFound(err) {
			return err
		}

		home = vfs.UserHome(owner)
		return tx.PutNodes(catalog.RowsFromSubtree(home))
	})
	if err != nil {
		return nil, err
	}

	if err := s.mirror.Init(owner); err != nil {
		return nil, err
	}
	return home, nil
}

// LoadTree returns a directory with its live children. File children come
// back fully resolved with their blob data.
func (s *Service) LoadTree(ctx context.Context, owner vfs.OwnerID, dirID vfs.NodeID) (*vfs.Node, error) {
	var dir *vfs.Node
	err := s.catalog.View(ctx, func(tx catalog.Tx) error {
		row, err := ownedLiveNode(tx, owner, dirID)
		if err != nil {
			return err
		}
		if !row.Dir {
			return &vfs.OpError{Code: vfs.ErrParentNotDir, Message: "not a directory", Path: row.Path}
		}

		dir = catalog.NodeFromRow(row, nil)
		children, err := tx.ListChildren(owner, row.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			var blobRow *catalog.BlobRow
			if !child.Dir && child.ContentID != nil {
				b, err := tx.GetBlob(*child.ContentID)
				if err == nil {
					blobRow = &b
				} else if !catalog.IsNotFound(err) {
					return err
				}
			}
			dir.AttachChild(catalog.NodeFromRow(child, blobRow))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// CreateDir creates a directory under parentID. A colliding name gets the
// "(n)" counter, so the returned node's name may differ from the request.
func (s *Service) CreateDir(ctx context.Context, owner vfs.OwnerID, parentID vfs.NodeID, name string) (*vfs.Node, error) {
	var created *vfs.Node
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		row, err := ownedLiveNode(tx, owner, parentID)
		if err != nil {
			return err
		}
		parent, err := loadDirShallow(tx, row)
		if err != nil {
			return err
		}

		created, err = parent.CreateDir(name)
		if err != nil {
			return err
		}
		return tx.PutNode(catalog.RowFromNode(created))
	})
	if err != nil {
		return nil, err
	}

	if err := s.mirror.CreateDir(created.Path); err != nil {
		return nil, err
	}
	return created, nil
}

// Delete soft-deletes a node and its whole subtree: rows are marked
// deleted and relocated under /deleted, the mirror tree moves with them,
// and the original name becomes free again.
func (s *Service) Delete(ctx context.Context, owner vfs.OwnerID, nodeID vfs.NodeID) error {
	var oldPath, deletedPath vfs.VirtualPath
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		row, err := ownedNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		if row.Deleted {
			return &vfs.OpError{Code: vfs.ErrAlreadyDeleted, Message: "node is already deleted", Path: row.Path}
		}

		node, err := loadSubtree(tx, row)
		if err != nil {
			return err
		}
		oldPath = node.Path
		if err := node.Delete(); err != nil {
			return err
		}
		deletedPath = node.Path
		return tx.PutNodes(catalog.RowsFromSubtree(node))
	})
	if err != nil {
		return err
	}

	return s.mirror.Move(oldPath, deletedPath)
}

// Rename gives a node a new name, rewriting every descendant path.
// Renaming onto a taken name fails with AlreadyExist.
func (s *Service) Rename(ctx context.Context, owner vfs.OwnerID, nodeID vfs.NodeID, newName string) (*vfs.Node, error) {
	var renamed *vfs.Node
	var oldPath vfs.VirtualPath
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		row, err := ownedLiveNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		if row.ParentID == nil {
			return &vfs.OpError{Code: vfs.ErrNoParent, Message: "node has no parent", Path: row.Path}
		}
		parentRow, err := tx.GetNode(*row.ParentID)
		if err != nil {
			return err
		}
		parent, err := loadDirShallow(tx, parentRow)
		if err != nil {
			return err
		}

		// Swap the shallow child for its full subtree so the rename can
		// rewrite descendants.
		target, err := loadSubtree(tx, row)
		if err != nil {
			return err
		}
		replaceChild(parent, target)

		oldPath = target.Path
		if err := parent.RenameChild(target, newName); err != nil {
			return err
		}
		renamed = target
		return tx.PutNodes(catalog.RowsFromSubtree(target))
	})
	if err != nil {
		return nil, err
	}

	if oldPath.String() != renamed.Path.String() {
		if err := s.mirror.Move(oldPath, renamed.Path); err != nil {
			return nil, err
		}
	}
	return renamed, nil
}

// replaceChild swaps the shallow child with replacement's id for the
// fully loaded replacement, keeping parent linkage intact.
func replaceChild(parent, replacement *vfs.Node) {
	children := parent.Children
	parent.Children = nil
	for _, c := range children {
		if c.ID == replacement.ID {
			parent.AttachChild(replacement)
		} else {
			parent.AttachChild(c)
		}
	}
}

// Move reparents a node (with its subtree) under newParentID.
func (s *Service) Move(ctx context.Context, owner vfs.OwnerID, nodeID, newParentID vfs.NodeID) (*vfs.Node, error) {
	var moved *vfs.Node
	var oldPath vfs.VirtualPath
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		row, err := ownedLiveNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		parentRow, err := ownedLiveNode(tx, owner, newParentID)
		if err != nil {
			return err
		}

		node, err := loadSubtree(tx, row)
		if err != nil {
			return err
		}
		newParent, err := loadDirShallow(tx, parentRow)
		if err != nil {
			return err
		}

		oldPath = node.Path
		if err := node.MoveTo(newParent); err != nil {
			return err
		}
		moved = node
		return tx.PutNodes(catalog.RowsFromSubtree(node))
	})
	if err != nil {
		return nil, err
	}

	if err := s.mirror.Move(oldPath, moved.Path); err != nil {
		return nil, err
	}
	return moved, nil
}

// Copy deep-copies a node under newParentID. The copies are new nodes
// with fresh ids sharing the originals' content, so the archive grows by
// nothing; the mirror subtree is duplicated link by link.
func (s *Service) Copy(ctx context.Context, owner vfs.OwnerID, nodeID, newParentID vfs.NodeID) (*vfs.Node, error) {
	var clone *vfs.Node
	var srcPath vfs.VirtualPath
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		row, err := ownedLiveNode(tx, owner, nodeID)
		if err != nil {
			return err
		}
		parentRow, err := ownedLiveNode(tx, owner, newParentID)
		if err != nil {
			return err
		}

		node, err := loadSubtree(tx, row)
		if err != nil {
			return err
		}
		newParent, err := loadDirShallow(tx, parentRow)
		if err != nil {
			return err
		}

		srcPath = node.Path
		clone, err = node.CopyTo(newParent)
		if err != nil {
			return err
		}
		return tx.PutNodes(catalog.RowsFromSubtree(clone))
	})
	if err != nil {
		return nil, err
	}

	if err := s.mirror.CopyTree(srcPath, clone.Path); err != nil {
		logger.Error("mirror copy of %s failed: %v", srcPath, err)
		return nil, err
	}
	return clone, nil
}
