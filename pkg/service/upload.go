package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/pkg/blob"
	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// RegisterResult reports a freshly registered upload task plus two hints
// the client can use to skip work: HashExists means finalize will succeed
// without any slices, DstPathExists warns that the requested name is taken
// and the final file will carry a counter suffix.
type RegisterResult struct {
	TaskID        int64
	HashExists    bool
	DstPathExists bool
}

// RegisterUpload validates the destination and opens a Pending upload
// task with its staging area.
func (s *Service) RegisterUpload(ctx context.Context, owner vfs.OwnerID, parentDirID vfs.NodeID, fileName, hash string) (RegisterResult, error) {
	var result RegisterResult
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		parentRow, err := ownedLiveNode(tx, owner, parentDirID)
		if err != nil {
			if vfs.IsCode(err, vfs.ErrNotFound) {
				return &vfs.OpError{Code: vfs.ErrNoParent, Message: "upload destination does not exist"}
			}
			return err
		}
		if !parentRow.Dir {
			return &vfs.OpError{Code: vfs.ErrParentNotDir, Message: "upload destination is not a directory", Path: parentRow.Path}
		}

		// Validate the name against the destination without creating
		// anything yet.
		parentPath := vfs.StoredPath(owner, parentRow.Path)
		dstPath, err := parentPath.JoinChild(fileName)
		if err != nil {
			return err
		}

		if _, err := tx.BlobByHash(hash); err == nil {
			result.HashExists = true
		} else if !catalog.IsNotFound(err) {
			return err
		}
		if _, err := tx.NodeByPath(owner, dstPath.String()); err == nil {
			result.DstPathExists = true
		} else if !catalog.IsNotFound(err) {
			return err
		}

		result.TaskID = s.ids.NextID()
		return tx.PutUploadTask(catalog.UploadTaskRow{
			ID:          result.TaskID,
			Owner:       owner,
			Hash:        hash,
			ParentDirID: parentDirID,
			FileName:    fileName,
			CreatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return RegisterResult{}, err
	}

	if err := s.staging.Create(result.TaskID); err != nil {
		return RegisterResult{}, err
	}
	return result, nil
}

// StoreSlice stages one slice of an upload. Slices arrive in any order;
// re-sending an index atomically replaces the previous bytes.
func (s *Service) StoreSlice(ctx context.Context, owner vfs.OwnerID, taskID int64, index uint32, r io.Reader) error {
	// Check the task before touching disk so bogus ids can't write.
	err := s.catalog.View(ctx, func(tx catalog.Tx) error {
		task, err := getOwnedTask(tx, owner, taskID)
		if err != nil {
			return err
		}
		if task.State == catalog.UploadCompleted {
			return &vfs.OpError{Code: vfs.ErrNotAllowed, Message: "upload is already completed"}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.staging.StoreSlice(ctx, taskID, index, r); err != nil {
		return err
	}

	return s.catalog.Update(ctx, func(tx catalog.Tx) error {
		task, err := getOwnedTask(tx, owner, taskID)
		if err != nil {
			return err
		}
		if task.State == catalog.UploadCompleted {
			// Lost a race with finalize; the slice is moot.
			return nil
		}
		if !task.AddSlice(index) {
			return nil
		}
		return tx.PutUploadTask(task)
	})
}

func getOwnedTask(tx catalog.Tx, owner vfs.OwnerID, taskID int64) (catalog.UploadTaskRow, error) {
	task, err := tx.GetUploadTask(taskID)
	if err != nil {
		if catalog.IsNotFound(err) {
			return catalog.UploadTaskRow{}, &vfs.OpError{Code: vfs.ErrNotFound, Message: "no such upload task"}
		}
		return catalog.UploadTaskRow{}, err
	}
	if task.Owner != owner {
		return catalog.UploadTaskRow{}, &vfs.OpError{Code: vfs.ErrNotFound, Message: "no such upload task"}
	}
	return task, nil
}

// FinalizeResult reports the file produced by a finalized upload.
type FinalizeResult struct {
	FileID vfs.NodeID
	Path   string

	// RenamedTo is set when a name collision forced a counter suffix.
	RenamedTo string
}

// FinalizeUpload completes an upload task:
//
//  1. A Completed task short-circuits to its stored file (re-calls and
//     concurrent finalizes are idempotent).
//  2. A blob with the claimed hash skips the merge entirely (dedup).
//  3. Otherwise the staged slices are merged in ascending index order
//     under an incremental sha256; missing slices and digest mismatches
//     abort with nothing persisted.
//  4. The merged file moves into the archive; losing that race to a
//     concurrent identical upload is success.
//  5. One transaction then inserts the blob row (adopting a winner's row
//     on hash conflict), attaches the file node with collision-avoiding
//     naming, links the content into the mirror, and marks the task
//     Completed as its last failable write.
//  6. Metadata probing and staging cleanup run afterwards, best-effort.
func (s *Service) FinalizeUpload(ctx context.Context, owner vfs.OwnerID, taskID int64) (FinalizeResult, error) {
	var task catalog.UploadTaskRow
	var done FinalizeResult
	var alreadyDone bool
	err := s.catalog.View(ctx, func(tx catalog.Tx) error {
		var err error
		task, err = getOwnedTask(tx, owner, taskID)
		if err != nil {
			return err
		}
		if task.State == catalog.UploadCompleted {
			alreadyDone = true
			return completedResult(tx, task, &done)
		}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	if alreadyDone {
		return done, nil
	}

	// Dedup fast path: known hash means the bytes are already archived.
	var size uint64
	var haveBlob bool
	err = s.catalog.View(ctx, func(tx catalog.Tx) error {
		blobRow, err := tx.BlobByHash(task.Hash)
		if err == nil {
			haveBlob = true
			size = blobRow.Size
			return nil
		}
		if catalog.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	if !haveBlob {
		err = s.pool.Do(ctx, func() error {
			indexes, err := s.staging.SliceIndexes(taskID)
			if err != nil {
				return err
			}
			merged, mergedSize, err := s.staging.Merge(ctx, taskID, indexes, task.Hash)
			if err != nil {
				return err
			}
			size = mergedSize
			_, err = s.archive.Store(ctx, task.Hash, merged)
			return err
		})
		if err != nil {
			return FinalizeResult{}, err
		}
	}

	var filePath vfs.VirtualPath
	err = s.catalog.Update(ctx, func(tx catalog.Tx) error {
		current, err := getOwnedTask(tx, owner, taskID)
		if err != nil {
			return err
		}
		if current.State == catalog.UploadCompleted {
			// A concurrent finalize won; adopt its result.
			return completedResult(tx, current, &done)
		}

		blobRow, err := tx.InsertBlob(catalog.BlobRow{
			ID:           vfs.BlobID(s.ids.NextID()),
			Hash:         task.Hash,
			Size:         size,
			ArchivedPath: blob.ArchiveKey(task.Hash),
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		parentRow, err := ownedLiveNode(tx, owner, current.ParentDirID)
		if err != nil {
			return err
		}
		parent, err := loadDirShallow(tx, parentRow)
		if err != nil {
			return err
		}
		file, err := parent.CreateFile(current.FileName, blobRow.Ref())
		if err != nil {
			return err
		}
		if err := tx.PutNode(catalog.RowFromNode(file)); err != nil {
			return err
		}

		done = FinalizeResult{FileID: file.ID, Path: file.Path.String()}
		if file.FileName() != current.FileName {
			done.RenamedTo = file.FileName()
		}
		filePath = file.Path

		// The mirror link is idempotent (it replaces dst), so it rides
		// inside the retried transaction. A link failure aborts the
		// commit, the task stays Pending, and the next finalize runs the
		// pipeline again instead of short-circuiting past a missing file.
		if err := s.archive.LinkInto(ctx, task.Hash, s.mirror.Path(file.Path)); err != nil {
			return err
		}

		// Completing the task is the last write of the pipeline.
		current.Complete(file.ID)
		return tx.PutUploadTask(current)
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	if !filePath.IsZero() {
		s.dispatchMetadataProbe(done.FileID, s.mirror.Path(filePath))
	}

	// Staging cleanup is asynchronous and never fails the upload.
	go func() {
		if err := s.staging.Remove(taskID); err != nil {
			logger.Warn("staging cleanup of task %d failed: %v", taskID, err)
		}
	}()

	return done, nil
}

// completedResult fills out the FinalizeResult of an already completed
// task from its stored file node.
func completedResult(tx catalog.Tx, task catalog.UploadTaskRow, out *FinalizeResult) error {
	if task.FileID == nil {
		return &catalog.StoreError{Code: catalog.ErrCodeIO, Message: fmt.Sprintf("completed task %d has no file", task.ID)}
	}
	row, err := tx.GetNode(*task.FileID)
	if err != nil {
		return err
	}
	out.FileID = row.ID
	out.Path = row.Path
	if name := vfs.StoredPath(row.Owner, row.Path).FileName(); name != task.FileName {
		out.RenamedTo = name
	}
	return nil
}

// dispatchMetadataProbe runs the optional probe in the background.
func (s *Service) dispatchMetadataProbe(fileID vfs.NodeID, path string) {
	if s.metadata == nil {
		return
	}
	probe := s.metadata
	s.pool.Go(context.Background(), func() error {
		return probe(context.Background(), fileID, path)
	}, func(err error) {
		logger.Warn("metadata probe of file %d failed: %v", fileID, err)
	})
}

// UploadTasks lists a user's upload tasks.
func (s *Service) UploadTasks(ctx context.Context, owner vfs.OwnerID) ([]catalog.UploadTaskRow, error) {
	var tasks []catalog.UploadTaskRow
	err := s.catalog.View(ctx, func(tx catalog.Tx) error {
		var err error
		tasks, err = tx.ListUploadTasks(owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ClearUploadTasks removes the given upload tasks (all of the user's
// tasks when ids is empty) along with their staging areas.
func (s *Service) ClearUploadTasks(ctx context.Context, owner vfs.OwnerID, ids []int64) error {
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		if len(ids) == 0 {
			tasks, err := tx.ListUploadTasks(owner)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				ids = append(ids, task.ID)
			}
		}
		return tx.DeleteUploadTasks(owner, ids)
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.staging.Remove(id); err != nil {
			logger.Warn("staging cleanup of task %d failed: %v", id, err)
		}
	}
	return nil
}
