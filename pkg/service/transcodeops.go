package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/pkg/blob"
	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/mediaworker"
	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// OrderInput is one file/parameter pair of a new transcode order.
type OrderInput struct {
	FileID vfs.NodeID
	Params transcode.Params
}

// CreateOrder validates the inputs, persists a Processing order with one
// task per input, and then dispatches each task to the workers.
//
// Persist first, dispatch second: a crash between the two leaves a
// Processing order that operators can re-dispatch, whereas dispatching
// first could complete a task that no order remembers. Dispatch failures
// immediately fail their task through the same path worker failures take.
func (s *Service) CreateOrder(ctx context.Context, owner vfs.OwnerID, inputs []OrderInput) (*transcode.Order, error) {
	if len(inputs) == 0 {
		return nil, &vfs.OpError{Code: vfs.ErrNotFound, Message: "order has no inputs"}
	}

	var order *transcode.Order
	err := s.catalog.Update(ctx, func(tx catalog.Tx) error {
		specs := make([]transcode.TaskSpec, 0, len(inputs))
		for _, input := range inputs {
			row, err := ownedLiveNode(tx, owner, input.FileID)
			if err != nil {
				return err
			}
			if row.Dir || row.ContentID == nil {
				return &vfs.OpError{Code: vfs.ErrNotAllowed, Message: "only files can be transcoded", Path: row.Path}
			}
			specs = append(specs, transcode.TaskSpec{
				SourceFileID: row.ID,
				ContentID:    *row.ContentID,
				SourcePath:   row.Path,
				Params:       input.Params,
			})
		}

		order = transcode.NewOrder(owner, specs)
		return tx.PutOrder(order)
	})
	if err != nil {
		return nil, err
	}

	for _, task := range order.Tasks {
		s.dispatchTask(owner, task)
	}
	return order, nil
}

// dispatchTask hands one task to the workers in the background. The
// submit context is detached from the request: the job outlives the call
// that created it.
func (s *Service) dispatchTask(owner vfs.OwnerID, task transcode.Task) {
	job := mediaworker.Job{
		TaskID:     task.ID,
		SourcePath: s.mirror.Path(vfs.StoredPath(owner, task.SourcePath)),
		Kind:       task.Params.Kind,
		Options:    task.Params.Options,
	}
	s.pool.Go(context.Background(), func() error {
		return s.worker.Submit(context.Background(), job)
	}, func(err error) {
		logger.Error("dispatch of task %d failed: %v", task.ID, err)
		result := mediaworker.Result{
			TaskID:  task.ID,
			Success: false,
			Message: fmt.Sprintf("dispatch failed: %v", err),
		}
		if err := s.TaskDone(context.Background(), result); err != nil {
			logger.Error("failed to record dispatch failure of task %d: %v", task.ID, err)
		}
	})
}

// TaskDone records a worker's terminal report for one task.
//
// Unknown task ids are silently ignored: the catalog may have been reset
// while workers still held jobs, and a retry storm from confused workers
// must not become an error storm here. Repeated reports for a task that
// is already terminal are no-ops, so redelivery is always safe.
//
// On success the produced file is archived and materialized in the
// user's tree at the source's mirror location ("/source/a/x.mp4" output
// lands under "/encoded/a/"), named "<stem>_<suffix>.<ext>". Only then
// does the task itself flip to Ok.
func (s *Service) TaskDone(ctx context.Context, result mediaworker.Result) error {
	// Peek at the task before any disk work.
	var order *transcode.Order
	err := s.catalog.View(ctx, func(tx catalog.Tx) error {
		var err error
		order, err = tx.OrderByTask(result.TaskID)
		return err
	})
	if catalog.IsNotFound(err) {
		logger.Debug("ignoring result for unknown task %d", result.TaskID)
		return nil
	}
	if err != nil {
		return err
	}
	task := order.Task(result.TaskID)
	if task == nil || task.Status.Terminal() {
		return nil
	}

	if !result.Success {
		return s.finishTask(ctx, result.TaskID, transcode.TaskFailed, result.Message, nil)
	}

	// Hash and archive the worker's output before touching the catalog.
	var hash string
	var size uint64
	err = s.pool.Do(ctx, func() error {
		var err error
		hash, size, err = hashFile(result.OutputPath)
		if err != nil {
			return err
		}
		_, err = s.archive.Store(ctx, hash, result.OutputPath)
		return err
	})
	if err != nil {
		// The worker says it succeeded but the output is unusable; that
		// is a failure of the task, not of the callback.
		reason := fmt.Sprintf("output rejected: %v", err)
		return s.finishTask(ctx, result.TaskID, transcode.TaskFailed, reason, nil)
	}

	outputName := materializedName(task.SourcePath, task.Params.Suffix(), result.OutputPath)
	return s.finishTask(ctx, result.TaskID, transcode.TaskOk, "", &materialization{
		owner:      order.Owner,
		sourcePath: task.SourcePath,
		fileName:   outputName,
		hash:       hash,
		size:       size,
	})
}

// materialization describes the file node a successful task produces.
type materialization struct {
	owner      vfs.OwnerID
	sourcePath string
	fileName   string
	hash       string
	size       uint64
}

// finishTask transitions a task to a terminal status inside one
// transaction, materializing the output file and its mirror link first
// when given one, and recomputes the order aggregate. Safe to call
// concurrently and repeatedly for the same task.
func (s *Service) finishTask(ctx context.Context, taskID transcode.TaskID, status transcode.TaskStatus, reason string, m *materialization) error {
	return s.catalog.Update(ctx, func(tx catalog.Tx) error {
		order, err := tx.OrderByTask(taskID)
		if err != nil {
			if catalog.IsNotFound(err) {
				return nil
			}
			return err
		}
		task := order.Task(taskID)
		if task == nil || task.Status.Terminal() {
			return nil
		}

		if m != nil {
			blobRow, err := tx.InsertBlob(catalog.BlobRow{
				ID:           vfs.BlobID(s.ids.NextID()),
				Hash:         m.hash,
				Size:         m.size,
				ArchivedPath: blob.ArchiveKey(m.hash),
				CreatedAt:    time.Now().UTC(),
			})
			if err != nil {
				return err
			}

			mirror, ok := vfs.StoredPath(m.owner, m.sourcePath).MirrorPath()
			if !ok {
				return &vfs.OpError{Code: vfs.ErrNotAllowed, Message: "source has no mirror location", Path: m.sourcePath}
			}
			parentPath, _ := mirror.Parent()
			parent, err := s.ensureDir(tx, m.owner, parentPath)
			if err != nil {
				return err
			}
			file, err := parent.CreateFile(m.fileName, blobRow.Ref())
			if err != nil {
				return err
			}
			if err := tx.PutNode(catalog.RowFromNode(file)); err != nil {
				return err
			}

			// Mirror writes are idempotent, so they sit inside the
			// retried transaction. A link failure leaves the task
			// Processing; the worker's redelivery runs the whole
			// materialization again instead of hitting the terminal
			// no-op with a hole in the mirror.
			if err := s.mirror.CreateDir(parentPath); err != nil {
				return err
			}
			if err := s.archive.LinkInto(ctx, m.hash, s.mirror.Path(file.Path)); err != nil {
				return err
			}
		}

		task.Finish(status, reason)
		order.Recompute()
		return tx.PutOrder(order)
	})
}

// ensureDir walks a directory path from its top-level root, creating the
// missing catalog nodes, and returns the final directory with children
// loaded. The root itself ("/encoded") must already exist.
func (s *Service) ensureDir(tx catalog.Tx, owner vfs.OwnerID, target vfs.VirtualPath) (*vfs.Node, error) {
	row, err := tx.NodeByPath(owner, target.String())
	if err == nil {
		return loadDirShallow(tx, row)
	}
	if !catalog.IsNotFound(err) {
		return nil, err
	}

	parentPath, ok := target.Parent()
	if !ok || target.IsRoot() {
		return nil, &vfs.OpError{Code: vfs.ErrNoParent, Message: "tree root is missing", Path: target.String()}
	}
	if target.IsFixed() {
		return nil, &vfs.OpError{Code: vfs.ErrNoParent, Message: "user home was never initialized", Path: target.String()}
	}

	parent, err := s.ensureDir(tx, owner, parentPath)
	if err != nil {
		return nil, err
	}
	dir, err := parent.CreateDir(target.FileName())
	if err != nil {
		return nil, err
	}
	if err := tx.PutNode(catalog.RowFromNode(dir)); err != nil {
		return nil, err
	}
	return dir, nil
}

// materializedName derives "<stem>_<suffix>.<ext>" from the source name,
// preferring the worker output's extension when it has one.
func materializedName(sourcePath, suffix, outputPath string) string {
	sourceName := vfs.StoredPath(0, sourcePath).FileName()
	stem, sourceExt := splitExt(sourceName)

	ext := sourceExt
	if idx := strings.LastIndex(outputPath, "."); idx > strings.LastIndex(outputPath, "/") && idx >= 0 {
		if candidate := outputPath[idx+1:]; candidate != "" {
			ext = candidate
		}
	}

	name := stem + "_" + suffix
	if ext != "" {
		name += "." + ext
	}
	return name
}
