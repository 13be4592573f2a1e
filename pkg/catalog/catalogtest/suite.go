// Package catalogtest provides a conformance suite that every catalog
// implementation must pass. Implementation packages instantiate it from
// their own tests with a factory for a fresh, empty catalog.
package catalogtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// Factory returns a fresh, empty catalog. Cleanup is registered on t.
type Factory func(t *testing.T) catalog.Catalog

// Run executes the conformance suite against the implementation produced
// by newCatalog.
func Run(t *testing.T, newCatalog Factory) {
	tests := map[string]func(*testing.T, catalog.Catalog){
		"NodeRoundTrip":              testNodeRoundTrip,
		"NodeByPathFollowsMoves":     testNodeByPathFollowsMoves,
		"ListChildren":               testListChildren,
		"ListSubtree":                testListSubtree,
		"BlobUniqueHash":             testBlobUniqueHash,
		"BlobConcurrentInsert":       testBlobConcurrentInsert,
		"UploadTaskLifecycle":        testUploadTaskLifecycle,
		"UploadTaskReadIsolation":    testUploadTaskReadIsolation,
		"OrderRoundTrip":             testOrderRoundTrip,
		"FailedUpdateChangesNothing": testFailedUpdateChangesNothing,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newCatalog(t))
		})
	}
}

func nodeRow(id vfs.NodeID, parent *vfs.NodeID, owner vfs.OwnerID, path string, dir bool) catalog.NodeRow {
	return catalog.NodeRow{ID: id, ParentID: parent, Owner: owner, Path: path, Dir: dir}
}

func testNodeRoundTrip(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	root := nodeRow(1, nil, 7, "/", true)
	blobID := vfs.BlobID(99)
	fileParent := root.ID
	file := catalog.NodeRow{
		ID: 2, ParentID: &fileParent, Owner: 7,
		Path: "/source/a.mp4", ContentID: &blobID,
	}

	err := c.Update(ctx, func(tx catalog.Tx) error {
		if err := tx.PutNode(root); err != nil {
			return err
		}
		return tx.PutNode(file)
	})
	require.NoError(t, err)

	err = c.View(ctx, func(tx catalog.Tx) error {
		got, err := tx.GetNode(2)
		require.NoError(t, err)
		assert.Equal(t, file, got)

		_, err = tx.GetNode(12345)
		assert.True(t, catalog.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func testNodeByPathFollowsMoves(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	row := nodeRow(1, nil, 7, "/source/a", true)
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.PutNode(row)
	}))

	// Rewrite the path, as a move does.
	row.Path = "/source/b/a"
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.PutNode(row)
	}))

	err := c.View(ctx, func(tx catalog.Tx) error {
		got, err := tx.NodeByPath(7, "/source/b/a")
		require.NoError(t, err)
		assert.Equal(t, vfs.NodeID(1), got.ID)

		// The stale path no longer resolves.
		_, err = tx.NodeByPath(7, "/source/a")
		assert.True(t, catalog.IsNotFound(err))

		// Neither does another owner's view of the new path.
		_, err = tx.NodeByPath(8, "/source/b/a")
		assert.True(t, catalog.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func testListChildren(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()
	parent := vfs.NodeID(1)

	rows := []catalog.NodeRow{
		nodeRow(1, nil, 7, "/source", true),
		nodeRow(2, &parent, 7, "/source/a", true),
		nodeRow(3, &parent, 7, "/source/b", false),
		nodeRow(5, nil, 8, "/source", true),
	}
	deleted := nodeRow(4, &parent, 7, "/deleted/4/source/c", true)
	deleted.Deleted = true
	rows = append(rows, deleted)

	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.PutNodes(rows)
	}))

	err := c.View(ctx, func(tx catalog.Tx) error {
		children, err := tx.ListChildren(7, parent)
		require.NoError(t, err)

		var ids []vfs.NodeID
		for _, row := range children {
			ids = append(ids, row.ID)
		}
		assert.ElementsMatch(t, []vfs.NodeID{2, 3}, ids)
		return nil
	})
	require.NoError(t, err)
}

func testListSubtree(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	rows := []catalog.NodeRow{
		nodeRow(1, nil, 7, "/source", true),
		nodeRow(2, nil, 7, "/source/a", true),
		nodeRow(3, nil, 7, "/source/a/b.mp4", false),
		nodeRow(4, nil, 7, "/source/ab", true),
		nodeRow(5, nil, 8, "/source/a/other.mp4", false),
	}
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.PutNodes(rows)
	}))

	err := c.View(ctx, func(tx catalog.Tx) error {
		subtree, err := tx.ListSubtree(7, "/source/a")
		require.NoError(t, err)

		var paths []string
		for _, row := range subtree {
			paths = append(paths, row.Path)
		}
		// "/source/ab" shares the string prefix but is not a descendant.
		assert.ElementsMatch(t, []string{"/source/a", "/source/a/b.mp4"}, paths)
		return nil
	})
	require.NoError(t, err)
}

func testBlobUniqueHash(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	first := catalog.BlobRow{ID: 1, Hash: "abc", Size: 10, ArchivedPath: "ab/abc", CreatedAt: time.Now().UTC()}
	second := catalog.BlobRow{ID: 2, Hash: "abc", Size: 10, ArchivedPath: "ab/abc"}

	err := c.Update(ctx, func(tx catalog.Tx) error {
		won, err := tx.InsertBlob(first)
		require.NoError(t, err)
		assert.Equal(t, first.ID, won.ID)
		return nil
	})
	require.NoError(t, err)

	err = c.Update(ctx, func(tx catalog.Tx) error {
		won, err := tx.InsertBlob(second)
		require.NoError(t, err)
		// The stored row wins; the candidate id is discarded.
		assert.Equal(t, first.ID, won.ID)
		return nil
	})
	require.NoError(t, err)

	err = c.View(ctx, func(tx catalog.Tx) error {
		got, err := tx.BlobByHash("abc")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = tx.GetBlob(2)
		assert.True(t, catalog.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}

func testBlobConcurrentInsert(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	const writers = 8
	winners := make([]vfs.BlobID, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row := catalog.BlobRow{ID: vfs.BlobID(100 + i), Hash: "race", Size: 1}
			err := c.Update(ctx, func(tx catalog.Tx) error {
				won, err := tx.InsertBlob(row)
				if err != nil {
					return err
				}
				winners[i] = won.ID
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Exactly one blob row exists and everyone adopted its id.
	for _, id := range winners[1:] {
		assert.Equal(t, winners[0], id)
	}
}

func testUploadTaskLifecycle(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	task := catalog.UploadTaskRow{
		ID: 1, Owner: 7, Hash: "abc", ParentDirID: 10,
		FileName: "a.mp4", CreatedAt: time.Now().UTC(),
	}
	other := catalog.UploadTaskRow{ID: 2, Owner: 8, Hash: "def", ParentDirID: 20, FileName: "b.mp4"}

	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		if err := tx.PutUploadTask(task); err != nil {
			return err
		}
		return tx.PutUploadTask(other)
	}))

	// Record slices and complete.
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		row, err := tx.GetUploadTask(1)
		if err != nil {
			return err
		}
		row.AddSlice(1)
		row.AddSlice(0)
		row.AddSlice(1)
		row.Complete(55)
		return tx.PutUploadTask(row)
	}))

	err := c.View(ctx, func(tx catalog.Tx) error {
		row, err := tx.GetUploadTask(1)
		require.NoError(t, err)
		assert.Equal(t, []uint32{0, 1}, row.Slices)
		assert.Equal(t, catalog.UploadCompleted, row.State)
		require.NotNil(t, row.FileID)
		assert.Equal(t, vfs.NodeID(55), *row.FileID)

		mine, err := tx.ListUploadTasks(7)
		require.NoError(t, err)
		assert.Len(t, mine, 1)
		return nil
	})
	require.NoError(t, err)

	// Deleting skips foreign ids.
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.DeleteUploadTasks(7, []int64{1, 2, 999})
	}))

	err = c.View(ctx, func(tx catalog.Tx) error {
		_, err := tx.GetUploadTask(1)
		assert.True(t, catalog.IsNotFound(err))

		_, err = tx.GetUploadTask(2)
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

// Rows fetched inside a transaction must not alias stored state:
// AddSlice shifts the slice set in place, so an aborted closure that
// mutated a fetched row would otherwise corrupt what was committed.
func testUploadTaskReadIsolation(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	task := catalog.UploadTaskRow{ID: 1, Owner: 7, Hash: "abc", ParentDirID: 10, FileName: "a.mp4"}
	task.AddSlice(0)
	task.AddSlice(2)
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.PutUploadTask(task)
	}))

	sentinel := &catalog.StoreError{Code: catalog.ErrCodeIO, Message: "boom"}
	err := c.Update(ctx, func(tx catalog.Tx) error {
		row, err := tx.GetUploadTask(1)
		if err != nil {
			return err
		}
		row.AddSlice(1)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = c.View(ctx, func(tx catalog.Tx) error {
		row, err := tx.GetUploadTask(1)
		require.NoError(t, err)
		assert.Equal(t, []uint32{0, 2}, row.Slices)

		listed, err := tx.ListUploadTasks(7)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		listed[0].AddSlice(1)
		return nil
	})
	require.NoError(t, err)

	// The listing's mutation must not have reached the store either.
	err = c.View(ctx, func(tx catalog.Tx) error {
		row, err := tx.GetUploadTask(1)
		require.NoError(t, err)
		assert.Equal(t, []uint32{0, 2}, row.Slices)
		return nil
	})
	require.NoError(t, err)
}

func testOrderRoundTrip(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	order := transcode.NewOrder(7, []transcode.TaskSpec{
		{SourceFileID: 1, ContentID: 10, SourcePath: "/source/a.mp4", Params: transcode.Params{Kind: "av1"}},
		{SourceFileID: 2, ContentID: 20, SourcePath: "/source/b.mp4", Params: transcode.Params{Kind: "av1"}},
	})

	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		return tx.PutOrder(order)
	}))

	err := c.View(ctx, func(tx catalog.Tx) error {
		got, err := tx.GetOrder(order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)
		require.Len(t, got.Tasks, 2)

		byTask, err := tx.OrderByTask(order.Tasks[1].ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, byTask.ID)

		_, err = tx.OrderByTask(transcode.TaskID(424242))
		assert.True(t, catalog.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)

	// Transition one task and persist again.
	require.NoError(t, c.Update(ctx, func(tx catalog.Tx) error {
		got, err := tx.GetOrder(order.ID)
		if err != nil {
			return err
		}
		got.Tasks[0].Finish(transcode.TaskOk, "")
		return tx.PutOrder(got)
	}))

	err = c.View(ctx, func(tx catalog.Tx) error {
		got, err := tx.GetOrder(order.ID)
		require.NoError(t, err)
		assert.Equal(t, transcode.TaskOk, got.Tasks[0].Status)
		assert.Equal(t, transcode.TaskProcessing, got.Tasks[1].Status)
		return nil
	})
	require.NoError(t, err)
}

func testFailedUpdateChangesNothing(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	sentinel := &catalog.StoreError{Code: catalog.ErrCodeIO, Message: "boom"}
	err := c.Update(ctx, func(tx catalog.Tx) error {
		if err := tx.PutNode(nodeRow(1, nil, 7, "/source/x", true)); err != nil {
			return err
		}
		if _, err := tx.InsertBlob(catalog.BlobRow{ID: 1, Hash: "h"}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = c.View(ctx, func(tx catalog.Tx) error {
		_, err := tx.GetNode(1)
		assert.True(t, catalog.IsNotFound(err))
		_, err = tx.BlobByHash("h")
		assert.True(t, catalog.IsNotFound(err))
		_, err = tx.NodeByPath(7, "/source/x")
		assert.True(t, catalog.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)
}
