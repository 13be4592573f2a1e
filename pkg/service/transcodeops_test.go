package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/catalog"
	"github.com/clipvault/clipvault/pkg/mediaworker"
	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

func waitJob(t *testing.T, env *testEnv) mediaworker.Job {
	t.Helper()
	select {
	case job := <-env.worker.jobs:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched job")
		return mediaworker.Job{}
	}
}

func getOrder(t *testing.T, env *testEnv, id transcode.OrderID) *transcode.Order {
	t.Helper()
	var order *transcode.Order
	err := env.catalog.View(context.Background(), func(tx catalog.Tx) error {
		var err error
		order, err = tx.GetOrder(id)
		return err
	})
	require.NoError(t, err)
	return order
}

// workerOutput fakes a transcoded file the worker would hand back.
func workerOutput(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestCreateOrderDispatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("source bytes"))

	order, err := env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1", Options: map[string]string{"crf": "30"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, transcode.OrderProcessing, order.Status)
	require.Len(t, order.Tasks, 1)
	assert.Equal(t, transcode.TaskProcessing, order.Tasks[0].Status)
	assert.Equal(t, "/source/clip.mp4", order.Tasks[0].SourcePath)

	job := waitJob(t, env)
	assert.Equal(t, order.Tasks[0].ID, job.TaskID)
	assert.Equal(t, "av1", job.Kind)
	assert.Equal(t, env.mirror.Path(vfs.StoredPath(owner, "/source/clip.mp4")), job.SourcePath)
}

func TestCreateOrderRejectsBadInputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	_, err := env.svc.CreateOrder(ctx, owner, nil)
	assert.True(t, vfs.IsCode(err, vfs.ErrNotFound))

	dir, err := env.svc.CreateDir(ctx, owner, src, "holidays")
	require.NoError(t, err)
	_, err = env.svc.CreateOrder(ctx, owner, []OrderInput{{FileID: dir.ID, Params: transcode.Params{Kind: "av1"}}})
	assert.True(t, vfs.IsCode(err, vfs.ErrNotAllowed))

	// One bad input fails the whole order; nothing is dispatched.
	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("bytes"))
	_, err = env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1"}},
		{FileID: dir.ID, Params: transcode.Params{Kind: "av1"}},
	})
	assert.True(t, vfs.IsCode(err, vfs.ErrNotAllowed))
	assert.Empty(t, env.worker.jobs)
}

func TestTaskDoneUnknownTask(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.TaskDone(context.Background(), mediaworker.Result{TaskID: 987654, Success: true})
	assert.NoError(t, err)
}

func TestTaskDoneFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("bytes"))
	order, err := env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1"}},
	})
	require.NoError(t, err)
	waitJob(t, env)

	taskID := order.Tasks[0].ID
	require.NoError(t, env.svc.TaskDone(ctx, mediaworker.Result{TaskID: taskID, Success: false, Message: "codec exploded"}))

	stored := getOrder(t, env, order.ID)
	assert.Equal(t, transcode.OrderFailed, stored.Status)
	assert.Equal(t, transcode.TaskFailed, stored.Tasks[0].Status)
	assert.Equal(t, "codec exploded", stored.Tasks[0].Reason)
}

func TestTaskDoneSuccessMaterializes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	// The source sits in a subdirectory, so the encoded side has to grow
	// the matching directory chain on demand.
	trips, err := env.svc.CreateDir(ctx, owner, src, "trips")
	require.NoError(t, err)
	res := uploadFile(t, env, owner, trips.ID, "clip.mp4", []byte("source bytes"))

	order, err := env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1", OutputName: "small"}},
	})
	require.NoError(t, err)
	waitJob(t, env)

	encoded := []byte("much smaller bytes")
	result := mediaworker.Result{
		TaskID:     order.Tasks[0].ID,
		Success:    true,
		OutputPath: workerOutput(t, "out.mp4", encoded),
	}
	require.NoError(t, env.svc.TaskDone(ctx, result))

	stored := getOrder(t, env, order.ID)
	assert.Equal(t, transcode.OrderOk, stored.Status)
	assert.Equal(t, transcode.TaskOk, stored.Tasks[0].Status)

	// The output landed in the user's tree mirroring the source location.
	encodedTrips, err := env.catalogNodeByPath(owner, "/encoded/trips")
	require.NoError(t, err)
	tree, err := env.svc.LoadTree(ctx, owner, encodedTrips)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	file := tree.Children[0]
	assert.Equal(t, "clip_small.mp4", file.FileName())
	require.NotNil(t, file.Content)
	assert.Equal(t, digest(encoded), file.Content.Hash)

	got, err := os.ReadFile(env.mirror.Path(file.Path))
	require.NoError(t, err)
	assert.Equal(t, encoded, got)

	// A redelivered result is a no-op.
	require.NoError(t, env.svc.TaskDone(ctx, result))
	tree, err = env.svc.LoadTree(ctx, owner, encodedTrips)
	require.NoError(t, err)
	assert.Len(t, tree.Children, 1)
}

func TestTaskDoneRejectsUnusableOutput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("bytes"))
	order, err := env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1"}},
	})
	require.NoError(t, err)
	waitJob(t, env)

	result := mediaworker.Result{
		TaskID:     order.Tasks[0].ID,
		Success:    true,
		OutputPath: filepath.Join(t.TempDir(), "never-written.mp4"),
	}
	require.NoError(t, env.svc.TaskDone(ctx, result))

	stored := getOrder(t, env, order.ID)
	assert.Equal(t, transcode.OrderFailed, stored.Status)
	assert.Contains(t, stored.Tasks[0].Reason, "output rejected")
}

func TestTaskDoneRedeliveryRepairsLinkFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)
	svc := env.withArchive(&flakyArchive{Archive: env.archive, linkFailures: 1})

	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("source bytes"))
	order, err := svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1", OutputName: "small"}},
	})
	require.NoError(t, err)
	waitJob(t, env)

	encoded := []byte("encoded bytes")
	result := mediaworker.Result{
		TaskID:     order.Tasks[0].ID,
		Success:    true,
		OutputPath: workerOutput(t, "out.mp4", encoded),
	}
	require.Error(t, svc.TaskDone(ctx, result))

	// The failed link must keep the task non-terminal, otherwise the
	// redelivery below would hit the terminal no-op and the mirror file
	// would never appear.
	stored := getOrder(t, env, order.ID)
	assert.Equal(t, transcode.OrderProcessing, stored.Status)
	assert.Equal(t, transcode.TaskProcessing, stored.Tasks[0].Status)

	// Archiving consumed the worker's output file; the worker redelivers
	// with the same bytes in place.
	require.NoError(t, os.WriteFile(result.OutputPath, encoded, 0644))
	require.NoError(t, svc.TaskDone(ctx, result))

	stored = getOrder(t, env, order.ID)
	assert.Equal(t, transcode.OrderOk, stored.Status)

	encodedDir, err := env.catalogNodeByPath(owner, "/encoded")
	require.NoError(t, err)
	tree, err := env.svc.LoadTree(ctx, owner, encodedDir)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	file := tree.Children[0]
	assert.Equal(t, "clip_small.mp4", file.FileName())

	got, err := os.ReadFile(env.mirror.Path(file.Path))
	require.NoError(t, err)
	assert.Equal(t, encoded, got)
}

func TestOrderOkWhenAnyTaskSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("source bytes"))
	order, err := env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1"}},
		{FileID: res.FileID, Params: transcode.Params{Kind: "hevc"}},
	})
	require.NoError(t, err)
	waitJob(t, env)
	waitJob(t, env)

	require.NoError(t, env.svc.TaskDone(ctx, mediaworker.Result{
		TaskID: order.Tasks[0].ID, Success: false, Message: "no luck",
	}))
	assert.Equal(t, transcode.OrderProcessing, getOrder(t, env, order.ID).Status)

	require.NoError(t, env.svc.TaskDone(ctx, mediaworker.Result{
		TaskID:     order.Tasks[1].ID,
		Success:    true,
		OutputPath: workerOutput(t, "out.mp4", []byte("encoded")),
	}))
	assert.Equal(t, transcode.OrderOk, getOrder(t, env, order.ID).Status)
}

func TestDispatchFailureFailsTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := vfs.OwnerID(7)
	src := sourceDir(t, env, owner)

	res := uploadFile(t, env, owner, src, "clip.mp4", []byte("bytes"))
	env.worker.err = assert.AnError

	order, err := env.svc.CreateOrder(ctx, owner, []OrderInput{
		{FileID: res.FileID, Params: transcode.Params{Kind: "av1"}},
	})
	require.NoError(t, err)

	// The failure is recorded asynchronously through the callback path.
	assert.Eventually(t, func() bool {
		return getOrder(t, env, order.ID).Status == transcode.OrderFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, getOrder(t, env, order.ID).Tasks[0].Reason, "dispatch failed")
}
