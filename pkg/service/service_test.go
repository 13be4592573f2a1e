package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/workpool"
	"github.com/clipvault/clipvault/pkg/blob"
	blobfs "github.com/clipvault/clipvault/pkg/blob/fs"
	"github.com/clipvault/clipvault/pkg/catalog"
	catalogmemory "github.com/clipvault/clipvault/pkg/catalog/memory"
	"github.com/clipvault/clipvault/pkg/mediaworker"
	"github.com/clipvault/clipvault/pkg/staging"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// testEnv wires a Service onto a memory catalog, a filesystem archive and
// a real mirror under a temp dir, with a stub worker capturing jobs.
type testEnv struct {
	svc     *Service
	catalog catalog.Catalog
	layout  blob.Layout
	archive blob.Archive
	mirror  blob.Mirror
	area    *staging.Area
	worker  *stubDispatcher
	probes  chan vfs.NodeID
}

type stubDispatcher struct {
	jobs chan mediaworker.Job
	err  error
}

func (d *stubDispatcher) Submit(_ context.Context, job mediaworker.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs <- job
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	layout := blob.NewLayout(t.TempDir())
	archive, err := blobfs.NewArchive(layout.ArchiveRoot())
	require.NoError(t, err)
	area, err := staging.NewArea(layout.StagingRoot())
	require.NoError(t, err)

	env := &testEnv{
		catalog: catalogmemory.NewStore(),
		layout:  layout,
		archive: archive,
		mirror:  blob.NewMirror(layout),
		area:    area,
		worker:  &stubDispatcher{jobs: make(chan mediaworker.Job, 16)},
		probes:  make(chan vfs.NodeID, 16),
	}
	env.svc = New(Deps{
		Catalog: env.catalog,
		Archive: archive,
		Mirror:  env.mirror,
		Staging: area,
		Worker:  env.worker,
		Pool:    workpool.New(2),
		Metadata: func(_ context.Context, fileID vfs.NodeID, _ string) error {
			env.probes <- fileID
			return nil
		},
	})
	return env
}

// withArchive builds a second Service sharing the env's catalog, mirror
// and staging area but talking to a different archive.
func (e *testEnv) withArchive(archive blob.Archive) *Service {
	return New(Deps{
		Catalog: e.catalog,
		Archive: archive,
		Mirror:  e.mirror,
		Staging: e.area,
		Worker:  e.worker,
		Pool:    workpool.New(2),
	})
}

// flakyArchive delegates to a real archive but refuses the first
// linkFailures LinkInto calls.
type flakyArchive struct {
	blob.Archive
	linkFailures int
}

func (a *flakyArchive) LinkInto(ctx context.Context, hash, dst string) error {
	if a.linkFailures > 0 {
		a.linkFailures--
		return errors.New("link refused")
	}
	return a.Archive.LinkInto(ctx, hash, dst)
}

// catalogNodeByPath resolves a path straight through the catalog.
func (e *testEnv) catalogNodeByPath(owner vfs.OwnerID, path string) (vfs.NodeID, error) {
	var id vfs.NodeID
	err := e.catalog.View(context.Background(), func(tx catalog.Tx) error {
		row, err := tx.NodeByPath(owner, path)
		if err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	return id, err
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// uploadFile drives the whole chunked-upload pipeline for a single-slice
// payload and returns the finalize result.
func uploadFile(t *testing.T, env *testEnv, owner vfs.OwnerID, parentID vfs.NodeID, name string, data []byte) FinalizeResult {
	t.Helper()
	ctx := context.Background()

	reg, err := env.svc.RegisterUpload(ctx, owner, parentID, name, digest(data))
	require.NoError(t, err)
	if !reg.HashExists {
		require.NoError(t, env.svc.StoreSlice(ctx, owner, reg.TaskID, 0, bytes.NewReader(data)))
	}

	res, err := env.svc.FinalizeUpload(ctx, owner, reg.TaskID)
	require.NoError(t, err)
	return res
}

// sourceDir loads the user's home and returns the /source directory id.
func sourceDir(t *testing.T, env *testEnv, owner vfs.OwnerID) vfs.NodeID {
	t.Helper()
	home, err := env.svc.LoadHome(context.Background(), owner)
	require.NoError(t, err)
	src := home.FindChild("source")
	require.NotNil(t, src)
	return src.ID
}

func TestSplitExt(t *testing.T) {
	cases := []struct {
		name, stem, ext string
	}{
		{"clip.mp4", "clip", "mp4"},
		{"clip", "clip", ""},
		{".config", ".config", ""},
		{"a.tar.gz", "a.tar", "gz"},
	}
	for _, c := range cases {
		stem, ext := splitExt(c.name)
		require.Equal(t, c.stem, stem, c.name)
		require.Equal(t, c.ext, ext, c.name)
	}
}
