package blob

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/vfs"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "ab/abcdef", ArchiveKey("abcdef"))
	assert.Equal(t, "a", ArchiveKey("a"))
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/data")

	assert.Equal(t, filepath.Join("/data", "archive"), l.ArchiveRoot())
	assert.Equal(t, filepath.Join("/data", "staging"), l.StagingRoot())
	assert.Equal(t, filepath.Join("/data", "mirror", "7"), l.MirrorRoot(7))
}

func TestLayoutMirrorPath(t *testing.T) {
	l := NewLayout("/data")

	vp, err := vfs.Build(7, "/source/a/b.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "mirror", "7", "source", "a", "b.mp4"), l.MirrorPath(vp))

	assert.Equal(t, filepath.Join("/data", "mirror", "7", "source"), l.MirrorPath(vfs.SourceDir(7)))
}
