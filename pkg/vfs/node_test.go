package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlob() BlobRef {
	return BlobRef{
		ID:           BlobID(ids.NextID()),
		Hash:         "deadbeef",
		Size:         1024,
		ArchivedPath: "de/ad/deadbeef",
	}
}

func TestUserHome(t *testing.T) {
	home := UserHome(7)

	assert.Equal(t, "/", home.Path.String())
	assert.True(t, home.IsDir())
	require.Len(t, home.Children, 2)

	src := home.FindChild("source")
	require.NotNil(t, src)
	assert.Equal(t, "/source", src.Path.String())
	assert.Equal(t, home.ID, *src.ParentID)

	enc := home.FindChild("encoded")
	require.NotNil(t, enc)
	assert.Equal(t, "/encoded", enc.Path.String())
}

func TestCreateDirCollisionCounter(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	a, err := src.CreateDir("movies")
	require.NoError(t, err)
	assert.Equal(t, "/source/movies", a.Path.String())

	b, err := src.CreateDir("movies")
	require.NoError(t, err)
	assert.Equal(t, "/source/movies(1)", b.Path.String())

	c, err := src.CreateDir("movies")
	require.NoError(t, err)
	assert.Equal(t, "/source/movies(2)", c.Path.String())

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, b.ID, c.ID)
}

func TestCreateFileCollisionKeepsExtension(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	a, err := src.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)
	assert.Equal(t, "/source/clip.mp4", a.Path.String())
	assert.Equal(t, KindFile, a.Kind)
	require.NotNil(t, a.Content)

	b, err := src.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)
	assert.Equal(t, "/source/clip(1).mp4", b.Path.String())
}

func TestCreateUnderFile(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")
	file, err := src.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)

	_, err = file.CreateDir("sub")
	assert.True(t, IsCode(err, ErrParentNotDir))
	_, err = file.CreateFile("x.mp4", testBlob())
	assert.True(t, IsCode(err, ErrParentNotDir))
}

func TestCreateUnderRoot(t *testing.T) {
	home := UserHome(1)
	_, err := home.CreateDir("anything")
	assert.True(t, IsCode(err, ErrNotAllowed))
}

func TestMoveToRewritesSubtree(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	dirB, err := src.CreateDir("b")
	require.NoError(t, err)
	nested, err := dirA.CreateDir("nested")
	require.NoError(t, err)
	file, err := nested.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)

	require.NoError(t, dirA.MoveTo(dirB))

	assert.Equal(t, "/source/b/a", dirA.Path.String())
	assert.Equal(t, "/source/b/a/nested", nested.Path.String())
	assert.Equal(t, "/source/b/a/nested/clip.mp4", file.Path.String())
	assert.Equal(t, dirB.ID, *dirA.ParentID)
	assert.Nil(t, src.FindChild("a"))
}

func TestMoveToOwnSubtree(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	nested, err := dirA.CreateDir("nested")
	require.NoError(t, err)
	deep, err := nested.CreateDir("deep")
	require.NoError(t, err)

	err = dirA.MoveTo(deep)
	assert.True(t, IsCode(err, ErrRecursived))
	err = dirA.MoveTo(dirA)
	assert.True(t, IsCode(err, ErrRecursived))
	// Tree unchanged.
	assert.Equal(t, "/source/a/nested/deep", deep.Path.String())
}

func TestMoveToCollision(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	dirB, err := src.CreateDir("b")
	require.NoError(t, err)
	_, err = dirB.CreateDir("a")
	require.NoError(t, err)

	err = dirA.MoveTo(dirB)
	assert.True(t, IsCode(err, ErrAlreadyExist))
}

func TestMoveToFile(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	file, err := src.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)

	err = dirA.MoveTo(file)
	assert.True(t, IsCode(err, ErrParentNotDir))
}

func TestMoveFixedDir(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")
	enc := home.FindChild("encoded")

	err := src.MoveTo(enc)
	assert.True(t, IsCode(err, ErrNotAllowed))
}

func TestCopyTo(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	file, err := dirA.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)
	dirB, err := src.CreateDir("b")
	require.NoError(t, err)

	clone, err := dirA.CopyTo(dirB)
	require.NoError(t, err)

	// Original untouched.
	assert.Equal(t, "/source/a", dirA.Path.String())
	assert.Equal(t, "/source/a/clip.mp4", file.Path.String())

	// Clone carries fresh ids and shares content refs.
	assert.Equal(t, "/source/b/a", clone.Path.String())
	assert.NotEqual(t, dirA.ID, clone.ID)
	require.Len(t, clone.Children, 1)
	clonedFile := clone.Children[0]
	assert.Equal(t, "/source/b/a/clip.mp4", clonedFile.Path.String())
	assert.NotEqual(t, file.ID, clonedFile.ID)
	require.NotNil(t, clonedFile.Content)
	assert.Equal(t, file.Content.ID, clonedFile.Content.ID)
	assert.Equal(t, file.Content.Hash, clonedFile.Content.Hash)
}

func TestCopyToSameDirCollides(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)

	_, err = dirA.CopyTo(src)
	assert.True(t, IsCode(err, ErrAlreadyExist))
}

func TestRenameChild(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	file, err := dirA.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)

	require.NoError(t, src.RenameChild(dirA, "renamed"))
	assert.Equal(t, "/source/renamed", dirA.Path.String())
	assert.Equal(t, "/source/renamed/clip.mp4", file.Path.String())
}

func TestRenameChildCollision(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	_, err = src.CreateDir("b")
	require.NoError(t, err)

	err = src.RenameChild(dirA, "b")
	assert.True(t, IsCode(err, ErrAlreadyExist))

	// Renaming to its current name is a no-op.
	require.NoError(t, src.RenameChild(dirA, "a"))
	assert.Equal(t, "/source/a", dirA.Path.String())
}

func TestRenameForeignChild(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")
	enc := home.FindChild("encoded")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)

	err = enc.RenameChild(dirA, "b")
	assert.True(t, IsCode(err, ErrNotFound))
}

func TestDelete(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	file, err := dirA.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)

	require.NoError(t, dirA.Delete())

	assert.True(t, dirA.Deleted)
	assert.True(t, file.Deleted)
	assert.True(t, dirA.Path.IsDeleted())
	assert.Equal(t, dirA.Path.String()+"/clip.mp4", file.Path.String())
	assert.Nil(t, src.FindChild("a"))

	err = dirA.Delete()
	assert.True(t, IsCode(err, ErrAlreadyDeleted))
}

func TestDeleteFreesNameSlot(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	first, err := src.CreateDir("a")
	require.NoError(t, err)
	require.NoError(t, first.Delete())

	second, err := src.CreateDir("a")
	require.NoError(t, err)
	assert.Equal(t, "/source/a", second.Path.String())
	assert.NotEqual(t, first.Path.String(), second.Path.String())
}

func TestDeleteFixedDir(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")

	err := src.Delete()
	assert.True(t, IsCode(err, ErrNotAllowed))
}

func TestAllNodes(t *testing.T) {
	home := UserHome(1)
	src := home.FindChild("source")
	dirA, err := src.CreateDir("a")
	require.NoError(t, err)
	_, err = dirA.CreateFile("clip.mp4", testBlob())
	require.NoError(t, err)

	all := home.AllNodes()
	assert.Len(t, all, 5)
	assert.Equal(t, home, all[0])
}
