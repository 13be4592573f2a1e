package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/vfs"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	area, err := NewArea(t.TempDir())
	require.NoError(t, err)
	return area
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestStoreSliceAndList(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))

	require.NoError(t, area.StoreSlice(ctx, 1, 2, strings.NewReader("c")))
	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("a")))
	require.NoError(t, area.StoreSlice(ctx, 1, 1, strings.NewReader("b")))

	indexes, err := area.SliceIndexes(1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, indexes)
}

func TestStoreSliceLastWriteWins(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))

	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("first")))
	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("second")))

	indexes, err := area.SliceIndexes(1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, indexes)

	merged, size, err := area.Merge(ctx, 1, indexes, sha256Hex("second"))
	require.NoError(t, err)
	defer os.Remove(merged)
	assert.Equal(t, uint64(len("second")), size)
}

func TestMergeOrdersSlices(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))

	require.NoError(t, area.StoreSlice(ctx, 1, 1, strings.NewReader("world")))
	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("hello ")))

	indexes, err := area.SliceIndexes(1)
	require.NoError(t, err)

	merged, size, err := area.Merge(ctx, 1, indexes, sha256Hex("hello world"))
	require.NoError(t, err)
	defer os.Remove(merged)

	assert.Equal(t, uint64(len("hello world")), size)
	data, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestMergeNoSlices(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))

	_, _, err := area.Merge(ctx, 1, nil, sha256Hex(""))
	assert.True(t, vfs.IsCode(err, vfs.ErrNoSlice))
}

func TestMergeMissingSlice(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))
	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("a")))

	_, _, err := area.Merge(ctx, 1, []uint32{0, 1}, sha256Hex("a"))
	assert.True(t, vfs.IsCode(err, vfs.ErrNoSlice))
}

func TestMergeHashMismatch(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))
	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("actual")))

	_, _, err := area.Merge(ctx, 1, []uint32{0}, sha256Hex("claimed"))
	assert.True(t, vfs.IsCode(err, vfs.ErrHashNotMatch))

	// Nothing but the slice is left behind.
	entries, err := os.ReadDir(area.TaskDir(1))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	area := newTestArea(t)
	require.NoError(t, area.Create(1))
	require.NoError(t, area.StoreSlice(ctx, 1, 0, strings.NewReader("a")))

	require.NoError(t, area.Remove(1))
	indexes, err := area.SliceIndexes(1)
	require.NoError(t, err)
	assert.Empty(t, indexes)

	// Removing a missing area is fine.
	require.NoError(t, area.Remove(1))
}
