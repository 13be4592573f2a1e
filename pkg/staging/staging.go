// Package staging manages the scratch space of chunked uploads. Each
// upload task owns one directory of index-named slice files which are
// merged, hash-checked and handed to the archive when the client
// finalizes.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/clipvault/clipvault/pkg/vfs"
)

// slicePrefix names slice files "part-<index>".
const slicePrefix = "part-"

// Area is the staging root. All methods are safe for concurrent use
// across distinct tasks; concurrent writes of the same slice index are
// last-write-wins, which is exactly the retry semantics clients expect.
type Area struct {
	root string
}

// NewArea creates the staging root if needed.
func NewArea(root string) (*Area, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging root %s: %w", root, err)
	}
	return &Area{root: root}, nil
}

// TaskDir returns the directory of one upload task.
func (a *Area) TaskDir(taskID int64) string {
	return filepath.Join(a.root, strconv.FormatInt(taskID, 10))
}

// Create allocates the staging directory for a new task.
func (a *Area) Create(taskID int64) error {
	if err := os.MkdirAll(a.TaskDir(taskID), 0755); err != nil {
		return fmt.Errorf("failed to create staging dir for task %d: %w", taskID, err)
	}
	return nil
}

// StoreSlice writes one slice. The write lands in a temp file and is
// renamed into place, so re-sending a slice atomically replaces the
// previous bytes and a reader never sees a torn slice.
func (a *Area) StoreSlice(ctx context.Context, taskID int64, index uint32, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := a.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to open staging dir for task %d: %w", taskID, err)
	}

	tmp, err := os.CreateTemp(dir, ".slice-*")
	if err != nil {
		return fmt.Errorf("failed to create slice temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write slice %d of task %d: %w", index, taskID, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	final := filepath.Join(dir, fmt.Sprintf("%s%d", slicePrefix, index))
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to commit slice %d of task %d: %w", index, taskID, err)
	}
	return nil
}

// SliceIndexes lists the stored slice indexes, ascending. The listing
// reads the directory rather than trusting any recorded state, so it
// reflects exactly what can be merged.
func (a *Area) SliceIndexes(taskID int64) ([]uint32, error) {
	entries, err := os.ReadDir(a.TaskDir(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list slices of task %d: %w", taskID, err)
	}

	var indexes []uint32
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, slicePrefix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(name, slicePrefix), 10, 32)
		if err != nil {
			continue
		}
		indexes = append(indexes, uint32(n))
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes, nil
}

// Merge concatenates the slices listed in indexes (which must be
// ascending) into one temp file, hashing incrementally along the way.
//
// Returns NoSlice when indexes is empty or any slice file is missing, and
// HashNotMatch when the merged digest differs from expectedHash; in both
// cases nothing is left behind. On success the merged file's path and size
// are returned and the caller owns the file.
func (a *Area) Merge(ctx context.Context, taskID int64, indexes []uint32, expectedHash string) (string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if len(indexes) == 0 {
		return "", 0, &vfs.OpError{Code: vfs.ErrNoSlice, Message: "upload has no slices"}
	}

	dir := a.TaskDir(taskID)
	merged, err := os.CreateTemp(dir, ".merged-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create merge file for task %d: %w", taskID, err)
	}
	cleanup := func() {
		merged.Close()
		os.Remove(merged.Name())
	}

	hasher := sha256.New()
	out := io.MultiWriter(merged, hasher)
	var size uint64

	for _, index := range indexes {
		if err := ctx.Err(); err != nil {
			cleanup()
			return "", 0, err
		}

		slice, err := os.Open(filepath.Join(dir, fmt.Sprintf("%s%d", slicePrefix, index)))
		if err != nil {
			cleanup()
			return "", 0, &vfs.OpError{
				Code:    vfs.ErrNoSlice,
				Message: fmt.Sprintf("slice %d of task %d is missing", index, taskID),
			}
		}
		n, err := io.Copy(out, slice)
		slice.Close()
		if err != nil {
			cleanup()
			return "", 0, fmt.Errorf("failed to merge slice %d of task %d: %w", index, taskID, err)
		}
		size += uint64(n)
	}

	if err := merged.Close(); err != nil {
		os.Remove(merged.Name())
		return "", 0, err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if digest != expectedHash {
		os.Remove(merged.Name())
		return "", 0, &vfs.OpError{
			Code:    vfs.ErrHashNotMatch,
			Message: fmt.Sprintf("merged content hashes to %s, expected %s", digest, expectedHash),
		}
	}
	return merged.Name(), size, nil
}

// Remove deletes a task's staging directory, tolerating its absence.
func (a *Area) Remove(taskID int64) error {
	if err := os.RemoveAll(a.TaskDir(taskID)); err != nil {
		return fmt.Errorf("failed to clean staging of task %d: %w", taskID, err)
	}
	return nil
}
