package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()

	// 1. Create a blob
	blobName := "data-001.bin"
	data := []byte("hello world, this is a test blob for embedspace")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	err = w.Close()
	require.NoError(t, err)

	// Verify file exists on disk
	expectedPath := filepath.Join(tmpDir, blobName)
	_, err = os.Stat(expectedPath)
	require.NoError(t, err)

	// 2. Open and ReadAt
	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(buf, 6) // "world"
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	// 3. List
	// Create another file to test listing
	blobName2 := "data-002.bin"
	w2, err := store.Create(ctx, blobName2)
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	blobs, err := store.List(ctx, "")
	require.NoError(t, err)

	// Sort for deterministic assertion
	names := append([]string(nil), blobs...)
	sort.Strings(names)

	require.Equal(t, []string{blobName, blobName2}, names)

	// 4. Delete
	err = store.Delete(ctx, blobName)
	require.NoError(t, err)

	// Deleting again is fine
	require.NoError(t, store.Delete(ctx, blobName))

	// Verify deletion
	blobsAfter, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{blobName2}, blobsAfter)

	_, err = store.Open(ctx, blobName)
	require.Error(t, err) // Should fail now
}

func TestLocalBlobStore_AbortLeavesNothing(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()

	w, err := store.Create(ctx, "doomed.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("half written"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	blobs, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, blobs)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp files must not survive an abort")
}

func TestLocalBlobStore_NestedNames(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ns-a/snapshots/0001.esx", []byte("a")))
	require.NoError(t, store.Put(ctx, "ns-b/snapshots/0001.esx", []byte("b")))

	onlyA, err := store.List(ctx, "ns-a/")
	require.NoError(t, err)
	require.Equal(t, []string{"ns-a/snapshots/0001.esx"}, onlyA)

	data, err := ReadAll(ctx, store, "ns-b/snapshots/0001.esx")
	require.NoError(t, err)
	require.Equal(t, []byte("b"), data)
}
