// Package cache provides a byte-oriented LRU cache for immutable blob
// blocks, used by blobstore.CachingStore to avoid repeated remote reads
// when loading index snapshots.
package cache

import (
	"context"
)

// Key identifies one block of a named blob.
// Must be stable across processes.
type Key struct {
	// Name is the blob name within its store.
	Name string
	// Block is a logical block index (byte offset / block size).
	Block uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. Implementations may copy or retain; caller must
	// treat b as immutable.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
}
