package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/embedspace/cache"
)

// Compile time check to ensure CachingStore satisfies the BlobStore interface.
var _ BlobStore = (*CachingStore)(nil)

// CachingStore wraps a BlobStore and adds block-level read caching.
// It pays off for remote backends (S3, MinIO) where snapshot loads would
// otherwise re-read the same ranges.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to 64KB if <= 0.
func NewCachingStore(inner BlobStore, blockCache cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = 64 * 1024
	}
	return &CachingStore{
		inner:     inner,
		cache:     blockCache,
		blockSize: blockSize,
	}
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create passes through; only reads are cached. Blobs are immutable, so a
// fresh name cannot collide with cached blocks.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

// Put writes through and drops any cached blocks of the overwritten blob.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete removes the blob and its cached blocks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through to the inner store.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Name == name
	})
}

// cachingBlob wraps a Blob and serves reads from the block cache.
type cachingBlob struct {
	inner     Blob
	cache     cache.BlockCache
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error {
	return b.inner.Close()
}

func (b *cachingBlob) Size() int64 {
	return b.inner.Size()
}

func (b *cachingBlob) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= b.Size() {
		return 0, io.EOF
	}

	ctx := context.Background()

	startBlock := off / b.blockSize
	endBlock := (off + int64(len(p)) - 1) / b.blockSize

	// Fetch contiguous runs of missing blocks with single backend reads so
	// a cold cache costs one range request, not one per block.
	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	totalRead := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize

		intersectStart := max(blkStart, off)
		intersectEnd := min(blkStart+b.blockSize, off+int64(len(p)))
		if intersectEnd <= intersectStart {
			continue
		}

		blockData, ok := b.cache.Get(ctx, cache.Key{Name: b.name, Block: uint64(blk)})
		if !ok {
			// Blob ends inside this block range.
			break
		}

		srcOffset := intersectStart - blkStart
		copySize := intersectEnd - intersectStart
		if srcOffset+copySize > int64(len(blockData)) {
			copySize = int64(len(blockData)) - srcOffset
		}
		if copySize <= 0 {
			break
		}

		dstOffset := intersectStart - off
		totalRead += copy(p[dstOffset:dstOffset+copySize], blockData[srcOffset:srcOffset+copySize])
	}

	if totalRead < len(p) {
		return totalRead, io.EOF
	}
	return totalRead, nil
}

func (b *cachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	type run struct {
		start, count int64
	}

	var (
		missing  []run
		runStart = int64(-1)
		runCount int64
	)

	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := b.cache.Get(ctx, cache.Key{Name: b.name, Block: uint64(blk)}); ok {
			if runStart != -1 {
				missing = append(missing, run{runStart, runCount})
				runStart, runCount = -1, 0
			}
			continue
		}
		if runStart == -1 {
			runStart = blk
			runCount = 1
		} else {
			runCount++
		}
	}
	if runStart != -1 {
		missing = append(missing, run{runStart, runCount})
	}

	fileSize := b.Size()

	for _, r := range missing {
		byteStart := r.start * b.blockSize
		if byteStart >= fileSize {
			continue
		}

		byteSize := r.count * b.blockSize
		if byteStart+byteSize > fileSize {
			byteSize = fileSize - byteStart
		}

		buf := make([]byte, byteSize)
		n, err := b.inner.ReadAt(buf, byteStart)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			continue
		}

		valid := buf[:n]
		for i := int64(0); i < r.count; i++ {
			offsetInRun := i * b.blockSize
			if offsetInRun >= int64(len(valid)) {
				break
			}

			endInRun := min(offsetInRun+b.blockSize, int64(len(valid)))

			// Copy so the cache entry does not pin the whole run buffer.
			blockCopy := make([]byte, endInRun-offsetInRun)
			copy(blockCopy, valid[offsetInRun:endInRun])

			b.cache.Set(ctx, cache.Key{Name: b.name, Block: uint64(r.start + i)}, blockCopy)
		}
	}

	return nil
}
