// Package blobstore provides storage abstraction for embedspace's immutable
// artifacts, most prominently index snapshots.
//
// BlobStore is the interface for reading and writing data blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: In-memory store for tests
//   - LocalStore: Local filesystem with atomic writes
//   - CachingStore: Block-level read cache over another store
//   - s3.Store: Amazon S3 with range reads and parallel uploads
//   - minio.Store: S3-compatible object storage via the MinIO client
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Create(ctx, name) (WritableBlob, error)  // Create for writing
//	    Put(ctx, name, data) error               // Atomic write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
