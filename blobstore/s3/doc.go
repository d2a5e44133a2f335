// Package s3 provides an S3 implementation of the blobstore.BlobStore
// interface plus a DynamoDB-backed generation store for cross-process
// coordination.
//
// # Usage
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(s3sdk.NewFromConfig(cfg), "my-bucket", "embeddings/prod/")
//
// The blob store is used for index snapshots: range reads for partial
// fetches, multipart uploads for large segments, automatic pagination for
// listing, and a configurable prefix for multi-tenant isolation.
// PutIfNotExists adds a conditional write so snapshot generations are
// write-once.
//
// GenerationStore assigns and commits monotonically increasing generation
// numbers per namespace using DynamoDB conditional writes, since plain S3
// cannot compare-and-swap.
package s3
