// Package model defines core types used throughout embedspace.
//
// # Record Types
//
//   - EmbeddingRecord: Embedding vector with labels, confidences, and derived metadata
//   - DerivedMetadata: Values computed by background analysis (drift score, generation)
//   - DatasetLabel: Partition of a record (training, inference, validation, unlabeled)
//
// # Derived Artifact Types
//
//   - ClassStatistic: Per-class mean and inverse covariance from a scoring run
//   - ProjectionPoint: 2-D coordinates of a record from a projection run
//
// # Selection Types
//
//   - Neighbor: Query result carrying the authoritative record and its distance
//   - SampleSelection: One record chosen by an active-learning strategy
//   - Strategy: Active-learning sampling strategy identifier
package model
