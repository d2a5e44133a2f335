// Package artifact stores what analysis runs derive from embeddings:
// per-class statistics (mean and inverse covariance for Mahalanobis
// scoring), 2-D projection points, and the generation counter that stamps
// each run's output.
//
// Artifacts are small compared to the embeddings themselves, so the store
// favors simplicity over throughput. Memory keeps everything in maps;
// badgerstore persists across restarts.
package artifact
