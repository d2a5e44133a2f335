// Package testutil provides testing utilities for embedspace.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors and labeled
// embedding records with a deterministic seed.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(100, 128)   // uniform [0, 1)
//	unit := rng.UnitVectors(100, 128)      // on the hypersphere
//
// # Labeled Records
//
//	centroids := rng.ClassCentroids([]string{"cat", "dog"}, 64)
//	training := rng.RecordsAround("prod", model.DatasetTraining, centroids, 50, 0.05)
//	targets := rng.RecordsAround("prod", model.DatasetInference, centroids, 20, 0.05)
//
// Sharing one centroid map across partitions keeps the inference rows
// inside the training distribution of their class.
package testutil
