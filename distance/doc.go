// Package distance provides float32 vector distance calculations.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricEuclidean: Euclidean distance
//   - MetricCosine: Cosine similarity (normalized dot product)
//   - MetricDot: Dot product (inner product)
//
// # Usage
//
//	dist := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
//	normalized, ok := distance.NormalizeL2Copy(vec)
package distance
