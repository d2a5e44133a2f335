package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/embedspace/model"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// GaussianVectors generates random vectors with values from a standard
// normal distribution.
func (r *RNG) GaussianVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVector generates a single L2-normalized random vector. Drawing the
// components from a Gaussian makes the direction uniform on the sphere.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitVectorLocked(dimensions)
}

// unitVectorLocked is the internal implementation (caller must hold lock).
func (r *RNG) unitVectorLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		norm = 1
	}

	invNorm := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= invNorm
	}
	return vec
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vectors[i] = r.unitVectorLocked(dimensions)
	}

	return vectors
}

// ClusteredVectors generates vectors clustered around random unit
// centroids. Useful for testing index and scoring behavior on
// non-uniform data.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		centroid := centroids[i%clusters]
		vec := data[i*dim : (i+1)*dim]

		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// ClassCentroids draws one unit-vector centroid per label. Reusing the
// same centroid map across partitions keeps inference points inside the
// training distribution of their class.
func (r *RNG) ClassCentroids(labels []string, dim int) map[string][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	centroids := make(map[string][]float32, len(labels))
	for _, label := range labels {
		centroids[label] = r.unitVectorLocked(dim)
	}
	return centroids
}

// Confidences builds a confidence map over labels that peaks at the
// predicted label and sums to one.
func (r *RNG) Confidences(labels []string, predicted string) map[string]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]float32, len(labels))
	var sum float32
	for _, label := range labels {
		c := r.rand.Float32() * 0.5
		if label == predicted {
			c += 1.0
		}
		out[label] = c
		sum += c
	}
	for label := range out {
		out[label] /= sum
	}
	return out
}

// RecordsAround generates perClass records for every centroid label,
// clustered by Gaussian noise of the given spread. Training rows carry
// the label as ground truth; other partitions carry it as the predicted
// class with the ground truth left empty. UUIDs are left blank for the
// store to assign. Output is ordered by label, then index.
func (r *RNG) RecordsAround(namespace string, dataset model.DatasetLabel, centroids map[string][]float32, perClass int, spread float32) []model.EmbeddingRecord {
	labels := make([]string, 0, len(centroids))
	for label := range centroids {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]model.EmbeddingRecord, 0, len(labels)*perClass)
	for _, label := range labels {
		centroid := centroids[label]
		dim := len(centroid)

		for i := 0; i < perClass; i++ {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
			}

			rec := model.EmbeddingRecord{
				Namespace:      namespace,
				Vector:         vec,
				InferenceClass: label,
				DatasetLabel:   dataset,
			}
			if dataset == model.DatasetTraining {
				rec.GroundTruthLabel = label
			}
			records = append(records, rec)
		}
	}

	return records
}

// Vec is shorthand for building a float32 vector from literals.
func Vec(values ...float32) []float32 {
	return values
}

// SeqUUIDs returns n distinct placeholder ids with a common prefix,
// for tests that bypass the store's id assignment.
func SeqUUIDs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%03d", prefix, i)
	}
	return out
}
