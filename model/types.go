package model

import (
	"time"
)

// DatasetLabel partitions records of a namespace into the roles they play
// during analysis.
type DatasetLabel string

const (
	DatasetTraining   DatasetLabel = "training"
	DatasetInference  DatasetLabel = "inference"
	DatasetValidation DatasetLabel = "validation"
	DatasetUnlabeled  DatasetLabel = "unlabeled"
)

// Valid reports whether l is one of the known dataset labels.
func (l DatasetLabel) Valid() bool {
	switch l {
	case DatasetTraining, DatasetInference, DatasetValidation, DatasetUnlabeled:
		return true
	}
	return false
}

// Strategy identifies an active-learning sampling strategy.
type Strategy string

const (
	// StrategyActivationUncertainty ranks records by lowest maximum class
	// confidence first.
	StrategyActivationUncertainty Strategy = "activation_uncertainty"
	// StrategyBoundaryUncertainty ranks records by smallest margin between
	// the top two class confidences first.
	StrategyBoundaryUncertainty Strategy = "boundary_uncertainty"
	// StrategyClusterOutlier ranks records by highest drift score within
	// their own predicted class first.
	StrategyClusterOutlier Strategy = "representative_cluster_outlier"
	// StrategyRandom selects uniformly at random from the eligible set.
	StrategyRandom Strategy = "random"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyActivationUncertainty, StrategyBoundaryUncertainty, StrategyClusterOutlier, StrategyRandom:
		return true
	}
	return false
}

// DerivedMetadata holds values computed by background analysis rather than
// supplied at ingest. Runs recompute and overwrite; Generation identifies
// the run that produced the values.
type DerivedMetadata struct {
	// DistanceScore is the Mahalanobis drift distance of the record to the
	// training distribution of its predicted class. Nil until a scoring
	// run has covered the record.
	DistanceScore *float32
	// Generation is the version stamp of the run that wrote DistanceScore.
	Generation uint64
}

// EmbeddingRecord is a single embedding with its labels and metadata.
// UUID is assigned by the store on add; it is empty on input records.
type EmbeddingRecord struct {
	UUID      string
	Namespace string
	Vector    []float32
	// SourceURI points at the raw input the embedding was computed from,
	// typically an object-store or file path. Optional.
	SourceURI string

	// InferenceClass is the class the model predicted for this record.
	InferenceClass string
	// GroundTruthLabel is the known class, empty when unlabeled.
	GroundTruthLabel string
	// DatasetLabel is the partition the record belongs to.
	DatasetLabel DatasetLabel
	// Confidences maps class name to predicted confidence. Required by the
	// uncertainty sampling strategies; may be nil otherwise.
	Confidences map[string]float32

	Derived   DerivedMetadata
	CreatedAt time.Time
}

// Clone returns a deep copy of the record. Stores hand out clones so callers
// cannot mutate shared state.
func (r EmbeddingRecord) Clone() EmbeddingRecord {
	out := r
	if r.Vector != nil {
		out.Vector = make([]float32, len(r.Vector))
		copy(out.Vector, r.Vector)
	}
	if r.Confidences != nil {
		out.Confidences = make(map[string]float32, len(r.Confidences))
		for k, v := range r.Confidences {
			out.Confidences[k] = v
		}
	}
	if r.Derived.DistanceScore != nil {
		score := *r.Derived.DistanceScore
		out.Derived.DistanceScore = &score
	}
	return out
}

// Neighbor is a single query result: the authoritative record re-fetched
// from the store plus its distance to the query vector.
type Neighbor struct {
	Record   EmbeddingRecord
	Distance float32
}

// ClassStatistic is the per-class output of a drift scoring run.
type ClassStatistic struct {
	Namespace string
	Label     string
	// Mean is the class mean vector.
	Mean []float64
	// InvCov is the inverse covariance matrix, row-major Dim x Dim.
	InvCov []float64
	Dim    int
	// SampleCount is the number of training records the statistic was
	// computed from.
	SampleCount int
	Generation  uint64
}

// ProjectionPoint is the 2-D coordinate of a record from a projection run.
// Points are written per run and superseded wholesale by the next run.
type ProjectionPoint struct {
	UUID      string
	Namespace string
	X         float32
	Y         float32
	// Label is the predicted class of the projected record, carried so
	// plots can color points without a store join.
	Label      string
	Generation uint64
}

// SampleSelection is one record chosen by the active-learning sampler.
// Rank is the 0-based position within the strategy's own ordering.
type SampleSelection struct {
	UUID     string
	Strategy Strategy
	Rank     int
}
