// Package drift scores embeddings against per-class training
// distributions. Statistics (mean, covariance) are computed from the
// training partition grouped by ground-truth label; target records are
// scored with the Mahalanobis distance to the distribution of their
// predicted class.
package drift

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

// SingularCovarianceError reports a class whose covariance matrix could
// not be inverted, usually because the class has fewer informative
// samples than embedding dimensions. It is fatal for that class only;
// the run continues with the remaining classes.
type SingularCovarianceError struct {
	Label   string
	Samples int
	Dim     int
}

// Error returns the error message for a singular class covariance.
func (e *SingularCovarianceError) Error() string {
	return fmt.Sprintf("drift: covariance for class %q is singular (%d samples, %d dims)", e.Label, e.Samples, e.Dim)
}

// SkipReason says why a target class went unscored.
type SkipReason string

const (
	// SkipReasonUnseen marks classes never seen in the training partition.
	SkipReasonUnseen SkipReason = "unseen_in_training"
	// SkipReasonSingular marks classes whose covariance was singular.
	SkipReasonSingular SkipReason = "singular_covariance"
	// SkipReasonDimensionMismatch marks target records whose vector length
	// does not match the class statistic.
	SkipReasonDimensionMismatch SkipReason = "dimension_mismatch"
)

// SkippedClass counts target records left unscored, grouped by predicted
// label.
type SkippedClass struct {
	Label  string
	Count  int
	Reason SkipReason
}

// Request selects the partitions of one namespace to score.
type Request struct {
	Namespace string

	// TrainingWhere selects the rows statistics are computed from. The
	// zero value defaults to the training dataset partition.
	TrainingWhere store.Where

	// TargetWhere selects the rows to score. The zero value defaults to
	// the inference dataset partition.
	TargetWhere store.Where

	// Generation stamps the scores and statistics written by this run.
	Generation uint64
}

// Result summarizes one scoring run.
type Result struct {
	Namespace  string
	Generation uint64

	// Scored is the number of target records that received a distance.
	Scored int

	// Classes are the statistics computed this run, sorted by label.
	Classes []model.ClassStatistic

	// Singular lists classes whose covariance could not be inverted.
	Singular []SingularCovarianceError

	// Skipped counts target records left unscored, sorted by label.
	Skipped []SkippedClass
}

// Options for the scorer.
type Options struct {
	// Parallelism bounds concurrent per-class statistic computation.
	Parallelism int
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Parallelism: runtime.GOMAXPROCS(0),
}

// Scorer computes class statistics and Mahalanobis drift scores.
// Scoring is recompute-and-overwrite: rerunning with unchanged data
// yields identical scores, so retries are safe.
type Scorer struct {
	opts      Options
	store     store.Store
	artifacts artifact.Store
}

// NewScorer creates a scorer. The artifact store receives the per-class
// statistics of each run; it may be nil, which skips that persistence.
func NewScorer(s store.Store, artifacts artifact.Store, optFns ...func(o *Options)) (*Scorer, error) {
	if s == nil {
		return nil, errors.New("drift: store must not be nil")
	}

	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultOptions.Parallelism
	}

	return &Scorer{
		opts:      opts,
		store:     s,
		artifacts: artifacts,
	}, nil
}

// classStat is the in-memory form of one class distribution.
type classStat struct {
	label   string
	dim     int
	samples int
	mean    []float64
	chol    *mat.Cholesky
	invCov  []float64 // row-major dim x dim
}

// Score runs one scoring pass over the namespace.
func (s *Scorer) Score(ctx context.Context, req Request) (*Result, error) {
	trainingWhere := req.TrainingWhere
	if trainingWhere.IsZero() {
		trainingWhere.DatasetLabel = model.DatasetTraining
	}

	targetWhere := req.TargetWhere
	if targetWhere.IsZero() {
		targetWhere.DatasetLabel = model.DatasetInference
	}

	training, err := s.store.Fetch(ctx, req.Namespace, trainingWhere, 0)
	if err != nil {
		return nil, fmt.Errorf("drift: fetch training rows: %w", err)
	}

	// Partition by ground-truth label. Unlabeled rows carry no class and
	// contribute to no statistic.
	byLabel := make(map[string][]model.EmbeddingRecord)
	for _, rec := range training {
		if rec.GroundTruthLabel == "" {
			continue
		}
		byLabel[rec.GroundTruthLabel] = append(byLabel[rec.GroundTruthLabel], rec)
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	// One slot per label keeps the output order deterministic regardless
	// of which goroutine finishes first.
	stats := make([]*classStat, len(labels))
	singular := make([]*SingularCovarianceError, len(labels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)

	for i, label := range labels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			st, err := computeClassStat(label, byLabel[label])

			var singularErr *SingularCovarianceError
			if errors.As(err, &singularErr) {
				singular[i] = singularErr
				return nil
			}
			if err != nil {
				return err
			}

			stats[i] = st
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	statByLabel := make(map[string]*classStat, len(stats))
	singularLabels := make(map[string]bool, len(singular))
	for _, st := range stats {
		if st != nil {
			statByLabel[st.label] = st
		}
	}
	for _, se := range singular {
		if se != nil {
			singularLabels[se.Label] = true
		}
	}

	targets, err := s.store.Fetch(ctx, req.Namespace, targetWhere, 0)
	if err != nil {
		return nil, fmt.Errorf("drift: fetch target rows: %w", err)
	}

	derived := make(map[string]model.DerivedMetadata, len(targets))
	skipped := make(map[string]*SkippedClass)

	skip := func(label string, reason SkipReason) {
		sc, ok := skipped[label]
		if !ok {
			sc = &SkippedClass{Label: label, Reason: reason}
			skipped[label] = sc
		}
		sc.Count++
	}

	for _, rec := range targets {
		label := rec.InferenceClass

		st, ok := statByLabel[label]
		if !ok {
			reason := SkipReasonUnseen
			if singularLabels[label] {
				reason = SkipReasonSingular
			}
			skip(label, reason)
			continue
		}

		if len(rec.Vector) != st.dim {
			skip(label, SkipReasonDimensionMismatch)
			continue
		}

		x := mat.NewVecDense(st.dim, vecTo64(rec.Vector))
		mu := mat.NewVecDense(st.dim, st.mean)

		score := float32(stat.Mahalanobis(x, mu, st.chol))
		derived[rec.UUID] = model.DerivedMetadata{
			DistanceScore: &score,
			Generation:    req.Generation,
		}
	}

	if len(derived) > 0 {
		if err := s.store.UpdateDerived(ctx, req.Namespace, derived); err != nil {
			return nil, fmt.Errorf("drift: persist scores: %w", err)
		}
	}

	classStats := make([]model.ClassStatistic, 0, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		classStats = append(classStats, model.ClassStatistic{
			Namespace:   req.Namespace,
			Label:       st.label,
			Mean:        st.mean,
			InvCov:      st.invCov,
			Dim:         st.dim,
			SampleCount: st.samples,
			Generation:  req.Generation,
		})
	}

	if len(classStats) > 0 && s.artifacts != nil {
		if err := s.artifacts.PutClassStats(ctx, req.Namespace, classStats); err != nil {
			return nil, fmt.Errorf("drift: persist class statistics: %w", err)
		}
	}

	res := &Result{
		Namespace:  req.Namespace,
		Generation: req.Generation,
		Scored:     len(derived),
		Classes:    classStats,
	}

	for _, se := range singular {
		if se != nil {
			res.Singular = append(res.Singular, *se)
		}
	}

	for _, sc := range skipped {
		res.Skipped = append(res.Skipped, *sc)
	}
	sort.Slice(res.Skipped, func(i, j int) bool {
		return res.Skipped[i].Label < res.Skipped[j].Label
	})

	return res, nil
}

// computeClassStat builds the distribution of one class from its
// training records.
func computeClassStat(label string, records []model.EmbeddingRecord) (*classStat, error) {
	n := len(records)
	dim := len(records[0].Vector)

	if dim == 0 {
		return nil, fmt.Errorf("drift: class %q has empty vectors", label)
	}

	// A sample covariance over n rows has rank at most n-1, so n <= dim
	// can never be invertible.
	if n <= dim {
		return nil, &SingularCovarianceError{Label: label, Samples: n, Dim: dim}
	}

	data := make([]float64, 0, n*dim)
	mean := make([]float64, dim)

	for _, rec := range records {
		if len(rec.Vector) != dim {
			return nil, fmt.Errorf("drift: class %q mixes vector dimensions (%d and %d)", label, dim, len(rec.Vector))
		}
		for j, v := range rec.Vector {
			f := float64(v)
			data = append(data, f)
			mean[j] += f
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(n, dim, data), nil)

	chol := &mat.Cholesky{}
	if ok := chol.Factorize(&cov); !ok {
		return nil, &SingularCovarianceError{Label: label, Samples: n, Dim: dim}
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, &SingularCovarianceError{Label: label, Samples: n, Dim: dim}
	}

	invCov := make([]float64, 0, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			invCov = append(invCov, inv.At(i, j))
		}
	}

	return &classStat{
		label:   label,
		dim:     dim,
		samples: n,
		mean:    mean,
		chol:    chol,
		invCov:  invCov,
	}, nil
}

func vecTo64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
