// Package projection reduces namespace embeddings to two dimensions
// for visualization. The default reducer is PCA; external reduction
// services plug in through the Reducer interface. Each run replaces the
// previous run's points wholesale, so retried runs are idempotent.
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

// Reducer maps embedding vectors to 2-D coordinates.
type Reducer interface {
	// Reduce returns one coordinate per input vector, preserving input
	// order. Implementations must be deterministic for identical input.
	Reduce(ctx context.Context, vectors [][]float32) ([][2]float32, error)

	// Name identifies the reduction method in results and logs.
	Name() string
}

// Request selects the rows of one namespace to project.
type Request struct {
	Namespace string

	// Where selects the rows to project. The zero value defaults to the
	// inference dataset partition, matching the drift scorer's target
	// default.
	Where store.Where

	// Generation stamps the points written by this run.
	Generation uint64
}

// Result summarizes one projection run.
type Result struct {
	Namespace  string
	Generation uint64

	// Points is the number of coordinates written.
	Points int

	// Reducer is the name of the reduction method used.
	Reducer string
}

// Options for the runner.
type Options struct {
	// Reducer maps vectors to 2-D coordinates.
	Reducer Reducer
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Reducer: PCA{},
}

// Runner projects one namespace partition per run and persists the
// coordinates to the artifact store.
type Runner struct {
	opts      Options
	store     store.Store
	artifacts artifact.Store
}

// NewRunner creates a runner writing to the given artifact store.
func NewRunner(s store.Store, artifacts artifact.Store, optFns ...func(o *Options)) (*Runner, error) {
	if s == nil {
		return nil, errors.New("projection: store must not be nil")
	}
	if artifacts == nil {
		return nil, errors.New("projection: artifact store must not be nil")
	}

	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Reducer == nil {
		opts.Reducer = DefaultOptions.Reducer
	}

	return &Runner{
		opts:      opts,
		store:     s,
		artifacts: artifacts,
	}, nil
}

// Run projects the selected rows and replaces the previous run's
// points. An empty selection supersedes the projection with an empty
// point set rather than keeping stale coordinates.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	where := req.Where
	if where.IsZero() {
		where.DatasetLabel = model.DatasetInference
	}

	rows, err := r.store.Fetch(ctx, req.Namespace, where, 0)
	if err != nil {
		return nil, fmt.Errorf("projection: fetch rows: %w", err)
	}

	vectors := make([][]float32, len(rows))
	for i, rec := range rows {
		vectors[i] = rec.Vector
	}

	coords, err := r.opts.Reducer.Reduce(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("projection: reduce with %s: %w", r.opts.Reducer.Name(), err)
	}
	if len(coords) != len(rows) {
		return nil, fmt.Errorf("projection: reducer %s returned %d points for %d vectors", r.opts.Reducer.Name(), len(coords), len(rows))
	}

	points := make([]model.ProjectionPoint, len(rows))
	for i, rec := range rows {
		points[i] = model.ProjectionPoint{
			UUID:       rec.UUID,
			Namespace:  req.Namespace,
			X:          coords[i][0],
			Y:          coords[i][1],
			Label:      rec.InferenceClass,
			Generation: req.Generation,
		}
	}

	if err := r.artifacts.PutProjection(ctx, req.Namespace, points); err != nil {
		return nil, fmt.Errorf("projection: persist points: %w", err)
	}

	return &Result{
		Namespace:  req.Namespace,
		Generation: req.Generation,
		Points:     len(points),
		Reducer:    r.opts.Reducer.Name(),
	}, nil
}
