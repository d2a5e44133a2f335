package embedspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/drift"
	"github.com/hupe1980/embedspace/engine"
	"github.com/hupe1980/embedspace/guard"
	"github.com/hupe1980/embedspace/index"
	"github.com/hupe1980/embedspace/jobs"
	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/projection"
	"github.com/hupe1980/embedspace/sampler"
	"github.com/hupe1980/embedspace/store"
)

// AddRequest carries the columns of one add call. Single-entry columns
// broadcast to every record; see engine.AddRequest for the full rule.
type AddRequest = engine.AddRequest

// QueryRequest describes one nearest-neighbor query.
type QueryRequest = engine.QueryRequest

// EmbedSpace coordinates a metadata store, an ANN index and the derived
// artifacts (drift statistics, projections) of one deployment. All methods
// are safe for concurrent use.
type EmbedSpace struct {
	store     store.Store
	index     index.Index
	artifacts artifact.Store

	coordinator *engine.Coordinator
	scorer      *drift.Scorer
	projector   *projection.Runner
	sampler     *sampler.Sampler
	jobs        *jobs.Runner
	guard       guard.Guard

	metrics MetricsCollector
	logger  *Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates an EmbedSpace over the given metadata store and ANN index.
// Without WithArtifactStore, derived artifacts live in memory. The
// EmbedSpace owns all three backends and closes them on Close.
func New(s store.Store, idx index.Index, optFns ...Option) (*EmbedSpace, error) {
	if s == nil {
		return nil, errors.New("embedspace: store must not be nil")
	}

	if idx == nil {
		return nil, errors.New("embedspace: index must not be nil")
	}

	o := applyOptions(optFns)

	artifacts := o.artifacts
	if artifacts == nil {
		artifacts = artifact.NewMemory()
	}

	coordinator, err := engine.New(s, idx, artifacts, func(eo *engine.Options) {
		eo.Limits = o.limits
	})
	if err != nil {
		return nil, err
	}

	scorer, err := drift.NewScorer(s, artifacts, func(do *drift.Options) {
		if o.driftParallelism > 0 {
			do.Parallelism = o.driftParallelism
		}
	})
	if err != nil {
		return nil, err
	}

	projector, err := projection.NewRunner(s, artifacts, func(po *projection.Options) {
		if o.reducer != nil {
			po.Reducer = o.reducer
		}
	})
	if err != nil {
		return nil, err
	}

	picker, err := sampler.New(s, idx)
	if err != nil {
		return nil, err
	}

	runner := jobs.NewRunner(func(jo *jobs.Options) {
		if o.jobWorkers > 0 {
			jo.Workers = o.jobWorkers
		}
		if o.maxJobAttempts > 0 {
			jo.MaxAttempts = o.maxJobAttempts
		}
		if o.retryDelay > 0 {
			jo.RetryDelay = o.retryDelay
		}
		jo.Logger = o.logger.Logger
	})

	return &EmbedSpace{
		store:       s,
		index:       idx,
		artifacts:   artifacts,
		coordinator: coordinator,
		scorer:      scorer,
		projector:   projector,
		sampler:     picker,
		jobs:        runner,
		guard:       o.guard,
		metrics:     o.metricsCollector,
		logger:      o.logger,
	}, nil
}

// admit runs the guard checks for one operation. A nil guard admits
// everything.
func (es *EmbedSpace) admit(ctx context.Context, kind guard.Kind, namespace string, n int) error {
	if es.guard == nil {
		return nil
	}

	if err := es.guard.CheckRate(ctx, kind, namespace); err != nil {
		return err
	}

	if n > 0 {
		if err := es.guard.CheckQuota(ctx, kind, namespace, n); err != nil {
			return err
		}
	}

	return nil
}

func (es *EmbedSpace) checkOpen() error {
	if es.closed.Load() {
		return ErrClosed
	}

	return nil
}

// Add persists the records described by the request's columns under the
// namespace and returns their store-assigned uuids in input order. The
// index is not updated; call BuildIndex to make the records searchable.
func (es *EmbedSpace) Add(ctx context.Context, namespace string, req AddRequest) ([]string, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	if err := es.admit(ctx, guard.KindAdd, namespace, req.Arity()); err != nil {
		return nil, err
	}

	start := time.Now()
	ids, err := es.coordinator.Add(ctx, namespace, req)
	es.metrics.RecordAdd(len(ids), time.Since(start), err)
	es.logger.LogAdd(ctx, namespace, len(ids), err)

	return ids, translateError(err)
}

// Fetch returns the namespace's records matching where, in stable
// insertion order. limit <= 0 means no limit.
func (es *EmbedSpace) Fetch(ctx context.Context, namespace string, where store.Where, limit int) ([]model.EmbeddingRecord, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	records, err := es.store.Fetch(ctx, namespace, where, limit)

	return records, translateError(err)
}

// GetByIDs returns the records with the given uuids, preserving id order.
// Missing uuids are skipped, not an error.
func (es *EmbedSpace) GetByIDs(ctx context.Context, namespace string, ids []string) ([]model.EmbeddingRecord, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	records, err := es.store.GetByIDs(ctx, namespace, ids)

	return records, translateError(err)
}

// Count returns the number of records in the namespace.
func (es *EmbedSpace) Count(ctx context.Context, namespace string) (int, error) {
	if err := es.checkOpen(); err != nil {
		return 0, err
	}

	n, err := es.store.Count(ctx, namespace)

	return n, translateError(err)
}

// Namespaces lists namespaces that currently hold at least one record.
func (es *EmbedSpace) Namespaces(ctx context.Context) ([]string, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	namespaces, err := es.store.Namespaces(ctx)

	return namespaces, translateError(err)
}

// Delete removes records by ids and/or filter and returns the number
// removed. Deleted uuids are pruned from the index immediately, so queries
// never return them. Both selectors empty wipes the whole namespace,
// including its index and artifacts.
func (es *EmbedSpace) Delete(ctx context.Context, namespace string, ids []string, where store.Where) (int, error) {
	if err := es.checkOpen(); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := es.coordinator.Delete(ctx, namespace, ids, where)
	es.metrics.RecordDelete(n, time.Since(start), err)
	es.logger.LogDelete(ctx, namespace, n, err)

	return n, translateError(err)
}

// Reset brings the namespace to the canonical empty state: no records, no
// index, no artifacts. It is idempotent; a failure partway returns an
// engine.ResetError naming the failed stage, and retrying completes the
// remainder.
func (es *EmbedSpace) Reset(ctx context.Context, namespace string) error {
	if err := es.checkOpen(); err != nil {
		return err
	}

	err := es.coordinator.Reset(ctx, namespace)
	es.logger.LogReset(ctx, namespace, err)

	return translateError(err)
}

// BuildIndex rebuilds the namespace's index from a full snapshot of its
// current store contents. An empty namespace builds an empty index.
// Concurrent builds of one namespace coalesce into a single build.
func (es *EmbedSpace) BuildIndex(ctx context.Context, namespace string) error {
	if err := es.checkOpen(); err != nil {
		return err
	}

	if err := es.admit(ctx, guard.KindBuild, namespace, 0); err != nil {
		return err
	}

	start := time.Now()
	err := es.coordinator.BuildIndex(ctx, namespace)
	es.metrics.RecordBuild(time.Since(start), err)
	es.logger.LogBuild(ctx, namespace, time.Since(start), err)

	return translateError(err)
}

// HasIndex reports whether the namespace currently has a built index.
func (es *EmbedSpace) HasIndex(ctx context.Context, namespace string) (bool, error) {
	if err := es.checkOpen(); err != nil {
		return false, err
	}

	built, err := es.coordinator.HasIndex(ctx, namespace)

	return built, translateError(err)
}

// Query returns up to req.K nearest neighbors of req.Vector, ordered by
// non-decreasing distance. A non-zero filter restricts candidates before
// the index is consulted; ErrEmptyFilterResult reports a filter that
// matched nothing and ErrIndexNotBuilt a namespace without an index.
func (es *EmbedSpace) Query(ctx context.Context, namespace string, req QueryRequest) ([]model.Neighbor, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	if err := es.admit(ctx, guard.KindQuery, namespace, 0); err != nil {
		return nil, err
	}

	start := time.Now()
	neighbors, err := es.coordinator.Query(ctx, namespace, req)
	es.metrics.RecordQuery(req.K, time.Since(start), err)
	es.logger.LogQuery(ctx, namespace, req.K, len(neighbors), err)

	return neighbors, translateError(err)
}

// RunAnalysis submits a background job that drift-scores the namespace and
// recomputes its 2-D projection under a fresh generation. The returned
// handle reports status; AnalysisStatus finds it again by id. The job body
// is idempotent recompute-and-overwrite, so the runner's retries are safe.
func (es *EmbedSpace) RunAnalysis(ctx context.Context, namespace string) (*jobs.Job, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	if err := es.admit(ctx, guard.KindAnalysis, namespace, 0); err != nil {
		return nil, err
	}

	job, err := es.jobs.Submit(ctx, "analysis:"+namespace, func(ctx context.Context) error {
		start := time.Now()
		err := es.analyze(ctx, namespace)
		es.metrics.RecordAnalysis(time.Since(start), err)

		return err
	})
	if err != nil {
		return nil, translateError(err)
	}

	es.logger.LogAnalysisSubmitted(ctx, namespace, job.ID())

	return job, nil
}

// analyze is the analysis job body: draw one generation, score drift, then
// recompute the projection, all stamped with that generation.
func (es *EmbedSpace) analyze(ctx context.Context, namespace string) error {
	generation, err := es.artifacts.NextGeneration(ctx, namespace)
	if err != nil {
		return fmt.Errorf("embedspace: next generation: %w", err)
	}

	scored, err := es.scorer.Score(ctx, drift.Request{Namespace: namespace, Generation: generation})
	if err != nil {
		return err
	}

	if _, err := es.projector.Run(ctx, projection.Request{Namespace: namespace, Generation: generation}); err != nil {
		return err
	}

	es.logger.LogAnalysis(ctx, namespace, generation, scored.Scored, len(scored.Singular))

	return nil
}

// AnalysisStatus returns the analysis job with the given id, when known.
func (es *EmbedSpace) AnalysisStatus(id string) (*jobs.Job, bool) {
	return es.jobs.Get(id)
}

// Sample picks records worth labeling next, splitting req.TotalN across
// the requested strategies. It requires a built index and, when the
// cluster-outlier strategy participates, a prior drift-scoring run.
func (es *EmbedSpace) Sample(ctx context.Context, req sampler.Request) (*sampler.Result, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	if err := es.admit(ctx, guard.KindQuery, req.Namespace, 0); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := es.sampler.Select(ctx, req)

	selected := 0
	if result != nil {
		selected = len(result.Selections)
	}

	es.metrics.RecordSample(time.Since(start), err)
	es.logger.LogSample(ctx, req.Namespace, req.TotalN, selected, err)

	return result, translateError(err)
}

// ClassStats returns the namespace's per-class drift statistics from the
// latest scoring runs, sorted by label.
func (es *EmbedSpace) ClassStats(ctx context.Context, namespace string) ([]model.ClassStatistic, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	stats, err := es.artifacts.ClassStats(ctx, namespace)

	return stats, translateError(err)
}

// Projection returns the namespace's 2-D projection points from the latest
// projection run, sorted by uuid. It is nil when no run has happened.
func (es *EmbedSpace) Projection(ctx context.Context, namespace string) ([]model.ProjectionPoint, error) {
	if err := es.checkOpen(); err != nil {
		return nil, err
	}

	points, err := es.artifacts.Projection(ctx, namespace)

	return points, translateError(err)
}
