package artifact

import (
	"context"
	"errors"

	"github.com/hupe1980/embedspace/model"
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("artifact store is closed")

// Store persists derived artifacts: per-class statistics from drift scoring,
// 2-D projection points, and the per-namespace generation counter that
// stamps both.
//
// PutClassStats upserts per (namespace, label); classes absent from a run
// keep their previous statistics, matching the scorer's skip semantics.
// PutProjection replaces all points of the namespace, since a projection is
// only meaningful as a whole run.
//
// Reads return deterministic order: class statistics sorted by label,
// projection points sorted by UUID.
type Store interface {
	// NextGeneration returns the next generation number for a namespace,
	// starting at 1. Each call advances the counter.
	NextGeneration(ctx context.Context, namespace string) (uint64, error)

	PutClassStats(ctx context.Context, namespace string, stats []model.ClassStatistic) error
	ClassStats(ctx context.Context, namespace string) ([]model.ClassStatistic, error)

	PutProjection(ctx context.Context, namespace string, points []model.ProjectionPoint) error
	Projection(ctx context.Context, namespace string) ([]model.ProjectionPoint, error)

	// DeleteNamespace removes all artifacts of the namespace, including its
	// generation counter.
	DeleteNamespace(ctx context.Context, namespace string) error

	Close() error
}

func cloneStat(s model.ClassStatistic) model.ClassStatistic {
	out := s
	if s.Mean != nil {
		out.Mean = make([]float64, len(s.Mean))
		copy(out.Mean, s.Mean)
	}
	if s.InvCov != nil {
		out.InvCov = make([]float64, len(s.InvCov))
		copy(out.InvCov, s.InvCov)
	}
	return out
}
