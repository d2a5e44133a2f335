package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/index"
	"github.com/hupe1980/embedspace/index/exact"
	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

func newCoordinator(t *testing.T) (*Coordinator, *store.Memory, artifact.Store) {
	t.Helper()

	s := store.NewMemory()
	idx, err := exact.New()
	require.NoError(t, err)

	art := artifact.NewMemory()

	c, err := New(s, idx, art)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = idx.Close()
		_ = art.Close()
		_ = s.Close()
	})

	return c, s, art
}

// flakyIndex fails DeleteNamespace until healed.
type flakyIndex struct {
	index.Index
	deleteErr error
}

func (f *flakyIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}

	return f.Index.DeleteNamespace(ctx, namespace)
}

// gatedIndex blocks Build until the gate opens and counts invocations.
type gatedIndex struct {
	index.Index
	entered chan struct{}
	gate    chan struct{}
	builds  atomic.Int32
}

func (g *gatedIndex) Build(ctx context.Context, namespace string, items []index.Item) error {
	g.builds.Add(1)
	g.entered <- struct{}{}
	<-g.gate

	return g.Index.Build(ctx, namespace, items)
}

func TestNew(t *testing.T) {
	t.Run("NilStore", func(t *testing.T) {
		idx, err := exact.New()
		require.NoError(t, err)

		_, err = New(nil, idx, nil)
		assert.ErrorContains(t, err, "store must not be nil")
	})

	t.Run("NilIndex", func(t *testing.T) {
		_, err := New(store.NewMemory(), nil, nil)
		assert.ErrorContains(t, err, "index must not be nil")
	})

	t.Run("NilArtifactsAllowed", func(t *testing.T) {
		idx, err := exact.New()
		require.NoError(t, err)

		c, err := New(store.NewMemory(), idx, nil)
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("AssignsIDsInOrder", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{
			Vectors: [][]float32{{1, 0}, {0, 1}, {1, 1}},
		})
		require.NoError(t, err)
		require.Len(t, ids, 3)

		got, err := s.GetByIDs(ctx, "ns", ids)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []float32{1, 0}, got[0].Vector)
		assert.Equal(t, []float32{1, 1}, got[2].Vector)
	})

	t.Run("BroadcastMatchesExplicitColumns", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		_, err := c.Add(ctx, "broadcast", AddRequest{
			Vectors:       [][]float32{{1}, {2}},
			DatasetLabels: []model.DatasetLabel{model.DatasetTraining},
		})
		require.NoError(t, err)

		_, err = c.Add(ctx, "explicit", AddRequest{
			Vectors:       [][]float32{{1}, {2}},
			DatasetLabels: []model.DatasetLabel{model.DatasetTraining, model.DatasetTraining},
		})
		require.NoError(t, err)

		broadcast, err := s.Fetch(ctx, "broadcast", store.Where{}, 0)
		require.NoError(t, err)
		explicit, err := s.Fetch(ctx, "explicit", store.Where{}, 0)
		require.NoError(t, err)

		require.Len(t, broadcast, 2)
		require.Len(t, explicit, 2)

		for i := range broadcast {
			assert.Equal(t, explicit[i].Vector, broadcast[i].Vector)
			assert.Equal(t, explicit[i].DatasetLabel, broadcast[i].DatasetLabel)
		}
	})

	t.Run("ArityMismatch", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{
			Vectors:          [][]float32{{1}, {2}},
			InferenceClasses: []string{"a", "b", "c"},
		})

		var mismatch *ArityMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "vectors", mismatch.Field)
	})

	t.Run("RejectsNaN", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		nan := float32(math.NaN())
		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1, nan}}})
		assert.ErrorContains(t, err, "NaN")
	})

	t.Run("RejectsInf", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		inf := float32(math.Inf(1))
		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{inf}}})
		assert.ErrorContains(t, err, "Inf")
	})

	t.Run("RejectsMixedDimensions", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1, 2}, {1, 2, 3}}})

		var mismatch *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 2, mismatch.Expected)
		assert.Equal(t, 3, mismatch.Actual)
	})

	t.Run("RejectsUnknownDatasetLabel", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{
			Vectors:       [][]float32{{1}},
			DatasetLabels: []model.DatasetLabel{"bogus"},
		})
		assert.ErrorContains(t, err, "dataset label")
	})

	t.Run("RejectsOversizedBatch", func(t *testing.T) {
		s := store.NewMemory()
		idx, err := exact.New()
		require.NoError(t, err)

		c, err := New(s, idx, nil, func(o *Options) {
			o.Limits.MaxBatchSize = 2
		})
		require.NoError(t, err)

		_, err = c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}, {2}, {3}}})
		assert.ErrorContains(t, err, "batch size")
	})

	t.Run("NormalizesEmptyDatasetLabel", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)

		got, err := s.Fetch(ctx, "ns", store.Where{}, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.DatasetUnlabeled, got[0].DatasetLabel)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("ByIDs", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}, {2}, {3}}})
		require.NoError(t, err)

		n, err := c.Delete(ctx, "ns", ids[:1], store.Where{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		count, err := s.Count(ctx, "ns")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("DeletedIDsNeverSurfaceInQueries", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{0, 0}, {1, 0}, {2, 0}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		n, err := c.Delete(ctx, "ns", ids[:1], store.Where{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 3})
		require.NoError(t, err)
		require.Len(t, neighbors, 2)

		for _, nb := range neighbors {
			assert.NotEqual(t, ids[0], nb.Record.UUID)
		}
	})

	t.Run("ByFilter", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{
			Vectors:       [][]float32{{1}, {2}, {3}},
			DatasetLabels: []model.DatasetLabel{model.DatasetTraining, model.DatasetTraining, model.DatasetInference},
		})
		require.NoError(t, err)

		n, err := c.Delete(ctx, "ns", nil, store.Where{DatasetLabel: model.DatasetTraining})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := s.Fetch(ctx, "ns", store.Where{}, 0)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, model.DatasetInference, left[0].DatasetLabel)
	})

	t.Run("FilterDeletesPruneIndex", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{
			Vectors:          [][]float32{{0, 0}, {1, 0}},
			InferenceClasses: []string{"cat", "dog"},
		})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		_, err = c.Delete(ctx, "ns", nil, store.Where{InferenceClass: "cat"})
		require.NoError(t, err)

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 2})
		require.NoError(t, err)
		require.Len(t, neighbors, 1)
		assert.Equal(t, "dog", neighbors[0].Record.InferenceClass)
	})

	t.Run("IDsAndFilterIntersect", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{
			Vectors:       [][]float32{{1}, {2}},
			DatasetLabels: []model.DatasetLabel{model.DatasetTraining, model.DatasetInference},
		})
		require.NoError(t, err)

		n, err := c.Delete(ctx, "ns", ids, store.Where{DatasetLabel: model.DatasetTraining})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		count, err := s.Count(ctx, "ns")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("NoMatchDeletesNothing", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)

		n, err := c.Delete(ctx, "ns", nil, store.Where{InferenceClass: "ghost"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("WholeNamespaceIsStructural", func(t *testing.T) {
		c, s, art := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}, {2}, {3}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		require.NoError(t, art.PutClassStats(ctx, "ns", []model.ClassStatistic{
			{Namespace: "ns", Label: "cat", Mean: []float64{1}, InvCov: []float64{1}, Dim: 1},
		}))

		n, err := c.Delete(ctx, "ns", nil, store.Where{})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		count, err := s.Count(ctx, "ns")
		require.NoError(t, err)
		assert.Zero(t, count)

		built, err := c.HasIndex(ctx, "ns")
		require.NoError(t, err)
		assert.False(t, built)

		stats, err := art.ClassStats(ctx, "ns")
		require.NoError(t, err)
		assert.Empty(t, stats)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1, 0}, {0, 1}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		require.NoError(t, c.Reset(ctx, "ns"))
		require.NoError(t, c.Reset(ctx, "ns"))

		count, err := s.Count(ctx, "ns")
		require.NoError(t, err)
		assert.Zero(t, count)

		_, err = c.Query(ctx, "ns", QueryRequest{Vector: []float32{1, 0}, K: 1})
		assert.ErrorIs(t, err, index.ErrNotBuilt)
	})

	t.Run("ClearsArtifacts", func(t *testing.T) {
		c, _, art := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)

		require.NoError(t, art.PutClassStats(ctx, "ns", []model.ClassStatistic{
			{Namespace: "ns", Label: "cat", Mean: []float64{1}, InvCov: []float64{1}, Dim: 1},
		}))
		require.NoError(t, art.PutProjection(ctx, "ns", []model.ProjectionPoint{
			{UUID: "u1", Namespace: "ns", X: 1, Y: 2},
		}))

		require.NoError(t, c.Reset(ctx, "ns"))

		stats, err := art.ClassStats(ctx, "ns")
		require.NoError(t, err)
		assert.Empty(t, stats)

		points, err := art.Projection(ctx, "ns")
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("UnknownNamespaceIsNoOp", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		assert.NoError(t, c.Reset(ctx, "ghost"))
	})

	t.Run("StageFailureSurfacesAndRetryCompletes", func(t *testing.T) {
		s := store.NewMemory()
		inner, err := exact.New()
		require.NoError(t, err)

		boom := errors.New("index unavailable")
		flaky := &flakyIndex{Index: inner, deleteErr: boom}

		c, err := New(s, flaky, nil)
		require.NoError(t, err)

		_, err = c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		err = c.Reset(ctx, "ns")

		var reset *ResetError
		require.ErrorAs(t, err, &reset)
		assert.Equal(t, "index", reset.Stage)
		assert.Equal(t, "ns", reset.Namespace)
		assert.ErrorIs(t, err, boom)

		// The store stage completed before the failure.
		count, err := s.Count(ctx, "ns")
		require.NoError(t, err)
		assert.Zero(t, count)

		flaky.deleteErr = nil
		require.NoError(t, c.Reset(ctx, "ns"))

		built, err := c.HasIndex(ctx, "ns")
		require.NoError(t, err)
		assert.False(t, built)
	})
}

func TestBuildIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("BuildsFromStoreSnapshot", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{0, 0}, {3, 0}, {1, 0}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		built, err := c.HasIndex(ctx, "ns")
		require.NoError(t, err)
		assert.True(t, built)

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 2})
		require.NoError(t, err)
		require.Len(t, neighbors, 2)
		assert.Equal(t, ids[0], neighbors[0].Record.UUID)
		assert.Equal(t, ids[2], neighbors[1].Record.UUID)
	})

	t.Run("EmptyNamespaceBuildsEmptyIndex", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		require.NoError(t, c.BuildIndex(ctx, "empty"))

		built, err := c.HasIndex(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, built)

		neighbors, err := c.Query(ctx, "empty", QueryRequest{Vector: []float32{1}, K: 1})
		require.NoError(t, err)
		assert.Empty(t, neighbors)
	})

	t.Run("RebuildPicksUpNewRecords", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{0, 0}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		_, err = c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1, 0}}})
		require.NoError(t, err)

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 2})
		require.NoError(t, err)
		assert.Len(t, neighbors, 1)

		require.NoError(t, c.BuildIndex(ctx, "ns"))

		neighbors, err = c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 2})
		require.NoError(t, err)
		assert.Len(t, neighbors, 2)
	})

	t.Run("ConcurrentBuildsCoalesce", func(t *testing.T) {
		s := store.NewMemory()
		inner, err := exact.New()
		require.NoError(t, err)

		gated := &gatedIndex{
			Index:   inner,
			entered: make(chan struct{}, 2),
			gate:    make(chan struct{}),
		}

		c, err := New(s, gated, nil)
		require.NoError(t, err)

		_, err = c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1, 0}, {0, 1}}})
		require.NoError(t, err)

		var wg sync.WaitGroup
		buildErrs := make([]error, 2)

		wg.Add(1)
		go func() {
			defer wg.Done()
			buildErrs[0] = c.BuildIndex(ctx, "ns")
		}()

		<-gated.entered

		wg.Add(1)
		go func() {
			defer wg.Done()
			buildErrs[1] = c.BuildIndex(ctx, "ns")
		}()

		// Give the second call time to join the in-flight build before
		// releasing it.
		time.Sleep(50 * time.Millisecond)
		close(gated.gate)
		wg.Wait()

		require.NoError(t, buildErrs[0])
		require.NoError(t, buildErrs[1])
		assert.EqualValues(t, 1, gated.builds.Load())
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownNamespace", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Query(ctx, "ghost", QueryRequest{Vector: []float32{1}, K: 1})

		var missing *MissingNamespaceError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "ghost", missing.Namespace)
	})

	t.Run("IndexNotBuilt", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)

		_, err = c.Query(ctx, "ns", QueryRequest{Vector: []float32{1}, K: 1})
		assert.ErrorIs(t, err, index.ErrNotBuilt)
	})

	t.Run("ReturnsKNearestOrdered", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{
			Vectors: [][]float32{{4, 0}, {0, 0}, {2, 0}, {1, 0}, {3, 0}},
		})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 3})
		require.NoError(t, err)
		require.Len(t, neighbors, 3)

		assert.Equal(t, ids[1], neighbors[0].Record.UUID)
		assert.Equal(t, ids[3], neighbors[1].Record.UUID)
		assert.Equal(t, ids[2], neighbors[2].Record.UUID)

		for i := 1; i < len(neighbors); i++ {
			assert.GreaterOrEqual(t, neighbors[i].Distance, neighbors[i-1].Distance)
		}
	})

	t.Run("FilterRestrictsCandidates", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		// The cat sits closer to the query than any dog; with a dog filter
		// it must still never appear.
		_, err := c.Add(ctx, "ns", AddRequest{
			Vectors:          [][]float32{{0.1, 0}, {1, 0}, {2, 0}},
			InferenceClasses: []string{"cat", "dog", "dog"},
		})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		neighbors, err := c.Query(ctx, "ns", QueryRequest{
			Vector: []float32{0, 0},
			K:      3,
			Where:  store.Where{InferenceClass: "dog"},
		})
		require.NoError(t, err)
		require.Len(t, neighbors, 2)

		for _, nb := range neighbors {
			assert.Equal(t, "dog", nb.Record.InferenceClass)
		}
	})

	t.Run("EmptyFilterResult", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		_, err = c.Query(ctx, "ns", QueryRequest{
			Vector: []float32{1},
			K:      1,
			Where:  store.Where{InferenceClass: "ghost"},
		})
		assert.ErrorIs(t, err, ErrEmptyFilterResult)
	})

	t.Run("DropsRecordsDeletedSinceBuild", func(t *testing.T) {
		c, s, _ := newCoordinator(t)

		ids, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{0, 0}, {1, 0}, {2, 0}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		// Delete behind the coordinator's back so the index keeps the id.
		_, err = s.Delete(ctx, "ns", ids[:1], store.Where{})
		require.NoError(t, err)

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0, 0}, K: 3})
		require.NoError(t, err)
		require.Len(t, neighbors, 2)

		for _, nb := range neighbors {
			assert.NotEqual(t, ids[0], nb.Record.UUID)
		}
	})

	t.Run("ShorterThanK", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}, {2}}})
		require.NoError(t, err)
		require.NoError(t, c.BuildIndex(ctx, "ns"))

		neighbors, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{0}, K: 5})
		require.NoError(t, err)
		assert.Len(t, neighbors, 2)
	})

	t.Run("InvalidK", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{1}, K: 0})
		assert.ErrorIs(t, err, index.ErrInvalidK)
	})

	t.Run("KAboveLimit", func(t *testing.T) {
		s := store.NewMemory()
		idx, err := exact.New()
		require.NoError(t, err)

		c, err := New(s, idx, nil, func(o *Options) {
			o.Limits.MaxK = 2
		})
		require.NoError(t, err)

		_, err = c.Query(ctx, "ns", QueryRequest{Vector: []float32{1}, K: 3})
		assert.ErrorContains(t, err, "exceeds maximum")
	})

	t.Run("EmptyVector", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		_, err := c.Query(ctx, "ns", QueryRequest{Vector: nil, K: 1})
		assert.ErrorIs(t, err, index.ErrEmptyVector)
	})

	t.Run("NaNVector", func(t *testing.T) {
		c, _, _ := newCoordinator(t)

		nan := float32(math.NaN())
		_, err := c.Query(ctx, "ns", QueryRequest{Vector: []float32{nan}, K: 1})
		assert.ErrorContains(t, err, "NaN")
	})

	t.Run("ReopenedStoreRecognizesNamespace", func(t *testing.T) {
		s := store.NewMemory()

		first, err := exact.New()
		require.NoError(t, err)
		c1, err := New(s, first, nil)
		require.NoError(t, err)

		_, err = c1.Add(ctx, "ns", AddRequest{Vectors: [][]float32{{1}}})
		require.NoError(t, err)

		// A fresh coordinator over the same store has an empty registry but
		// must still recognize the namespace.
		second, err := exact.New()
		require.NoError(t, err)
		c2, err := New(s, second, nil)
		require.NoError(t, err)

		_, err = c2.Query(ctx, "ns", QueryRequest{Vector: []float32{1}, K: 1})
		assert.ErrorIs(t, err, index.ErrNotBuilt)
	})
}
