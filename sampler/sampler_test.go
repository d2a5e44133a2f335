package sampler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

type fakeIndex struct {
	built bool
	err   error
}

func (f fakeIndex) HasIndex(ctx context.Context, namespace string) (bool, error) {
	return f.built, f.err
}

func scoreOf(v float32) *float32 { return &v }

func addRecords(t *testing.T, s store.Store, namespace string, records []model.EmbeddingRecord) []string {
	t.Helper()
	ids, err := s.Add(context.Background(), namespace, records)
	require.NoError(t, err)
	return ids
}

// tally counts selections per strategy.
func tally(selections []model.SampleSelection) map[model.Strategy]int {
	out := make(map[model.Strategy]int)
	for _, sel := range selections {
		out[sel.Strategy]++
	}
	return out
}

func newSampler(t *testing.T, s store.Store) *Sampler {
	t.Helper()
	sm, err := New(s, fakeIndex{built: true})
	require.NoError(t, err)
	return sm
}

func TestSelectValidation(t *testing.T) {
	ctx := context.Background()
	sm := newSampler(t, store.NewMemory())

	t.Run("NonPositiveTotal", func(t *testing.T) {
		_, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 0,
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}})
		require.Error(t, err)
	})

	t.Run("NoStrategies", func(t *testing.T) {
		_, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 5})
		require.Error(t, err)
	})

	t.Run("UnknownStrategy", func(t *testing.T) {
		_, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 5,
			Strategies: map[model.Strategy]float64{model.Strategy("bogus"): 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("NegativeFraction", func(t *testing.T) {
		_, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 5,
			Strategies: map[model.Strategy]float64{
				model.StrategyRandom:                2,
				model.StrategyActivationUncertainty: -1,
			}})
		require.Error(t, err)
	})

	t.Run("FractionsMustSumToOne", func(t *testing.T) {
		_, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 5,
			Strategies: map[model.Strategy]float64{
				model.StrategyRandom:                0.5,
				model.StrategyActivationUncertainty: 0.3,
			}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum")
	})
}

func TestSelectPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("IndexNotBuilt", func(t *testing.T) {
		sm, err := New(store.NewMemory(), fakeIndex{built: false})
		require.NoError(t, err)

		_, err = sm.Select(ctx, Request{Namespace: "prod", TotalN: 1,
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}})
		require.ErrorIs(t, err, ErrIndexNotBuilt)
	})

	t.Run("IndexCheckError", func(t *testing.T) {
		boom := errors.New("boom")
		sm, err := New(store.NewMemory(), fakeIndex{err: boom})
		require.NoError(t, err)

		_, err = sm.Select(ctx, Request{Namespace: "prod", TotalN: 1,
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}})
		require.ErrorIs(t, err, boom)
	})

	t.Run("NoDriftScores", func(t *testing.T) {
		s := store.NewMemory()
		addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1, 0}, DatasetLabel: model.DatasetInference},
		})
		sm := newSampler(t, s)

		_, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 1,
			Strategies: map[model.Strategy]float64{model.StrategyClusterOutlier: 1}})
		require.ErrorIs(t, err, ErrNoDriftScores)
	})

	t.Run("ZeroFractionOutlierSkipsCheck", func(t *testing.T) {
		s := store.NewMemory()
		addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1, 0}, DatasetLabel: model.DatasetInference},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 1,
			Strategies: map[model.Strategy]float64{
				model.StrategyRandom:         1,
				model.StrategyClusterOutlier: 0,
			}})
		require.NoError(t, err)
		assert.Len(t, res.Selections, 1)
	})
}

func TestSelectStrategies(t *testing.T) {
	ctx := context.Background()

	t.Run("ActivationUncertainty", func(t *testing.T) {
		s := store.NewMemory()
		ids := addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.9, "b": 0.1}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.5, "b": 0.4}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.7, "b": 0.2}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.3, "b": 0.3}},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 2,
			Strategies: map[model.Strategy]float64{model.StrategyActivationUncertainty: 1}})
		require.NoError(t, err)

		// Lowest max confidence first: 0.3, then 0.5.
		require.Len(t, res.Selections, 2)
		assert.Equal(t, model.SampleSelection{UUID: ids[3], Strategy: model.StrategyActivationUncertainty, Rank: 0}, res.Selections[0])
		assert.Equal(t, model.SampleSelection{UUID: ids[1], Strategy: model.StrategyActivationUncertainty, Rank: 1}, res.Selections[1])
	})

	t.Run("BoundaryUncertainty", func(t *testing.T) {
		s := store.NewMemory()
		ids := addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.9, "b": 0.1}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.55, "b": 0.45}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.6, "b": 0.3, "c": 0.1}},
			// A single confidence has no margin and is never a candidate.
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 1.0}},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 3,
			Strategies: map[model.Strategy]float64{model.StrategyBoundaryUncertainty: 1}})
		require.NoError(t, err)

		// Smallest margin first: 0.1, 0.3, 0.8.
		require.Len(t, res.Selections, 3)
		assert.Equal(t, ids[1], res.Selections[0].UUID)
		assert.Equal(t, ids[2], res.Selections[1].UUID)
		assert.Equal(t, ids[0], res.Selections[2].UUID)
	})

	t.Run("ClusterOutlier", func(t *testing.T) {
		s := store.NewMemory()
		ids := addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Derived: model.DerivedMetadata{DistanceScore: scoreOf(5)}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Derived: model.DerivedMetadata{DistanceScore: scoreOf(1)}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Derived: model.DerivedMetadata{DistanceScore: scoreOf(3)}},
			// Unscored rows are not candidates for the outlier strategy.
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 2,
			Strategies: map[model.Strategy]float64{model.StrategyClusterOutlier: 1}})
		require.NoError(t, err)

		// Highest drift score first: 5, then 3.
		require.Len(t, res.Selections, 2)
		assert.Equal(t, ids[0], res.Selections[0].UUID)
		assert.Equal(t, ids[2], res.Selections[1].UUID)
	})

	t.Run("RandomDeterministicPerSeed", func(t *testing.T) {
		s := store.NewMemory()
		records := make([]model.EmbeddingRecord, 8)
		for i := range records {
			records[i] = model.EmbeddingRecord{Vector: []float32{1}, DatasetLabel: model.DatasetInference}
		}
		ids := addRecords(t, s, "prod", records)
		sm := newSampler(t, s)

		req := Request{Namespace: "prod", TotalN: 8, Seed: 42,
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}}

		first, err := sm.Select(ctx, req)
		require.NoError(t, err)
		second, err := sm.Select(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first.Selections, second.Selections)

		req.Seed = 7
		other, err := sm.Select(ctx, req)
		require.NoError(t, err)

		// A different seed permutes the same set.
		got := make([]string, 0, len(other.Selections))
		for _, sel := range other.Selections {
			got = append(got, sel.UUID)
		}
		assert.ElementsMatch(t, ids, got)
	})
}

func TestSelectCombination(t *testing.T) {
	ctx := context.Background()

	t.Run("DedupTakesNextBest", func(t *testing.T) {
		s := store.NewMemory()
		// The most uncertain record is also the strongest outlier.
		ids := addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference,
				Confidences: map[string]float32{"a": 0.4, "b": 0.3},
				Derived:     model.DerivedMetadata{DistanceScore: scoreOf(9)}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference,
				Confidences: map[string]float32{"a": 0.9, "b": 0.1},
				Derived:     model.DerivedMetadata{DistanceScore: scoreOf(4)}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference,
				Confidences: map[string]float32{"a": 0.8, "b": 0.2},
				Derived:     model.DerivedMetadata{DistanceScore: scoreOf(2)}},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 2,
			Strategies: map[model.Strategy]float64{
				model.StrategyActivationUncertainty: 0.5,
				model.StrategyClusterOutlier:        0.5,
			}})
		require.NoError(t, err)

		require.Len(t, res.Selections, 2)
		assert.Equal(t, model.SampleSelection{UUID: ids[0], Strategy: model.StrategyActivationUncertainty, Rank: 0}, res.Selections[0])
		// The outlier strategy skips its rank-0 candidate (already taken)
		// and keeps the replacement's own rank.
		assert.Equal(t, model.SampleSelection{UUID: ids[1], Strategy: model.StrategyClusterOutlier, Rank: 1}, res.Selections[1])
	})

	t.Run("RoundingOverflowTrimsLaterStrategy", func(t *testing.T) {
		s := store.NewMemory()
		records := make([]model.EmbeddingRecord, 10)
		for i := range records {
			records[i] = model.EmbeddingRecord{
				Vector:       []float32{1},
				DatasetLabel: model.DatasetInference,
				Confidences:  map[string]float32{"a": 0.1 * float32(i+1), "b": 0.05},
			}
		}
		addRecords(t, s, "prod", records)
		sm := newSampler(t, s)

		// round(2.5) = 3 for both, but the total caps at 5.
		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 5, Seed: 1,
			Strategies: map[model.Strategy]float64{
				model.StrategyActivationUncertainty: 0.5,
				model.StrategyRandom:                0.5,
			}})
		require.NoError(t, err)

		require.Len(t, res.Selections, 5)
		counts := tally(res.Selections)
		assert.Equal(t, 3, counts[model.StrategyActivationUncertainty])
		assert.Equal(t, 2, counts[model.StrategyRandom])
	})

	t.Run("RoundingShortfallTopsUp", func(t *testing.T) {
		s := store.NewMemory()
		records := make([]model.EmbeddingRecord, 12)
		for i := range records {
			records[i] = model.EmbeddingRecord{
				Vector:       []float32{1},
				DatasetLabel: model.DatasetInference,
				Confidences:  map[string]float32{"a": 0.05 * float32(i+1), "b": 0.04 * float32(i+1)},
				Derived:      model.DerivedMetadata{DistanceScore: scoreOf(float32(i))},
			}
		}
		addRecords(t, s, "prod", records)
		sm := newSampler(t, s)

		// round(10/3) = 3 per strategy leaves one slot; the first
		// strategy in order fills it.
		third := 1.0 / 3.0
		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 10, Seed: 1,
			Strategies: map[model.Strategy]float64{
				model.StrategyActivationUncertainty: third,
				model.StrategyBoundaryUncertainty:   third,
				model.StrategyClusterOutlier:        third,
			}})
		require.NoError(t, err)

		require.Len(t, res.Selections, 10)
		counts := tally(res.Selections)
		assert.Equal(t, 4, counts[model.StrategyActivationUncertainty])
		assert.Equal(t, 3, counts[model.StrategyBoundaryUncertainty])
		assert.Equal(t, 3, counts[model.StrategyClusterOutlier])

		seen := make(map[string]bool)
		for _, sel := range res.Selections {
			assert.False(t, seen[sel.UUID], "uuid %s selected twice", sel.UUID)
			seen[sel.UUID] = true
		}
	})

	t.Run("PartialResultWhenPoolSmall", func(t *testing.T) {
		s := store.NewMemory()
		addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 10, Seed: 3,
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}})
		require.NoError(t, err)
		assert.Len(t, res.Selections, 3)
	})

	t.Run("PartialResultWhenUnreachable", func(t *testing.T) {
		s := store.NewMemory()
		// Only two records are rankable by confidence.
		addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.5}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference, Confidences: map[string]float32{"a": 0.6}},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 4,
			Strategies: map[model.Strategy]float64{model.StrategyActivationUncertainty: 1}})
		require.NoError(t, err)
		assert.Len(t, res.Selections, 2)
	})

	t.Run("DefaultWhereIsInferencePartition", func(t *testing.T) {
		s := store.NewMemory()
		inferIDs := addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
		})
		addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetTraining},
			{Vector: []float32{1}, DatasetLabel: model.DatasetTraining},
			{Vector: []float32{1}, DatasetLabel: model.DatasetTraining},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 5, Seed: 9,
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}})
		require.NoError(t, err)

		require.Len(t, res.Selections, 2)
		got := []string{res.Selections[0].UUID, res.Selections[1].UUID}
		assert.ElementsMatch(t, inferIDs, got)
	})

	t.Run("CustomWhere", func(t *testing.T) {
		s := store.NewMemory()
		addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetInference},
		})
		trainIDs := addRecords(t, s, "prod", []model.EmbeddingRecord{
			{Vector: []float32{1}, DatasetLabel: model.DatasetTraining},
		})
		sm := newSampler(t, s)

		res, err := sm.Select(ctx, Request{Namespace: "prod", TotalN: 1, Seed: 9,
			Where:      store.Where{DatasetLabel: model.DatasetTraining},
			Strategies: map[model.Strategy]float64{model.StrategyRandom: 1}})
		require.NoError(t, err)

		require.Len(t, res.Selections, 1)
		assert.Equal(t, trainIDs[0], res.Selections[0].UUID)
	})
}

func TestNew(t *testing.T) {
	t.Run("NilStore", func(t *testing.T) {
		_, err := New(nil, fakeIndex{})
		require.Error(t, err)
	})

	t.Run("NilIndex", func(t *testing.T) {
		_, err := New(store.NewMemory(), nil)
		require.Error(t, err)
	})

	t.Run("EpsilonClamped", func(t *testing.T) {
		sm, err := New(store.NewMemory(), fakeIndex{}, func(o *Options) {
			o.Epsilon = 0
		})
		require.NoError(t, err)
		assert.Equal(t, DefaultOptions.Epsilon, sm.opts.Epsilon)
	})
}
