// Package sampler selects records for human review by combining
// uncertainty, boundary, drift-outlier, and random strategies into one
// proportioned draw. Selections are deterministic for a given seed and
// store contents.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

var (
	// ErrIndexNotBuilt is returned when the namespace has no built index.
	// Build the index first.
	ErrIndexNotBuilt = errors.New("sampler: no index built for namespace")

	// ErrNoDriftScores is returned when the cluster-outlier strategy is
	// requested but no drift-scoring run has populated distances for the
	// namespace. Run the drift job first.
	ErrNoDriftScores = errors.New("sampler: no drift scores in namespace")
)

// strategyOrder fixes the processing order across strategies so that
// dedup replacement and rounding reconciliation are deterministic.
var strategyOrder = []model.Strategy{
	model.StrategyActivationUncertainty,
	model.StrategyBoundaryUncertainty,
	model.StrategyClusterOutlier,
	model.StrategyRandom,
}

// IndexState reports whether a namespace currently has a built index.
// index.Index satisfies it.
type IndexState interface {
	HasIndex(ctx context.Context, namespace string) (bool, error)
}

// Request describes one sampling draw.
type Request struct {
	Namespace string

	// TotalN is the number of records to select.
	TotalN int

	// Strategies maps each strategy to its share of TotalN. The
	// fractions must sum to one.
	Strategies map[model.Strategy]float64

	// Where narrows the eligible rows. The zero value defaults to the
	// inference dataset partition.
	Where store.Where

	// Seed drives the random strategy and makes draws reproducible.
	Seed int64
}

// Result is the outcome of one draw. Selections carry the strategy that
// chose each record and the record's rank in that strategy's own
// ordering.
type Result struct {
	Namespace  string
	Selections []model.SampleSelection
}

// Options for the sampler.
type Options struct {
	// Epsilon is the tolerance when checking that strategy fractions
	// sum to one.
	Epsilon float64
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Epsilon: 1e-6,
}

// Sampler draws proportioned selections from one namespace.
type Sampler struct {
	opts  Options
	store store.Store
	index IndexState
}

// New creates a sampler.
func New(s store.Store, idx IndexState, optFns ...func(o *Options)) (*Sampler, error) {
	if s == nil {
		return nil, errors.New("sampler: store must not be nil")
	}
	if idx == nil {
		return nil, errors.New("sampler: index state must not be nil")
	}

	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultOptions.Epsilon
	}

	return &Sampler{
		opts:  opts,
		store: s,
		index: idx,
	}, nil
}

// Select draws min(TotalN, reachable) records. Per-strategy counts are
// round(TotalN * fraction); a record already chosen by an earlier
// strategy is replaced by the next-best candidate of the later one.
// Rounding drift is reconciled in strategy order: overflow trims the
// later strategies, shortfall tops up from the remaining candidates of
// strategies with a positive fraction. Fewer reachable records than
// requested is a partial result, not an error.
func (s *Sampler) Select(ctx context.Context, req Request) (*Result, error) {
	if req.TotalN <= 0 {
		return nil, fmt.Errorf("sampler: total must be positive, got %d", req.TotalN)
	}
	if len(req.Strategies) == 0 {
		return nil, errors.New("sampler: at least one strategy is required")
	}

	var sum float64
	for strat, frac := range req.Strategies {
		if !strat.Valid() {
			return nil, fmt.Errorf("sampler: unknown strategy %q", strat)
		}
		if frac < 0 {
			return nil, fmt.Errorf("sampler: negative fraction %v for strategy %s", frac, strat)
		}
		sum += frac
	}
	if math.Abs(sum-1) > s.opts.Epsilon {
		return nil, fmt.Errorf("sampler: strategy fractions sum to %v, want 1", sum)
	}

	built, err := s.index.HasIndex(ctx, req.Namespace)
	if err != nil {
		return nil, fmt.Errorf("sampler: check index: %w", err)
	}
	if !built {
		return nil, ErrIndexNotBuilt
	}

	// The outlier strategy needs a prior drift run. The check runs
	// against the whole namespace, not the filtered pool, since the
	// prerequisite is the job itself.
	if req.Strategies[model.StrategyClusterOutlier] > 0 {
		scored := true
		rows, err := s.store.Fetch(ctx, req.Namespace, store.Where{Scored: &scored}, 1)
		if err != nil {
			return nil, fmt.Errorf("sampler: check drift scores: %w", err)
		}
		if len(rows) == 0 {
			return nil, ErrNoDriftScores
		}
	}

	where := req.Where
	if where.IsZero() {
		where.DatasetLabel = model.DatasetInference
	}

	pool, err := s.store.Fetch(ctx, req.Namespace, where, 0)
	if err != nil {
		return nil, fmt.Errorf("sampler: fetch eligible rows: %w", err)
	}

	rankings := make(map[model.Strategy][]string, len(req.Strategies))
	for strat := range req.Strategies {
		rankings[strat] = buildRanking(strat, pool, req.Seed)
	}

	selected := make(map[string]bool, req.TotalN)
	selections := make([]model.SampleSelection, 0, req.TotalN)

	take := func(strat model.Strategy, want int) {
		for rank, id := range rankings[strat] {
			if want <= 0 || len(selections) >= req.TotalN {
				return
			}
			if selected[id] {
				continue
			}
			selected[id] = true
			selections = append(selections, model.SampleSelection{
				UUID:     id,
				Strategy: strat,
				Rank:     rank,
			})
			want--
		}
	}

	for _, strat := range strategyOrder {
		frac, ok := req.Strategies[strat]
		if !ok || frac == 0 {
			continue
		}
		take(strat, int(math.Round(float64(req.TotalN)*frac)))
	}

	if len(selections) < req.TotalN {
		for _, strat := range strategyOrder {
			if req.Strategies[strat] == 0 {
				continue
			}
			take(strat, req.TotalN-len(selections))
			if len(selections) >= req.TotalN {
				break
			}
		}
	}

	return &Result{
		Namespace:  req.Namespace,
		Selections: selections,
	}, nil
}

// buildRanking returns the strategy's candidates best-first. Records a
// strategy cannot rank (no confidences, no margin, no drift score) are
// left to the other strategies. Ties break on UUID so rankings do not
// depend on store iteration order.
func buildRanking(strat model.Strategy, pool []model.EmbeddingRecord, seed int64) []string {
	type candidate struct {
		id  string
		key float64
	}

	var cands []candidate

	switch strat {
	case model.StrategyActivationUncertainty:
		for _, rec := range pool {
			if len(rec.Confidences) == 0 {
				continue
			}
			cands = append(cands, candidate{id: rec.UUID, key: maxConfidence(rec.Confidences)})
		}

	case model.StrategyBoundaryUncertainty:
		for _, rec := range pool {
			if len(rec.Confidences) < 2 {
				continue
			}
			first, second := topTwoConfidences(rec.Confidences)
			cands = append(cands, candidate{id: rec.UUID, key: first - second})
		}

	case model.StrategyClusterOutlier:
		// Drift scores are Mahalanobis distances within the record's own
		// predicted class, so ranking them globally compares like with
		// like. Highest first.
		for _, rec := range pool {
			if rec.Derived.DistanceScore == nil {
				continue
			}
			cands = append(cands, candidate{id: rec.UUID, key: -float64(*rec.Derived.DistanceScore)})
		}

	case model.StrategyRandom:
		ids := make([]string, 0, len(pool))
		for _, rec := range pool {
			ids = append(ids, rec.UUID)
		}
		// Sorting before the shuffle makes the draw a function of the
		// pool's contents and the seed alone.
		sort.Strings(ids)
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(ids), func(i, j int) {
			ids[i], ids[j] = ids[j], ids[i]
		})
		return ids

	default:
		return nil
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].key != cands[j].key {
			return cands[i].key < cands[j].key
		}
		return cands[i].id < cands[j].id
	})

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

func maxConfidence(conf map[string]float32) float64 {
	var maxC float32
	for _, c := range conf {
		if c > maxC {
			maxC = c
		}
	}
	return float64(maxC)
}

// topTwoConfidences returns the two highest confidences.
func topTwoConfidences(conf map[string]float32) (float64, float64) {
	var first, second float32
	for _, c := range conf {
		switch {
		case c > first:
			second = first
			first = c
		case c > second:
			second = c
		}
	}
	return float64(first), float64(second)
}
