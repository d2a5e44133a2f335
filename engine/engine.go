package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/index"
	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

// QueryRequest describes one nearest-neighbor query.
type QueryRequest struct {
	// Vector is the query embedding.
	Vector []float32

	// K is the number of neighbors to return. Results may be shorter when
	// fewer admissible candidates exist.
	K int

	// Where restricts candidates to records matching the filter before the
	// index is consulted. Records outside the filter are never returned,
	// even when closer in embedding space.
	Where store.Where
}

// Options for the coordinator.
type Options struct {
	// Limits bound request inputs.
	Limits ValidationLimits
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Limits: DefaultLimits(),
}

// Coordinator keeps store, index and artifacts of one deployment
// consistent. It registers namespaces on first write and holds one
// RWMutex per namespace: structural operations (Reset, BuildIndex,
// whole-namespace Delete) take the write lock, record mutations take the
// read lock, queries take no lock and observe whatever state is current.
type Coordinator struct {
	opts Options

	store     store.Store
	index     index.Index
	artifacts artifact.Store

	mu         sync.RWMutex
	namespaces map[string]*namespaceState

	builds singleflight.Group
}

// namespaceState is the registration of one namespace.
type namespaceState struct {
	mu sync.RWMutex
}

// New creates a coordinator over the given store and index. The artifact
// store receives the cascade of structural clears; it may be nil, which
// skips that stage.
func New(s store.Store, idx index.Index, artifacts artifact.Store, optFns ...func(o *Options)) (*Coordinator, error) {
	if s == nil {
		return nil, errors.New("engine: store must not be nil")
	}

	if idx == nil {
		return nil, errors.New("engine: index must not be nil")
	}

	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Coordinator{
		opts:       opts,
		store:      s,
		index:      idx,
		artifacts:  artifacts,
		namespaces: make(map[string]*namespaceState),
	}, nil
}

// state returns the namespace's registration. With register set, unknown
// namespaces are registered on the spot. Without it, the store decides:
// a namespace that holds records (a coordinator reopened over a persistent
// store) registers lazily, anything else is a MissingNamespaceError.
func (c *Coordinator) state(ctx context.Context, namespace string, register bool) (*namespaceState, error) {
	c.mu.RLock()
	st, ok := c.namespaces[namespace]
	c.mu.RUnlock()

	if ok {
		return st, nil
	}

	if !register {
		n, err := c.store.Count(ctx, namespace)
		if err != nil {
			return nil, fmt.Errorf("engine: count %q: %w", namespace, err)
		}

		if n == 0 {
			return nil, &MissingNamespaceError{Namespace: namespace}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.namespaces[namespace]; ok {
		return st, nil
	}

	st = &namespaceState{}
	c.namespaces[namespace] = st

	return st, nil
}

// Add validates and broadcasts the request columns, persists the expanded
// records and returns their store-assigned uuids in input order. The index
// is not touched; it reflects the new records after the next BuildIndex.
func (c *Coordinator) Add(ctx context.Context, namespace string, req AddRequest) ([]string, error) {
	records, err := req.expand()
	if err != nil {
		return nil, err
	}

	if c.opts.Limits.MaxBatchSize > 0 && len(records) > c.opts.Limits.MaxBatchSize {
		return nil, fmt.Errorf("engine: batch size %d exceeds maximum %d", len(records), c.opts.Limits.MaxBatchSize)
	}

	dim := len(records[0].Vector)
	for i, rec := range records {
		if err := validateVector(rec.Vector, dim, c.opts.Limits); err != nil {
			return nil, fmt.Errorf("engine: record %d: %w", i, err)
		}

		if !rec.DatasetLabel.Valid() {
			return nil, fmt.Errorf("engine: record %d: unknown dataset label %q", i, rec.DatasetLabel)
		}
	}

	st, err := c.state(ctx, namespace, true)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	ids, err := c.store.Add(ctx, namespace, records)
	if err != nil {
		return nil, fmt.Errorf("engine: add records: %w", err)
	}

	return ids, nil
}

// Delete removes records by ids and/or filter and prunes the deleted uuids
// from the index, so queries never return them even before the next
// rebuild. Both selectors empty wipes the whole namespace structurally,
// including its index and artifacts. Returns the number of records
// removed from the store.
func (c *Coordinator) Delete(ctx context.Context, namespace string, ids []string, where store.Where) (int, error) {
	st, err := c.state(ctx, namespace, true)
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 && where.IsZero() {
		st.mu.Lock()
		defer st.mu.Unlock()

		n, err := c.store.Count(ctx, namespace)
		if err != nil {
			return 0, fmt.Errorf("engine: count %q: %w", namespace, err)
		}

		if err := c.clear(ctx, namespace); err != nil {
			return 0, err
		}

		return n, nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	// Resolve the filter to concrete uuids first so the index can be
	// pruned by id afterwards.
	doomed := ids
	if !where.IsZero() {
		matched, err := c.store.Fetch(ctx, namespace, where, 0)
		if err != nil {
			return 0, fmt.Errorf("engine: resolve filter: %w", err)
		}

		doomed = make([]string, 0, len(matched))

		if len(ids) == 0 {
			for _, rec := range matched {
				doomed = append(doomed, rec.UUID)
			}
		} else {
			want := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				want[id] = struct{}{}
			}

			for _, rec := range matched {
				if _, ok := want[rec.UUID]; ok {
					doomed = append(doomed, rec.UUID)
				}
			}
		}
	}

	if len(doomed) == 0 {
		return 0, nil
	}

	n, err := c.store.Delete(ctx, namespace, doomed, store.Where{})
	if err != nil {
		return 0, fmt.Errorf("engine: delete records: %w", err)
	}

	if err := c.index.DeleteIDs(ctx, namespace, doomed); err != nil {
		return n, fmt.Errorf("engine: prune index: %w", err)
	}

	return n, nil
}

// Reset brings the namespace to the canonical empty state: no store rows,
// no index, no artifacts. It is idempotent and reaches that state from any
// starting point. A failure partway returns a ResetError naming the failed
// stage; retrying completes the remainder.
func (c *Coordinator) Reset(ctx context.Context, namespace string) error {
	st, err := c.state(ctx, namespace, true)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return c.clear(ctx, namespace)
}

// clear runs the staged structural wipe. Callers hold the namespace write
// lock.
func (c *Coordinator) clear(ctx context.Context, namespace string) error {
	if err := c.store.Reset(ctx, namespace); err != nil {
		return &ResetError{Namespace: namespace, Stage: "store", Err: err}
	}

	if err := c.index.DeleteNamespace(ctx, namespace); err != nil {
		return &ResetError{Namespace: namespace, Stage: "index", Err: err}
	}

	if c.artifacts != nil {
		if err := c.artifacts.DeleteNamespace(ctx, namespace); err != nil {
			return &ResetError{Namespace: namespace, Stage: "artifacts", Err: err}
		}
	}

	return nil
}

// BuildIndex rebuilds the namespace's index from the current store
// contents. The snapshot is read under the exclusive namespace lock, so a
// build never observes a half-applied structural operation; an empty
// namespace builds an empty index. Concurrent builds of one namespace
// coalesce into a single build.
func (c *Coordinator) BuildIndex(ctx context.Context, namespace string) error {
	_, err, _ := c.builds.Do(namespace, func() (any, error) {
		return nil, c.rebuild(ctx, namespace)
	})

	return err
}

func (c *Coordinator) rebuild(ctx context.Context, namespace string) error {
	st, err := c.state(ctx, namespace, true)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	records, err := c.store.Fetch(ctx, namespace, store.Where{}, 0)
	if err != nil {
		return fmt.Errorf("engine: snapshot %q: %w", namespace, err)
	}

	items := make([]index.Item, len(records))
	for i, rec := range records {
		items[i] = index.Item{UUID: rec.UUID, Vector: rec.Vector}
	}

	if err := c.index.Build(ctx, namespace, items); err != nil {
		return fmt.Errorf("engine: build index for %q: %w", namespace, err)
	}

	return nil
}

// HasIndex reports whether the namespace currently has a built index.
func (c *Coordinator) HasIndex(ctx context.Context, namespace string) (bool, error) {
	return c.index.HasIndex(ctx, namespace)
}

// Query returns up to req.K nearest neighbors of req.Vector, ordered by
// non-decreasing distance. Unknown namespaces are a MissingNamespaceError
// and namespaces without a built index an index.ErrNotBuilt. A non-zero
// filter resolves to the admissible uuid set first; an empty set is an
// ErrEmptyFilterResult. Records deleted since the last build are dropped
// from the result, which may shorten it below k. The store copy of each
// returned record is authoritative.
func (c *Coordinator) Query(ctx context.Context, namespace string, req QueryRequest) ([]model.Neighbor, error) {
	if err := validateVector(req.Vector, 0, c.opts.Limits); err != nil {
		return nil, fmt.Errorf("engine: query vector: %w", err)
	}

	if err := validateK(req.K, c.opts.Limits); err != nil {
		return nil, err
	}

	if _, err := c.state(ctx, namespace, false); err != nil {
		return nil, err
	}

	built, err := c.index.HasIndex(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("engine: check index: %w", err)
	}

	if !built {
		return nil, index.ErrNotBuilt
	}

	var allowed []string
	if !req.Where.IsZero() {
		matched, err := c.store.Fetch(ctx, namespace, req.Where, 0)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve filter: %w", err)
		}

		if len(matched) == 0 {
			return nil, ErrEmptyFilterResult
		}

		allowed = make([]string, len(matched))
		for i, rec := range matched {
			allowed[i] = rec.UUID
		}
	}

	matches, err := c.index.Query(ctx, namespace, req.Vector, req.K, allowed)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.UUID
	}

	records, err := c.store.GetByIDs(ctx, namespace, ids)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch matches: %w", err)
	}

	byID := make(map[string]model.EmbeddingRecord, len(records))
	for _, rec := range records {
		byID[rec.UUID] = rec
	}

	neighbors := make([]model.Neighbor, 0, len(matches))
	for _, m := range matches {
		rec, ok := byID[m.UUID]
		if !ok {
			// Deleted from the store after the last build.
			continue
		}

		neighbors = append(neighbors, model.Neighbor{Record: rec, Distance: m.Distance})
	}

	return neighbors, nil
}
