// Package exact provides a brute-force per-namespace index with optional
// compressed snapshot persistence.
package exact

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/embedspace/blobstore"
	"github.com/hupe1980/embedspace/distance"
	"github.com/hupe1980/embedspace/index"
	"github.com/hupe1980/embedspace/queue"
)

// Compile time check to ensure Exact satisfies the index.Index interface.
var _ index.Index = (*Exact)(nil)

// Options for the exact index.
type Options struct {
	// Metric is the distance metric used for ranking.
	Metric distance.Metric

	// Compression selects the snapshot block compression.
	Compression CompressionType

	// BlockSize is the snapshot compression block size in bytes.
	BlockSize int
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Metric:      distance.MetricL2,
	Compression: CompressionZSTD,
	BlockSize:   256 * 1024,
}

// Exact is a brute-force index. Build replaces a namespace's vectors
// wholesale and queries scan every live vector, so results are never
// approximate.
//
// State is copy-on-write: readers load an immutable snapshot from an
// atomic.Value and never block, while writeMu serializes mutations.
type Exact struct {
	opts Options

	state   atomic.Value // holds *indexState
	writeMu sync.Mutex   // serializes writers only, readers are lock-free

	// store is nil until SetPersistenceDir enables snapshots.
	store blobstore.BlobStore

	closed atomic.Bool
}

// indexState is an immutable snapshot of all namespaces. Mutations replace
// the whole value; namespace entries are shared between snapshots and must
// never be modified in place.
type indexState struct {
	spaces map[string]*namespaceIndex
}

// namespaceIndex holds one namespace's vectors in a flat row-major buffer.
type namespaceIndex struct {
	dim   int
	uuids []string          // internal id -> uuid
	ids   map[string]uint32 // uuid -> internal id
	vecs  []float32         // len(uuids) rows of dim values
	live  *roaring.Bitmap   // ids that may surface in results
}

func (ni *namespaceIndex) vector(id uint32) []float32 {
	off := int(id) * ni.dim
	return ni.vecs[off : off+ni.dim]
}

// New creates an exact index. It starts memory-only; call
// SetPersistenceDir to enable snapshot persistence.
func New(optFns ...func(o *Options)) (*Exact, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if _, _, err := rankers(opts.Metric); err != nil {
		return nil, err
	}

	e := &Exact{opts: opts}
	e.state.Store(&indexState{spaces: make(map[string]*namespaceIndex)})

	return e, nil
}

func (e *Exact) getState() *indexState {
	return e.state.Load().(*indexState)
}

// cloneState shallow-copies the namespace map. Callers replace entries in
// the clone and publish it with state.Store under writeMu.
func (e *Exact) cloneState() *indexState {
	cur := e.getState()

	next := &indexState{spaces: make(map[string]*namespaceIndex, len(cur.spaces))}
	for ns, ni := range cur.spaces {
		next.spaces[ns] = ni
	}

	return next
}

// Build replaces the namespace's index with one built from items. With the
// cosine metric vectors are stored L2-normalized. When persistence is
// enabled the new in-memory index is published first and the snapshot is
// written after, so a snapshot error leaves a queryable index behind.
func (e *Exact) Build(ctx context.Context, namespace string, items []index.Item) error {
	if e.closed.Load() {
		return index.ErrClosed
	}

	ni, err := buildNamespace(items, e.opts.Metric)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	next := e.cloneState()
	next.spaces[namespace] = ni
	e.state.Store(next)

	if e.store != nil {
		if err := saveSnapshot(ctx, e.store, namespace, ni, e.opts); err != nil {
			return fmt.Errorf("exact: persist snapshot for %q: %w", namespace, err)
		}
	}

	return nil
}

func buildNamespace(items []index.Item, metric distance.Metric) (*namespaceIndex, error) {
	ni := &namespaceIndex{
		uuids: make([]string, 0, len(items)),
		ids:   make(map[string]uint32, len(items)),
		live:  roaring.New(),
	}

	if len(items) == 0 {
		return ni, nil
	}

	ni.dim = len(items[0].Vector)
	if ni.dim == 0 {
		return nil, index.ErrEmptyVector
	}

	ni.vecs = make([]float32, 0, len(items)*ni.dim)

	for i, item := range items {
		if len(item.Vector) == 0 {
			return nil, index.ErrEmptyVector
		}

		if len(item.Vector) != ni.dim {
			return nil, &index.ErrDimensionMismatch{Expected: ni.dim, Actual: len(item.Vector)}
		}

		if _, ok := ni.ids[item.UUID]; ok {
			return nil, fmt.Errorf("exact: duplicate uuid %q", item.UUID)
		}

		vec := item.Vector
		if metric == distance.MetricCosine {
			normalized, ok := distance.NormalizeL2Copy(vec)
			if !ok {
				return nil, fmt.Errorf("exact: item %q: %w", item.UUID, index.ErrZeroVector)
			}
			vec = normalized
		}

		id := uint32(i)
		ni.uuids = append(ni.uuids, item.UUID)
		ni.ids[item.UUID] = id
		ni.vecs = append(ni.vecs, vec...)
		ni.live.Add(id)
	}

	return ni, nil
}

// Query scans all live vectors (optionally restricted to allowed uuids)
// and returns up to k matches in non-decreasing distance order.
func (e *Exact) Query(ctx context.Context, namespace string, vector []float32, k int, allowed []string) ([]index.Match, error) {
	if e.closed.Load() {
		return nil, index.ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	if len(vector) == 0 {
		return nil, index.ErrEmptyVector
	}

	ni, ok := e.getState().spaces[namespace]
	if !ok {
		return nil, index.ErrNotBuilt
	}

	if ni.live.IsEmpty() {
		return nil, nil
	}

	if len(vector) != ni.dim {
		return nil, &index.ErrDimensionMismatch{Expected: ni.dim, Actual: len(vector)}
	}

	query := vector
	if e.opts.Metric == distance.MetricCosine {
		normalized, ok := distance.NormalizeL2Copy(vector)
		if !ok {
			return nil, index.ErrZeroVector
		}
		query = normalized
	}

	candidates := ni.live
	if allowed != nil {
		candidates = roaring.New()
		for _, uuid := range allowed {
			if id, ok := ni.ids[uuid]; ok {
				candidates.Add(id)
			}
		}
		candidates.And(ni.live)

		if candidates.IsEmpty() {
			return nil, nil
		}
	}

	rank, finalize, err := rankers(e.opts.Metric)
	if err != nil {
		return nil, err
	}

	topCandidates := queue.NewMax(k)

	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		d := rank(query, ni.vector(id))

		if topCandidates.Len() < k {
			heap.Push(topCandidates, queue.PriorityQueueItem{Node: id, Distance: d})
		} else if d < topCandidates.Top().(queue.PriorityQueueItem).Distance {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, queue.PriorityQueueItem{Node: id, Distance: d})
		}
	}

	matches := make([]index.Match, topCandidates.Len())
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item := heap.Pop(topCandidates).(queue.PriorityQueueItem)
		matches[i] = index.Match{UUID: ni.uuids[item.Node], Distance: finalize(item.Distance)}
	}

	return matches, nil
}

// rankers returns the internal ranking function and the transform applied
// to the ranking value before it is reported.
//
// Ranking always orders ascending: squared L2 for the L2 family (cosine
// vectors are pre-normalized, so squared L2 preserves cosine order) and
// negated dot product for the dot metric. The reported distance is the
// squared L2 for MetricL2, the root for MetricEuclidean, the cosine
// distance (1 - cos) for MetricCosine and the negated dot product for
// MetricDot.
func rankers(m distance.Metric) (distance.Func, func(float32) float32, error) {
	identity := func(d float32) float32 { return d }

	switch m {
	case distance.MetricL2:
		return distance.SquaredL2, identity, nil
	case distance.MetricEuclidean:
		return distance.SquaredL2, func(d float32) float32 {
			return float32(math.Sqrt(float64(d)))
		}, nil
	case distance.MetricCosine:
		// For unit vectors |a-b|^2 == 2*(1-cos), so halving yields the
		// cosine distance.
		return distance.SquaredL2, func(d float32) float32 { return d / 2 }, nil
	case distance.MetricDot:
		negDot := func(a, b []float32) float32 { return -distance.Dot(a, b) }
		return negDot, identity, nil
	default:
		return nil, nil, fmt.Errorf("exact: unsupported metric: %v", m)
	}
}

// DeleteIDs marks uuids dead in the namespace's index. Vectors stay in the
// flat buffer until the next Build; the live bitmap keeps them out of
// results. The persisted snapshot is not rewritten here, it catches up at
// the next Build.
func (e *Exact) DeleteIDs(ctx context.Context, namespace string, uuids []string) error {
	if e.closed.Load() {
		return index.ErrClosed
	}

	if len(uuids) == 0 {
		return nil
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	cur, ok := e.getState().spaces[namespace]
	if !ok {
		return nil
	}

	live := cur.live.Clone()
	for _, uuid := range uuids {
		if id, ok := cur.ids[uuid]; ok {
			live.Remove(id)
		}
	}

	if live.GetCardinality() == cur.live.GetCardinality() {
		return nil
	}

	next := e.cloneState()
	next.spaces[namespace] = &namespaceIndex{
		dim:   cur.dim,
		uuids: cur.uuids,
		ids:   cur.ids,
		vecs:  cur.vecs,
		live:  live,
	}
	e.state.Store(next)

	return nil
}

// DeleteNamespace drops the namespace's index and its persisted snapshot.
func (e *Exact) DeleteNamespace(ctx context.Context, namespace string) error {
	if e.closed.Load() {
		return index.ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if _, ok := e.getState().spaces[namespace]; ok {
		next := e.cloneState()
		delete(next.spaces, namespace)
		e.state.Store(next)
	}

	if e.store != nil {
		if err := e.store.Delete(ctx, snapshotName(namespace)); err != nil {
			return fmt.Errorf("exact: delete snapshot for %q: %w", namespace, err)
		}
	}

	return nil
}

// HasIndex reports whether the namespace has a built index.
func (e *Exact) HasIndex(_ context.Context, namespace string) (bool, error) {
	if e.closed.Load() {
		return false, index.ErrClosed
	}

	_, ok := e.getState().spaces[namespace]

	return ok, nil
}

// SetPersistenceDir enables snapshot persistence under dir and loads any
// snapshots already present. Loaded namespaces never overwrite ones
// already built in memory.
func (e *Exact) SetPersistenceDir(dir string) error {
	if e.closed.Load() {
		return index.ErrClosed
	}

	store, err := blobstore.NewLocalStore(dir)
	if err != nil {
		return fmt.Errorf("exact: open persistence dir: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	ctx := context.Background()

	loaded, err := loadSnapshots(ctx, store)
	if err != nil {
		return err
	}

	next := e.cloneState()
	for ns, ni := range loaded {
		if _, ok := next.spaces[ns]; !ok {
			next.spaces[ns] = ni
		}
	}
	e.state.Store(next)

	e.store = store

	return nil
}

// Close marks the index closed. It never blocks on in-flight readers;
// they finish against the state snapshot they already hold.
func (e *Exact) Close() error {
	e.closed.Store(true)
	return nil
}
