// Package annoy provides an approximate per-namespace index backed by
// Annoy trees. The metric is fixed to angular distance, which is what the
// backing library builds its trees for.
package annoy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"

	"github.com/hupe1980/embedspace/index"
)

const (
	annSuffix     = ".ann"
	mappingSuffix = ".mapping.json"
)

// Compile time check to ensure Annoy satisfies the index.Index interface.
var _ index.Index = (*Annoy)(nil)

// Options for the annoy index.
type Options struct {
	// NumTrees is the number of trees built per namespace. More trees
	// improve recall at the cost of build time and index size.
	NumTrees int

	// OverFetch multiplies k when results must be post-filtered, either
	// by an allowed set or because ids were pruned since the last build.
	OverFetch int
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	NumTrees:  10,
	OverFetch: 4,
}

// Annoy keeps one immutable tree per namespace. Build replaces the tree
// wholesale; DeleteIDs only drops the uuid mapping, so pruned vectors stay
// in the tree but never surface in results.
type Annoy struct {
	opts Options

	mu     sync.RWMutex
	spaces map[string]*space

	// dir is empty until SetPersistenceDir enables persistence.
	dir string

	closed bool
}

type space struct {
	dim   int
	total int // items in the built tree, including pruned ones
	idx   interfaces.AnnoyIndex[float32, uint32]
	ids   map[string]uint32 // uuid -> tree id
	rev   map[uint32]string // tree id -> uuid, absence marks a pruned id
}

// spaceMapping is the JSON sidecar persisted next to each .ann file. The
// tree file alone cannot recover uuids or the dimension.
type spaceMapping struct {
	Dim     int               `json:"dim"`
	KeyToID map[string]uint32 `json:"key_to_id"`
	IDToKey map[uint32]string `json:"id_to_key"`
}

// New creates an annoy index. It starts memory-only; call
// SetPersistenceDir to enable persistence.
func New(optFns ...func(o *Options)) *Annoy {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NumTrees <= 0 {
		opts.NumTrees = DefaultOptions.NumTrees
	}
	if opts.OverFetch <= 0 {
		opts.OverFetch = DefaultOptions.OverFetch
	}

	return &Annoy{
		opts:   opts,
		spaces: make(map[string]*space),
	}
}

// Build replaces the namespace's tree with one built from items.
func (a *Annoy) Build(ctx context.Context, namespace string, items []index.Item) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return index.ErrClosed
	}

	sp, err := buildSpace(items, a.opts.NumTrees)
	if err != nil {
		return err
	}

	a.spaces[namespace] = sp

	if a.dir != "" {
		if err := a.saveLocked(namespace, sp); err != nil {
			return fmt.Errorf("annoy: persist %q: %w", namespace, err)
		}
	}

	return nil
}

func buildSpace(items []index.Item, numTrees int) (*space, error) {
	sp := &space{
		ids: make(map[string]uint32, len(items)),
		rev: make(map[uint32]string, len(items)),
	}

	if len(items) == 0 {
		return sp, nil
	}

	sp.dim = len(items[0].Vector)
	if sp.dim == 0 {
		return nil, index.ErrEmptyVector
	}

	idx := builder.Index[float32, uint32]().
		AngularDistance(sp.dim).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()

	for i, item := range items {
		if len(item.Vector) == 0 {
			return nil, index.ErrEmptyVector
		}

		if len(item.Vector) != sp.dim {
			return nil, &index.ErrDimensionMismatch{Expected: sp.dim, Actual: len(item.Vector)}
		}

		if _, ok := sp.ids[item.UUID]; ok {
			return nil, fmt.Errorf("annoy: duplicate uuid %q", item.UUID)
		}

		id := uint32(i)
		sp.ids[item.UUID] = id
		sp.rev[id] = item.UUID
		idx.AddItem(id, item.Vector)
	}

	idx.Build(numTrees, -1)

	sp.idx = idx
	sp.total = len(items)

	return sp, nil
}

// Query returns up to k matches by angular distance. Results are
// approximate: with an allowed filter or pruned ids the search over-fetches
// by OverFetch, which keeps recall high but cannot guarantee k hits.
func (a *Annoy) Query(ctx context.Context, namespace string, vector []float32, k int, allowed []string) ([]index.Match, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
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

	sp, ok := a.spaces[namespace]
	if !ok {
		return nil, index.ErrNotBuilt
	}

	if sp.total == 0 || len(sp.ids) == 0 {
		return nil, nil
	}

	if len(vector) != sp.dim {
		return nil, &index.ErrDimensionMismatch{Expected: sp.dim, Actual: len(vector)}
	}

	var allowedSet map[uint32]struct{}
	if allowed != nil {
		allowedSet = make(map[uint32]struct{}, len(allowed))
		for _, uuid := range allowed {
			if id, ok := sp.ids[uuid]; ok {
				allowedSet[id] = struct{}{}
			}
		}

		if len(allowedSet) == 0 {
			return nil, nil
		}
	}

	n := k
	if allowedSet != nil || len(sp.ids) < sp.total {
		n = k * a.opts.OverFetch
	}
	if n > sp.total {
		n = sp.total
	}

	searchCtx := sp.idx.CreateContext()
	nnIDs, distances := sp.idx.GetNnsByVector(vector, n, -1, searchCtx)

	matches := make([]index.Match, 0, k)

	for i, id := range nnIDs {
		uuid, ok := sp.rev[id]
		if !ok {
			continue // pruned since the last build
		}

		if allowedSet != nil {
			if _, ok := allowedSet[id]; !ok {
				continue
			}
		}

		var d float32
		if i < len(distances) {
			d = distances[i]
		}

		matches = append(matches, index.Match{UUID: uuid, Distance: d})
		if len(matches) == k {
			break
		}
	}

	return matches, nil
}

// DeleteIDs drops the uuid mapping for the given ids. The vectors stay in
// the tree until the next Build but can no longer surface in results.
func (a *Annoy) DeleteIDs(ctx context.Context, namespace string, uuids []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return index.ErrClosed
	}

	sp, ok := a.spaces[namespace]
	if !ok {
		return nil
	}

	for _, uuid := range uuids {
		if id, ok := sp.ids[uuid]; ok {
			delete(sp.ids, uuid)
			delete(sp.rev, id)
		}
	}

	return nil
}

// DeleteNamespace drops the namespace's tree and its persisted files.
func (a *Annoy) DeleteNamespace(ctx context.Context, namespace string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return index.ErrClosed
	}

	delete(a.spaces, namespace)

	if a.dir != "" {
		base := filepath.Join(a.dir, url.PathEscape(namespace))
		for _, path := range []string{base + annSuffix, base + mappingSuffix} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("annoy: remove %s: %w", path, err)
			}
		}
	}

	return nil
}

// HasIndex reports whether the namespace has a built tree.
func (a *Annoy) HasIndex(_ context.Context, namespace string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return false, index.ErrClosed
	}

	_, ok := a.spaces[namespace]

	return ok, nil
}

// SetPersistenceDir enables persistence under dir and loads any trees
// already present. Namespaces already built in memory are kept.
func (a *Annoy) SetPersistenceDir(dir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return index.ErrClosed
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("annoy: create persistence dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("annoy: read persistence dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, mappingSuffix) {
			continue
		}

		namespace, err := url.PathUnescape(strings.TrimSuffix(name, mappingSuffix))
		if err != nil {
			return fmt.Errorf("annoy: bad mapping name %q: %w", name, err)
		}

		if _, ok := a.spaces[namespace]; ok {
			continue
		}

		sp, err := loadSpace(dir, strings.TrimSuffix(name, mappingSuffix))
		if err != nil {
			return fmt.Errorf("annoy: load %q: %w", namespace, err)
		}
		if sp == nil {
			continue // torn write, rebuild will replace it
		}

		a.spaces[namespace] = sp
	}

	a.dir = dir

	return nil
}

func (a *Annoy) saveLocked(namespace string, sp *space) error {
	base := filepath.Join(a.dir, url.PathEscape(namespace))

	if sp.idx != nil {
		if err := sp.idx.Save(base + annSuffix); err != nil {
			return fmt.Errorf("save tree: %w", err)
		}
	} else {
		if err := os.Remove(base + annSuffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale tree: %w", err)
		}
	}

	data, err := json.Marshal(spaceMapping{
		Dim:     sp.dim,
		KeyToID: sp.ids,
		IDToKey: sp.rev,
	})
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	if err := os.WriteFile(base+mappingSuffix, data, 0o644); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}

	return nil
}

func loadSpace(dir, base string) (*space, error) {
	data, err := os.ReadFile(filepath.Join(dir, base+mappingSuffix))
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}

	var mapping spaceMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("unmarshal mapping: %w", err)
	}

	sp := &space{
		dim:   mapping.Dim,
		total: len(mapping.KeyToID),
		ids:   mapping.KeyToID,
		rev:   mapping.IDToKey,
	}
	if sp.ids == nil {
		sp.ids = make(map[string]uint32)
	}
	if sp.rev == nil {
		sp.rev = make(map[uint32]string)
	}

	if sp.total == 0 {
		return sp, nil
	}

	annPath := filepath.Join(dir, base+annSuffix)
	if _, err := os.Stat(annPath); os.IsNotExist(err) {
		return nil, nil
	}

	idx := builder.Index[float32, uint32]().
		AngularDistance(sp.dim).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()

	if err := idx.Load(annPath); err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}

	sp.idx = idx

	return sp, nil
}

// Close marks the index closed.
func (a *Annoy) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true

	return nil
}
