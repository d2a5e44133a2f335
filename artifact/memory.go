package artifact

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/embedspace/model"
)

// Memory is an in-memory artifact store. It is safe for concurrent use and
// is the default when no persistence directory is configured.
type Memory struct {
	mu     sync.RWMutex
	gens   map[string]uint64
	stats  map[string]map[string]model.ClassStatistic
	proj   map[string][]model.ProjectionPoint
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory artifact store.
func NewMemory() *Memory {
	return &Memory{
		gens:  make(map[string]uint64),
		stats: make(map[string]map[string]model.ClassStatistic),
		proj:  make(map[string][]model.ProjectionPoint),
	}
}

func (m *Memory) NextGeneration(ctx context.Context, namespace string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	m.gens[namespace]++
	return m.gens[namespace], nil
}

func (m *Memory) PutClassStats(ctx context.Context, namespace string, stats []model.ClassStatistic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	byLabel := m.stats[namespace]
	if byLabel == nil {
		byLabel = make(map[string]model.ClassStatistic, len(stats))
		m.stats[namespace] = byLabel
	}
	for _, s := range stats {
		byLabel[s.Label] = cloneStat(s)
	}
	return nil
}

func (m *Memory) ClassStats(ctx context.Context, namespace string) ([]model.ClassStatistic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	byLabel := m.stats[namespace]
	if len(byLabel) == 0 {
		return nil, nil
	}

	out := make([]model.ClassStatistic, 0, len(byLabel))
	for _, s := range byLabel {
		out = append(out, cloneStat(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (m *Memory) PutProjection(ctx context.Context, namespace string, points []model.ProjectionPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	// A projection run replaces the previous one wholesale.
	next := make([]model.ProjectionPoint, len(points))
	copy(next, points)
	sort.Slice(next, func(i, j int) bool { return next[i].UUID < next[j].UUID })
	m.proj[namespace] = next
	return nil
}

func (m *Memory) Projection(ctx context.Context, namespace string) ([]model.ProjectionPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	points := m.proj[namespace]
	if len(points) == 0 {
		return nil, nil
	}

	out := make([]model.ProjectionPoint, len(points))
	copy(out, points)
	return out, nil
}

func (m *Memory) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.gens, namespace)
	delete(m.stats, namespace)
	delete(m.proj, namespace)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
