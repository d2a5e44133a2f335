package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/embedspace/model"
)

// Compile time check to ensure Memory satisfies the Store interface.
var _ Store = (*Memory)(nil)

// Memory is an in-memory Store. Records are held per namespace in insertion
// order so fetches are deterministic.
type Memory struct {
	mu     sync.RWMutex
	spaces map[string]*memorySpace
	closed bool
}

type memorySpace struct {
	order   []string
	records map[string]model.EmbeddingRecord
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		spaces: make(map[string]*memorySpace),
	}
}

func (m *Memory) space(namespace string) *memorySpace {
	sp, ok := m.spaces[namespace]
	if !ok {
		sp = &memorySpace{records: make(map[string]model.EmbeddingRecord)}
		m.spaces[namespace] = sp
	}
	return sp
}

// Add implements Store.
func (m *Memory) Add(ctx context.Context, namespace string, records []model.EmbeddingRecord) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	sp := m.space(namespace)
	ids := make([]string, 0, len(records))
	now := time.Now().UTC()

	for _, rec := range records {
		cp := rec.Clone()
		cp.UUID = uuid.NewString()
		cp.Namespace = namespace
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		sp.records[cp.UUID] = cp
		sp.order = append(sp.order, cp.UUID)
		ids = append(ids, cp.UUID)
	}

	return ids, nil
}

// Fetch implements Store.
func (m *Memory) Fetch(ctx context.Context, namespace string, where Where, limit int) ([]model.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	sp, ok := m.spaces[namespace]
	if !ok {
		return nil, nil
	}

	var out []model.EmbeddingRecord
	for _, id := range sp.order {
		rec, ok := sp.records[id]
		if !ok || !where.Matches(rec) {
			continue
		}
		out = append(out, rec.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

// GetByIDs implements Store.
func (m *Memory) GetByIDs(ctx context.Context, namespace string, ids []string) ([]model.EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	sp, ok := m.spaces[namespace]
	if !ok {
		return nil, nil
	}

	out := make([]model.EmbeddingRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := sp.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}

	return out, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, namespace string, ids []string, where Where) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	sp, ok := m.spaces[namespace]
	if !ok {
		return 0, nil
	}

	if len(ids) == 0 && where.IsZero() {
		return 0, nil
	}

	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if rec, ok := sp.records[id]; ok && where.Matches(rec) {
			doomed[id] = true
		}
	}
	if len(ids) == 0 {
		for id, rec := range sp.records {
			if where.Matches(rec) {
				doomed[id] = true
			}
		}
	}

	if len(doomed) == 0 {
		return 0, nil
	}

	for id := range doomed {
		delete(sp.records, id)
	}
	kept := sp.order[:0]
	for _, id := range sp.order {
		if !doomed[id] {
			kept = append(kept, id)
		}
	}
	sp.order = kept

	if len(sp.records) == 0 {
		delete(m.spaces, namespace)
	}

	return len(doomed), nil
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	sp, ok := m.spaces[namespace]
	if !ok {
		return 0, nil
	}

	return len(sp.records), nil
}

// UpdateDerived implements Store.
func (m *Memory) UpdateDerived(ctx context.Context, namespace string, derived map[string]model.DerivedMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	sp, ok := m.spaces[namespace]
	if !ok {
		return nil
	}

	for id, d := range derived {
		rec, ok := sp.records[id]
		if !ok {
			continue
		}
		if d.DistanceScore != nil {
			score := *d.DistanceScore
			d.DistanceScore = &score
		}
		rec.Derived = d
		sp.records[id] = rec
	}

	return nil
}

// Namespaces implements Store.
func (m *Memory) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make([]string, 0, len(m.spaces))
	for ns := range m.spaces {
		out = append(out, ns)
	}

	return out, nil
}

// Reset implements Store.
func (m *Memory) Reset(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.spaces, namespace)

	return nil
}

// RawQuery implements Store. The memory backend has no query language.
func (m *Memory) RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return nil, ErrRawQueryUnsupported
}

// Close implements Store. Close is idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.spaces = make(map[string]*memorySpace)

	return nil
}
