package index

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

var (
	// ErrInvalidK is returned when a query asks for a non-positive number
	// of neighbors.
	ErrInvalidK = errors.New("index: k must be positive")

	// ErrEmptyVector is returned when an item or query carries no vector.
	ErrEmptyVector = errors.New("index: vector must not be empty")

	// ErrZeroVector is returned when a zero-norm vector meets a metric
	// that requires normalization.
	ErrZeroVector = errors.New("index: zero-norm vector cannot be normalized")

	// ErrNotBuilt is returned by Query when the namespace has no built
	// index. Callers decide whether that is an error or a "build first"
	// signal.
	ErrNotBuilt = errors.New("index: namespace has no built index")

	// ErrClosed is returned for operations on a closed index.
	ErrClosed = errors.New("index: closed")
)

// Item is one indexable embedding.
type Item struct {
	UUID   string
	Vector []float32
}

// Match is a single query hit. Distance is metric-dependent but always
// orders candidates ascending, nearest first.
type Match struct {
	UUID     string
	Distance float32
}

// Index searches embeddings per namespace. Implementations are rebuild
// oriented: Build replaces the namespace's index from a full snapshot, and
// DeleteIDs is best-effort pruning in between rebuilds.
type Index interface {
	// Build replaces any previous index for the namespace with one built
	// from items. Building with no items yields an empty but existing
	// index.
	Build(ctx context.Context, namespace string, items []Item) error

	// Query returns up to k matches ordered by non-decreasing distance.
	// allowed == nil means unrestricted; a non-nil slice restricts
	// candidates to that uuid set.
	Query(ctx context.Context, namespace string, vector []float32, k int, allowed []string) ([]Match, error)

	// DeleteIDs removes uuids from the namespace's index. Implementations
	// may keep stale vectors until the next Build as long as the uuids
	// never surface in query results.
	DeleteIDs(ctx context.Context, namespace string, uuids []string) error

	// DeleteNamespace drops the namespace's index entirely, including any
	// persisted snapshot.
	DeleteNamespace(ctx context.Context, namespace string) error

	// HasIndex reports whether the namespace currently has a built index.
	HasIndex(ctx context.Context, namespace string) (bool, error)

	// SetPersistenceDir enables snapshot persistence under dir and loads
	// any snapshots already present.
	SetPersistenceDir(dir string) error

	Close() error
}
