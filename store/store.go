package store

import (
	"context"
	"errors"

	"github.com/hupe1980/embedspace/model"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrRawQueryUnsupported is returned by backends that cannot execute
	// backend-native queries.
	ErrRawQueryUnsupported = errors.New("store: raw query not supported by this backend")
)

// Store is the metadata store contract.
//
// Implementations must be safe for concurrent use. Namespaces spring into
// existence on first Add; operations on unknown namespaces succeed with
// empty results (namespace existence is tracked by the engine, not the
// store).
type Store interface {
	// Add persists the given records under namespace, assigns each a fresh
	// UUID, and returns the UUIDs in input order.
	Add(ctx context.Context, namespace string, records []model.EmbeddingRecord) ([]string, error)

	// Fetch returns records of namespace matching where, in stable
	// (insertion) order. limit <= 0 means no limit.
	Fetch(ctx context.Context, namespace string, where Where, limit int) ([]model.EmbeddingRecord, error)

	// GetByIDs returns the records with the given UUIDs, preserving id
	// order. Missing UUIDs are skipped, not an error.
	GetByIDs(ctx context.Context, namespace string, ids []string) ([]model.EmbeddingRecord, error)

	// Delete removes records matching ids and/or where and returns the
	// number removed. Both selectors empty deletes nothing; wiping a whole
	// namespace goes through Reset.
	Delete(ctx context.Context, namespace string, ids []string, where Where) (int, error)

	// Count returns the number of records in namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// UpdateDerived overwrites the derived metadata of the given records.
	// UUIDs that no longer exist are skipped; scoring runs tolerate records
	// deleted underneath them.
	UpdateDerived(ctx context.Context, namespace string, derived map[string]model.DerivedMetadata) error

	// Namespaces lists namespaces that currently hold at least one record.
	Namespaces(ctx context.Context) ([]string, error)

	// Reset removes every record of namespace. Resetting an absent
	// namespace is a no-op.
	Reset(ctx context.Context, namespace string) error

	// RawQuery executes a backend-native query and returns generic rows.
	// Backends without a query language return ErrRawQueryUnsupported.
	RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	Close() error
}
