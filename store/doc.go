// Package store defines the metadata store contract: the authoritative,
// persistent home of embedding records.
//
// The store owns record identity. UUIDs are assigned on Add and returned in
// input order; identifiers supplied on input records are ignored. All reads
// hand out deep copies so callers cannot mutate shared state.
//
// Two implementations ship with embedspace:
//
//   - Memory: mutex-guarded in-memory store, insertion-ordered
//   - sqlitestore.Store: SQLite-backed store (modernc.org/sqlite, cgo-free)
//
// The index is derived state; only the store is authoritative. Rebuilding an
// index replays the store's current rows.
package store
