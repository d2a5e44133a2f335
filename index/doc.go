// Package index defines the per-namespace vector index contract and hosts
// its implementations.
//
// Two implementations are provided:
//
//   - exact: brute-force search with roaring candidate bitmaps. 100%
//     recall, predictable latency up to a few hundred thousand vectors per
//     namespace, and compressed snapshots for fast restarts.
//   - annoy: approximate search on Annoy trees for larger namespaces where
//     exact scanning is too slow.
//
// Indexes are rebuild oriented: ingestion never touches them, a Build call
// constructs the namespace's index from a full snapshot of the metadata
// store, and deletions between builds only mask ids. This keeps the index
// an expendable derived artifact; the metadata store stays authoritative.
package index
